package inventory

import (
	"context"
	"testing"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, models.ProductOutOfStock, DeriveStatus(models.ProductActive, 0))
	assert.Equal(t, models.ProductOutOfStock, DeriveStatus(models.ProductInactive, 0))
	assert.Equal(t, models.ProductActive, DeriveStatus(models.ProductOutOfStock, 4))
	assert.Equal(t, models.ProductInactive, DeriveStatus(models.ProductInactive, 4))
	assert.Equal(t, models.ProductActive, DeriveStatus(models.ProductActive, 4))
}

func TestApplyDeltaRejectsNegativeStock(t *testing.T) {
	p := models.Product{ID: 9, StockQuantity: 2, Status: models.ProductActive}

	_, err := ApplyDelta(p, -3)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	e, _ := apperr.As(err)
	assert.Equal(t, 3, e.Details["requested"])
	assert.Equal(t, 2, e.Details["available"])
}

func TestAdjustStock(t *testing.T) {
	ms := memstore.New(nil)
	id := ms.SeedProduct(models.Product{SKU: "A", Price: money.New(100), StockQuantity: 3, MinStockLevel: 1})
	ledger := NewLedger()
	ctx := context.Background()

	err := ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, err := ledger.AdjustStock(ctx, tx, Adjustment{ProductID: id, Delta: -3, Reason: ReasonOrder})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Product.StockQuantity)
		assert.Equal(t, models.ProductOutOfStock, res.Product.Status)
		assert.True(t, res.LowStock)
		return nil
	})
	require.NoError(t, err)

	p, _ := ms.Product(id)
	assert.Equal(t, models.ProductOutOfStock, p.Status)

	err = ms.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res, err := ledger.AdjustStock(ctx, tx, Adjustment{ProductID: id, Delta: 5, Reason: ReasonRestock})
		require.NoError(t, err)
		assert.Equal(t, models.ProductActive, res.Product.Status)
		assert.False(t, res.LowStock)
		return nil
	})
	require.NoError(t, err)

	p, _ = ms.Product(id)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Len(t, ms.Movements(id), 2)
}

func TestAdjustManyIsAllOrNothing(t *testing.T) {
	ms := memstore.New(nil)
	a := ms.SeedProduct(models.Product{SKU: "A", Price: money.New(10), StockQuantity: 5})
	b := ms.SeedProduct(models.Product{SKU: "B", Price: money.New(10), StockQuantity: 1})
	ledger := NewLedger()

	err := ms.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.AdjustMany(ctx, tx, []Adjustment{
			{ProductID: a, Delta: -2, Reason: ReasonOrder},
			{ProductID: b, Delta: -2, Reason: ReasonOrder},
		})
		return err
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))

	pa, _ := ms.Product(a)
	pb, _ := ms.Product(b)
	assert.Equal(t, 5, pa.StockQuantity)
	assert.Equal(t, 1, pb.StockQuantity)
	assert.Empty(t, ms.Movements(a))
}

func TestMergeSumsAndSorts(t *testing.T) {
	merged := Merge([]Adjustment{
		{ProductID: 3, Delta: -1},
		{ProductID: 1, Delta: -2},
		{ProductID: 3, Delta: -4},
		{ProductID: 2, Delta: 1},
		{ProductID: 2, Delta: -1},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, int64(1), merged[0].ProductID)
	assert.Equal(t, -2, merged[0].Delta)
	assert.Equal(t, int64(3), merged[1].ProductID)
	assert.Equal(t, -5, merged[1].Delta)
}

func TestCheckAvailability(t *testing.T) {
	ms := memstore.New(nil)
	active := ms.SeedProduct(models.Product{SKU: "A", StockQuantity: 4})
	inactive := ms.SeedProduct(models.Product{SKU: "B", StockQuantity: 4, Status: models.ProductInactive})
	ledger := NewLedger()

	err := ms.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ok, available, err := ledger.CheckAvailability(ctx, tx, active, 4)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 4, available)

		ok, _, err = ledger.CheckAvailability(ctx, tx, active, 5)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, _, err = ledger.CheckAvailability(ctx, tx, inactive, 1)
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = ledger.CheckAvailability(ctx, tx, 999, 1)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		return nil
	})
	require.NoError(t, err)

	p, _ := ms.Product(active)
	assert.Equal(t, 4, p.StockQuantity)
}

func TestEnsureAvailableMergesAndReportsShortfall(t *testing.T) {
	ms := memstore.New(nil)
	pen := ms.SeedProduct(models.Product{SKU: "PEN", StockQuantity: 5})
	ink := ms.SeedProduct(models.Product{SKU: "INK", StockQuantity: 1})
	ledger := NewLedger()

	err := ms.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, ledger.EnsureAvailable(ctx, tx, []Adjustment{
			{ProductID: pen, Delta: -3},
			{ProductID: pen, Delta: -2},
			{ProductID: ink, Delta: 4},
		}))

		err := ledger.EnsureAvailable(ctx, tx, []Adjustment{
			{ProductID: pen, Delta: -3},
			{ProductID: pen, Delta: -3},
		})
		e, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindInsufficientStock, e.Kind)
		assert.Equal(t, 6, e.Details["requested"])
		assert.Equal(t, 5, e.Details["available"])
		return nil
	})
	require.NoError(t, err)

	p, _ := ms.Product(pen)
	assert.Equal(t, 5, p.StockQuantity)
	assert.Empty(t, ms.Movements(pen))
}
