package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Adjustment reasons recorded on stock movements.
const (
	ReasonOrder   = "order"
	ReasonCancel  = "cancel"
	ReasonRestock = "restock"
)

// Adjustment is one requested change to a product's stock.
type Adjustment struct {
	ProductID int64
	Delta     int
	Reason    string
	OrderID   *int64
}

// Result describes the committed effect of an adjustment.
type Result struct {
	Product  models.Product
	Previous int
	// LowStock is set when the new quantity is at or below MinStockLevel.
	LowStock bool
}

// Ledger owns product stock. It never opens transactions itself: callers hand
// it the unit of work they are running in.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger creates a new inventory ledger
func NewLedger() *Ledger {
	return &Ledger{logger: util.GetLogger()}
}

// InsufficientStock reports that requested units of a product exceed what is on hand.
func InsufficientStock(productID int64, requested, available int) *apperr.Error {
	return apperr.New(apperr.KindInsufficientStock,
		"insufficient stock for product %d: available=%d, requested=%d", productID, available, requested).
		WithDetail("product_id", productID).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

// ApplyDelta computes the product after adding delta. It fails with
// InsufficientStock, leaving p untouched, if stock would go negative.
func ApplyDelta(p models.Product, delta int) (models.Product, error) {
	next := p.StockQuantity + delta
	if next < 0 {
		return p, InsufficientStock(p.ID, -delta, p.StockQuantity)
	}
	p.StockQuantity = next
	p.Status = DeriveStatus(p.Status, next)
	return p, nil
}

// DeriveStatus returns the status implied by a new quantity. Inactive products
// stay Inactive while they hold stock.
func DeriveStatus(current models.ProductStatus, quantity int) models.ProductStatus {
	switch {
	case quantity == 0:
		return models.ProductOutOfStock
	case current == models.ProductOutOfStock:
		return models.ProductActive
	default:
		return current
	}
}

// AdjustStock locks the product row, applies delta and records the movement.
func (l *Ledger) AdjustStock(ctx context.Context, repo store.ProductRepository, adj Adjustment) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.AdjustStock")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockAdjustLatency.Observe(time.Since(start).Seconds())
	}()

	if adj.Delta == 0 {
		return nil, apperr.InvalidField("delta", "must not be zero")
	}

	product, err := repo.GetProductForUpdate(ctx, adj.ProductID)
	if err != nil {
		return nil, err
	}

	updated, err := ApplyDelta(*product, adj.Delta)
	if err != nil {
		util.StockAdjustmentsFailed.WithLabelValues("insufficient_stock").Inc()
		return nil, err
	}

	if err := repo.UpdateProductStock(ctx, updated.ID, updated.StockQuantity, updated.Status); err != nil {
		util.StockAdjustmentsFailed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to adjust stock for product %d: %w", adj.ProductID, err)
	}

	if err := repo.InsertStockMovement(ctx, &models.StockMovement{
		ProductID:     updated.ID,
		OrderID:       adj.OrderID,
		Delta:         adj.Delta,
		QuantityAfter: updated.StockQuantity,
		Reason:        adj.Reason,
	}); err != nil {
		return nil, fmt.Errorf("failed to record stock movement for product %d: %w", adj.ProductID, err)
	}

	if product.Status != updated.Status {
		l.logger.Info("Product status changed",
			zap.Int64("product_id", updated.ID),
			zap.String("from", string(product.Status)),
			zap.String("to", string(updated.Status)))
	}

	return &Result{
		Product:  updated,
		Previous: product.StockQuantity,
		LowStock: updated.StockQuantity <= updated.MinStockLevel,
	}, nil
}

// AdjustMany applies every adjustment or none: the first failure is returned and
// the caller's transaction discards the earlier ones. Adjustments for the same
// product are merged and applied in ascending product order so concurrent
// callers take row locks in the same order.
func (l *Ledger) AdjustMany(ctx context.Context, repo store.ProductRepository, adjs []Adjustment) ([]Result, error) {
	merged := Merge(adjs)
	results := make([]Result, 0, len(merged))
	for _, adj := range merged {
		res, err := l.AdjustStock(ctx, repo, adj)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Merge sums deltas per product and sorts by product ID. Products whose deltas
// cancel out are dropped.
func Merge(adjs []Adjustment) []Adjustment {
	byProduct := map[int64]*Adjustment{}
	for _, a := range adjs {
		if existing, ok := byProduct[a.ProductID]; ok {
			existing.Delta += a.Delta
			continue
		}
		a := a
		byProduct[a.ProductID] = &a
	}
	out := make([]Adjustment, 0, len(byProduct))
	for _, a := range byProduct {
		if a.Delta != 0 {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// EnsureAvailable fails with InsufficientStock for the first consuming
// adjustment that current stock cannot cover. It reads without locking, so
// AdjustMany remains the authoritative check.
func (l *Ledger) EnsureAvailable(ctx context.Context, repo store.ProductRepository, adjs []Adjustment) error {
	for _, adj := range Merge(adjs) {
		if adj.Delta >= 0 {
			continue
		}
		ok, available, err := l.CheckAvailability(ctx, repo, adj.ProductID, -adj.Delta)
		if err != nil {
			return err
		}
		if !ok {
			return InsufficientStock(adj.ProductID, -adj.Delta, available)
		}
	}
	return nil
}

// CheckAvailability reports whether quantity units are on hand. It reserves nothing.
func (l *Ledger) CheckAvailability(ctx context.Context, repo store.ProductRepository, productID int64, quantity int) (bool, int, error) {
	if quantity <= 0 {
		return false, 0, apperr.InvalidField("quantity", "must be greater than zero")
	}
	product, err := repo.GetProduct(ctx, productID)
	if err != nil {
		return false, 0, err
	}
	if product.Status == models.ProductInactive {
		return false, product.StockQuantity, nil
	}
	return product.StockQuantity >= quantity, product.StockQuantity, nil
}
