package memstore

import (
	"context"
	"sort"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/shopspring/decimal"
)

type memTx struct {
	st     *state
	now    time.Time
	faults map[string]error
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) fault(method string) error {
	return t.faults[method]
}

func (t *memTx) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	if err := t.fault("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := t.st.products[id]
	if !ok || p.IsDeleted() {
		return nil, apperr.NotFound("product %d", id)
	}
	return &p, nil
}

func (t *memTx) GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	if err := t.fault("GetProductForUpdate"); err != nil {
		return nil, err
	}
	return t.GetProduct(ctx, id)
}

func (t *memTx) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	if err := t.fault("GetProductsByIDs"); err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		p, ok := t.st.products[id]
		if !ok || p.IsDeleted() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateProductStock(_ context.Context, id int64, quantity int, status models.ProductStatus) error {
	if err := t.fault("UpdateProductStock"); err != nil {
		return err
	}
	p, ok := t.st.products[id]
	if !ok {
		return apperr.NotFound("product %d", id)
	}
	if quantity < 0 {
		return apperr.Internal(nil, "stock_quantity check violated for product %d", id)
	}
	p.StockQuantity = quantity
	p.Status = status
	p.UpdatedAt = t.now
	t.st.products[id] = p
	return nil
}

func (t *memTx) InsertStockMovement(_ context.Context, m *models.StockMovement) error {
	if err := t.fault("InsertStockMovement"); err != nil {
		return err
	}
	m.ID = t.st.nextID()
	m.CreatedAt = t.now
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *memTx) GetCustomerForUpdate(_ context.Context, id int64) (*models.Customer, error) {
	if err := t.fault("GetCustomerForUpdate"); err != nil {
		return nil, err
	}
	c, ok := t.st.customers[id]
	if !ok || c.IsDeleted() {
		return nil, apperr.NotFound("customer %d", id)
	}
	return &c, nil
}

func (t *memTx) UpdateCashbackBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	if err := t.fault("UpdateCashbackBalance"); err != nil {
		return err
	}
	c, ok := t.st.customers[id]
	if !ok {
		return apperr.NotFound("customer %d", id)
	}
	c.CashbackBalance = balance
	c.UpdatedAt = t.now
	t.st.customers[id] = c
	return nil
}

func (t *memTx) ListEarnedBatches(_ context.Context, customerID int64) ([]models.CashbackTransaction, error) {
	if err := t.fault("ListEarnedBatches"); err != nil {
		return nil, err
	}
	var out []models.CashbackTransaction
	for _, c := range t.st.cashback {
		if c.CustomerID == customerID && c.Type == models.CashbackEarned && !c.IsDeleted() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListUsedByOrder(_ context.Context, orderID int64) ([]models.CashbackTransaction, error) {
	if err := t.fault("ListUsedByOrder"); err != nil {
		return nil, err
	}
	var out []models.CashbackTransaction
	for _, c := range t.st.cashback {
		if c.Type == models.CashbackUsed && c.OrderID != nil && *c.OrderID == orderID &&
			c.ReversedAt == nil && !c.IsDeleted() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetCashbackTransaction(_ context.Context, id int64) (*models.CashbackTransaction, error) {
	if err := t.fault("GetCashbackTransaction"); err != nil {
		return nil, err
	}
	c, ok := t.st.cashback[id]
	if !ok || c.IsDeleted() {
		return nil, apperr.NotFound("cashback transaction %d", id)
	}
	return &c, nil
}

func (t *memTx) InsertCashbackTransaction(_ context.Context, c *models.CashbackTransaction) error {
	if err := t.fault("InsertCashbackTransaction"); err != nil {
		return err
	}
	c.ID = t.st.nextID()
	c.CreatedAt = t.now
	c.UpdatedAt = t.now
	t.st.cashback[c.ID] = *c
	return nil
}

func (t *memTx) UpdateRemainingAmount(_ context.Context, id int64, remaining decimal.Decimal) error {
	if err := t.fault("UpdateRemainingAmount"); err != nil {
		return err
	}
	c, ok := t.st.cashback[id]
	if !ok {
		return apperr.NotFound("cashback transaction %d", id)
	}
	if remaining.Sign() < 0 || remaining.GreaterThan(c.Amount) {
		return apperr.Internal(nil, "remaining_amount check violated for batch %d", id)
	}
	c.RemainingAmount = remaining
	c.UpdatedAt = t.now
	t.st.cashback[id] = c
	return nil
}

func (t *memTx) MarkReversed(_ context.Context, id int64, at time.Time) error {
	if err := t.fault("MarkReversed"); err != nil {
		return err
	}
	c, ok := t.st.cashback[id]
	if !ok {
		return apperr.NotFound("cashback transaction %d", id)
	}
	c.ReversedAt = &at
	c.UpdatedAt = t.now
	t.st.cashback[id] = c
	return nil
}

func (t *memTx) ListCustomersWithExpirable(_ context.Context, cutoff time.Time) ([]int64, error) {
	if err := t.fault("ListCustomersWithExpirable"); err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	var ids []int64
	for _, c := range t.st.cashback {
		if c.Type == models.CashbackEarned && c.RemainingAmount.Sign() > 0 &&
			!c.ExpiresAt.After(cutoff) && !c.IsDeleted() && !seen[c.CustomerID] {
			seen[c.CustomerID] = true
			ids = append(ids, c.CustomerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *models.Order) error {
	if err := t.fault("CreateOrder"); err != nil {
		return err
	}
	if o.IdempotencyKey != nil {
		for _, existing := range t.st.orders {
			if existing.CustomerID == o.CustomerID && existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *o.IdempotencyKey {
				return apperr.Conflict("duplicate idx_orders_customer_idempotency")
			}
		}
	}
	o.ID = t.st.nextID()
	o.CreatedAt = t.now
	o.UpdatedAt = t.now
	t.st.orders[o.ID] = *o
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	if err := t.fault("CreateOrderItem"); err != nil {
		return err
	}
	item.ID = t.st.nextID()
	t.st.items[item.ID] = *item
	return nil
}

func (t *memTx) CreateOrderDiscount(_ context.Context, d *models.OrderDiscount) error {
	if err := t.fault("CreateOrderDiscount"); err != nil {
		return err
	}
	d.ID = t.st.nextID()
	t.st.discounts[d.ID] = *d
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	if err := t.fault("GetOrder"); err != nil {
		return nil, err
	}
	o, ok := t.st.orders[id]
	if !ok || o.IsDeleted() {
		return nil, apperr.NotFound("order %d", id)
	}
	return &o, nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	if err := t.fault("GetOrderForUpdate"); err != nil {
		return nil, err
	}
	return t.GetOrder(ctx, id)
}

func (t *memTx) GetOrderByIdempotencyKey(_ context.Context, customerID int64, key string) (*models.Order, error) {
	if err := t.fault("GetOrderByIdempotencyKey"); err != nil {
		return nil, err
	}
	for _, o := range t.st.orders {
		if o.CustomerID == customerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key && !o.IsDeleted() {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	if err := t.fault("GetOrderItems"); err != nil {
		return nil, err
	}
	var out []models.OrderItem
	for _, it := range t.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *memTx) GetOrderDiscounts(_ context.Context, orderID int64) ([]models.OrderDiscount, error) {
	if err := t.fault("GetOrderDiscounts"); err != nil {
		return nil, err
	}
	var out []models.OrderDiscount
	for _, d := range t.st.discounts {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *models.Order) error {
	if err := t.fault("UpdateOrder"); err != nil {
		return err
	}
	existing, ok := t.st.orders[o.ID]
	if !ok {
		return apperr.NotFound("order %d", o.ID)
	}
	if o.FinalPrice.Sign() < 0 {
		return apperr.Internal(nil, "final_price check violated for order %d", o.ID)
	}
	existing.Status = o.Status
	existing.DiscountApplied = o.DiscountApplied
	existing.CashbackUsed = o.CashbackUsed
	existing.DeliveryFee = o.DeliveryFee
	existing.FinalPrice = o.FinalPrice
	existing.CancelReason = o.CancelReason
	existing.DeliveredAt = o.DeliveredAt
	existing.UpdatedAt = t.now
	t.st.orders[o.ID] = existing
	return nil
}

func (t *memTx) UpdateOrderItemDiscount(_ context.Context, itemID int64, discount decimal.Decimal) error {
	if err := t.fault("UpdateOrderItemDiscount"); err != nil {
		return err
	}
	it, ok := t.st.items[itemID]
	if !ok {
		return apperr.NotFound("order item %d", itemID)
	}
	if discount.Sign() < 0 {
		return apperr.Internal(nil, "discount_amount check violated for order item %d", itemID)
	}
	it.DiscountAmount = discount
	t.st.items[itemID] = it
	return nil
}

func (t *memTx) GetDiscountReason(_ context.Context, id int64) (*models.DiscountReason, error) {
	if err := t.fault("GetDiscountReason"); err != nil {
		return nil, err
	}
	r, ok := t.st.reasons[id]
	if !ok || r.IsDeleted() {
		return nil, apperr.NotFound("discount reason %d", id)
	}
	return &r, nil
}

func (t *memTx) GetCartItems(_ context.Context, customerID int64) ([]models.CartItem, error) {
	if err := t.fault("GetCartItems"); err != nil {
		return nil, err
	}
	var out []models.CartItem
	for _, ci := range t.st.cart {
		if ci.CustomerID == customerID && !ci.IsDeleted() {
			out = append(out, ci)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ClearCart(_ context.Context, customerID int64) error {
	if err := t.fault("ClearCart"); err != nil {
		return err
	}
	for id, ci := range t.st.cart {
		if ci.CustomerID == customerID && !ci.IsDeleted() {
			at := t.now
			ci.DeletedAt = &at
			ci.UpdatedAt = t.now
			t.st.cart[id] = ci
		}
	}
	return nil
}
