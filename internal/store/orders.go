package store

import (
	"context"
	"database/sql"

	"fulfillment-service/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, customer_id, seller_id, status, payment_method, delivery_type, total_price,
	discount_applied, cashback_used, delivery_fee, final_price, idempotency_key, cancel_reason,
	delivered_at, created_at, updated_at, deleted_at`

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, seller_id, status, payment_method, delivery_type, total_price,
			discount_applied, cashback_used, delivery_fee, final_price, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		o.CustomerID, o.SellerID, o.Status, o.PaymentMethod, o.DeliveryType, o.TotalPrice,
		o.DiscountApplied, o.CashbackUsed, o.DeliveryFee, o.FinalPrice, o.IdempotencyKey,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return errors.Wrap(err, "insert order")
}

// CreateOrderItem creates a new order item
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, discount_amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountAmount)
	return errors.Wrap(err, "insert order item")
}

// CreateOrderDiscount records an authorized discount
func (t *pgTx) CreateOrderDiscount(ctx context.Context, d *models.OrderDiscount) error {
	query := `
		INSERT INTO order_discounts (order_id, amount, discount_reason_id, applied_by_actor_id, applied_by_role, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := t.tx.GetContext(ctx, &d.ID, query,
		d.OrderID, d.Amount, d.DiscountReasonID, d.AppliedByActorID, d.AppliedByRole, d.AppliedAt)
	return errors.Wrap(err, "insert order discount")
}

// GetOrder retrieves an order by ID
func (t *pgTx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := t.tx.GetContext(ctx, &o,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, notFoundOr(err, "order %d", id)
	}
	return &o, nil
}

// GetOrderForUpdate locks the order row for a guarded transition.
func (t *pgTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := t.tx.GetContext(ctx, &o,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id)
	if err != nil {
		return nil, notFoundOr(err, "order %d", id)
	}
	return &o, nil
}

// GetOrderByIdempotencyKey retrieves a customer's order by idempotency key
func (t *pgTx) GetOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error) {
	var o models.Order
	err := t.tx.GetContext(ctx, &o,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 AND idempotency_key = $2 AND deleted_at IS NULL",
		customerID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order by idempotency key")
	}
	return &o, nil
}

// GetOrderItems retrieves all items for an order
func (t *pgTx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items, `
		SELECT id, order_id, product_id, quantity, unit_price, discount_amount
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	return items, errors.Wrap(err, "select order items")
}

func (t *pgTx) GetOrderDiscounts(ctx context.Context, orderID int64) ([]models.OrderDiscount, error) {
	var discounts []models.OrderDiscount
	err := t.tx.SelectContext(ctx, &discounts, `
		SELECT id, order_id, amount, discount_reason_id, applied_by_actor_id, applied_by_role, applied_at
		FROM order_discounts WHERE order_id = $1 ORDER BY id`, orderID)
	return discounts, errors.Wrap(err, "select order discounts")
}

// UpdateOrder persists the mutable parts of an order after a guarded change.
func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, discount_applied = $2, cashback_used = $3, delivery_fee = $4,
			final_price = $5, cancel_reason = $6, delivered_at = $7, updated_at = NOW()
		WHERE id = $8`,
		o.Status, o.DiscountApplied, o.CashbackUsed, o.DeliveryFee,
		o.FinalPrice, o.CancelReason, o.DeliveredAt, o.ID)
	return errors.Wrapf(err, "update order %d", o.ID)
}

func (t *pgTx) UpdateOrderItemDiscount(ctx context.Context, itemID int64, discount decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE order_items SET discount_amount = $1 WHERE id = $2", discount, itemID)
	return errors.Wrapf(err, "update order item %d", itemID)
}

func (t *pgTx) GetDiscountReason(ctx context.Context, id int64) (*models.DiscountReason, error) {
	var r models.DiscountReason
	err := t.tx.GetContext(ctx, &r, `
		SELECT id, code, description, active, created_at, updated_at, deleted_at
		FROM discount_reasons WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return nil, notFoundOr(err, "discount reason %d", id)
	}
	return &r, nil
}

func (t *pgTx) GetCartItems(ctx context.Context, customerID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := t.tx.SelectContext(ctx, &items, `
		SELECT id, customer_id, product_id, quantity, created_at, updated_at, deleted_at
		FROM cart_items WHERE customer_id = $1 AND deleted_at IS NULL ORDER BY id`, customerID)
	return items, errors.Wrap(err, "select cart items")
}

// ClearCart soft-deletes the customer's cart lines.
func (t *pgTx) ClearCart(ctx context.Context, customerID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE cart_items SET deleted_at = NOW(), updated_at = NOW() WHERE customer_id = $1 AND deleted_at IS NULL",
		customerID)
	return errors.Wrap(err, "clear cart")
}
