package store

import (
	"context"
	"time"

	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
)

// ProductRepository covers the Inventory Ledger's rows.
type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	// GetProductForUpdate locks the product row until the transaction ends.
	GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	UpdateProductStock(ctx context.Context, id int64, quantity int, status models.ProductStatus) error
	InsertStockMovement(ctx context.Context, m *models.StockMovement) error
}

// CustomerRepository holds the per-customer cashback cache row, which doubles
// as the per-customer ledger lock.
type CustomerRepository interface {
	GetCustomerForUpdate(ctx context.Context, id int64) (*models.Customer, error)
	UpdateCashbackBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

// CashbackRepository covers cashback ledger entries.
type CashbackRepository interface {
	// ListEarnedBatches returns all live Earned batches of a customer ordered by
	// expires_at, id.
	ListEarnedBatches(ctx context.Context, customerID int64) ([]models.CashbackTransaction, error)
	// ListUsedByOrder returns Used entries of an order that were not reversed yet.
	ListUsedByOrder(ctx context.Context, orderID int64) ([]models.CashbackTransaction, error)
	GetCashbackTransaction(ctx context.Context, id int64) (*models.CashbackTransaction, error)
	InsertCashbackTransaction(ctx context.Context, t *models.CashbackTransaction) error
	UpdateRemainingAmount(ctx context.Context, id int64, remaining decimal.Decimal) error
	MarkReversed(ctx context.Context, id int64, at time.Time) error
	// ListCustomersWithExpirable returns customers owning an Earned batch with
	// remaining > 0 and expires_at <= cutoff, in ascending id order.
	ListCustomersWithExpirable(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// OrderRepository covers orders, their items and discounts.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	CreateOrderDiscount(ctx context.Context, d *models.OrderDiscount) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	// GetOrderByIdempotencyKey returns (nil, nil) when the customer has no order
	// carrying key. Keys are scoped per customer.
	GetOrderByIdempotencyKey(ctx context.Context, customerID int64, key string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderDiscounts(ctx context.Context, orderID int64) ([]models.OrderDiscount, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	UpdateOrderItemDiscount(ctx context.Context, itemID int64, discount decimal.Decimal) error
	GetDiscountReason(ctx context.Context, id int64) (*models.DiscountReason, error)
}

// CartRepository covers the customer's cart.
type CartRepository interface {
	GetCartItems(ctx context.Context, customerID int64) ([]models.CartItem, error)
	ClearCart(ctx context.Context, customerID int64) error
}

// Tx is one unit of work spanning every aggregate.
type Tx interface {
	ProductRepository
	CustomerRepository
	CashbackRepository
	OrderRepository
	CartRepository
}

// TxManager runs fn inside a transaction: fn returning nil commits, anything
// else rolls every write back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
