package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditInfo is embedded in every persisted entity. Read paths filter on
// deleted_at IS NULL explicitly.
type AuditInfo struct {
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the row was soft-deleted.
func (a AuditInfo) IsDeleted() bool { return a.DeletedAt != nil }

// ProductStatus is derived from stock for Active/OutOfStock; Inactive is set by catalog staff.
type ProductStatus string

const (
	ProductActive     ProductStatus = "Active"
	ProductInactive   ProductStatus = "Inactive"
	ProductOutOfStock ProductStatus = "OutOfStock"
)

// Product is the Inventory Ledger root.
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SellerID      *int64          `db:"seller_id" json:"seller_id,omitempty"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	MinStockLevel int             `db:"min_stock_level" json:"min_stock_level"`
	Status        ProductStatus   `db:"status" json:"status"`
	AuditInfo
}

// StockMovement records one applied stock adjustment.
type StockMovement struct {
	ID            int64     `db:"id" json:"id"`
	ProductID     int64     `db:"product_id" json:"product_id"`
	OrderID       *int64    `db:"order_id" json:"order_id,omitempty"`
	Delta         int       `db:"delta" json:"delta"`
	QuantityAfter int       `db:"quantity_after" json:"quantity_after"`
	Reason        string    `db:"reason" json:"reason"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Customer holds the cached cashback balance. The cache is rewritten on every
// ledger mutation from the live batch sum.
type Customer struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	CashbackBalance decimal.Decimal `db:"cashback_balance" json:"cashback_balance"`
	AuditInfo
}

type CashbackType string

const (
	CashbackEarned  CashbackType = "Earned"
	CashbackUsed    CashbackType = "Used"
	CashbackExpired CashbackType = "Expired"
)

// CashbackTransaction is one ledger entry. Earned entries are batches; Used and
// Expired entries reference their source batch through SourceID.
type CashbackTransaction struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	OrderID         *int64          `db:"order_id" json:"order_id,omitempty"`
	SourceID        *int64          `db:"source_id" json:"source_id,omitempty"`
	Type            CashbackType    `db:"type" json:"type"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	RemainingAmount decimal.Decimal `db:"remaining_amount" json:"remaining_amount"`
	Percentage      decimal.Decimal `db:"percentage" json:"percentage"`
	IsRefund        bool            `db:"is_refund" json:"is_refund"`
	EarnedAt        time.Time       `db:"earned_at" json:"earned_at"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	ReversedAt      *time.Time      `db:"reversed_at" json:"reversed_at,omitempty"`
	AuditInfo
}

// IsAvailable reports whether an Earned batch can still be spent at now.
func (c CashbackTransaction) IsAvailable(now time.Time) bool {
	return c.Type == CashbackEarned && c.RemainingAmount.Sign() > 0 && c.ExpiresAt.After(now)
}

type OrderStatus string

const (
	OrderPending        OrderStatus = "Pending"
	OrderConfirmed      OrderStatus = "Confirmed"
	OrderPreparing      OrderStatus = "Preparing"
	OrderReadyForPickup OrderStatus = "ReadyForPickup"
	OrderShipped        OrderStatus = "Shipped"
	OrderDelivered      OrderStatus = "Delivered"
	OrderCancelled      OrderStatus = "Cancelled"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "Cash"
	PaymentCard     PaymentMethod = "Card"
	PaymentCashback PaymentMethod = "Cashback"
)

type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "Pickup"
	DeliveryDelivery DeliveryType = "Delivery"
)

// Order represents a customer order.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	SellerID        *int64          `db:"seller_id" json:"seller_id,omitempty"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	DeliveryType    DeliveryType    `db:"delivery_type" json:"delivery_type"`
	TotalPrice      decimal.Decimal `db:"total_price" json:"total_price"`
	DiscountApplied decimal.Decimal `db:"discount_applied" json:"discount_applied"`
	CashbackUsed    decimal.Decimal `db:"cashback_used" json:"cashback_used"`
	DeliveryFee     decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	FinalPrice      decimal.Decimal `db:"final_price" json:"final_price"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CancelReason    *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	DeliveredAt     *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	AuditInfo
}

// OrderItem represents items in an order
type OrderItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
}

// LineTotal is unit price times quantity, before discount.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderDiscount is created only after Discount Authorization accepted it.
type OrderDiscount struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	DiscountReasonID int64           `db:"discount_reason_id" json:"discount_reason_id"`
	AppliedByActorID int64           `db:"applied_by_actor_id" json:"applied_by_actor_id"`
	AppliedByRole    string          `db:"applied_by_role" json:"applied_by_role"`
	AppliedAt        time.Time       `db:"applied_at" json:"applied_at"`
}

// DiscountReason is a catalogued justification for a manual discount.
type DiscountReason struct {
	ID          int64  `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description"`
	Active      bool   `db:"active" json:"active"`
	AuditInfo
}

// CartItem is a line in a customer's cart.
type CartItem struct {
	ID         int64 `db:"id" json:"id"`
	CustomerID int64 `db:"customer_id" json:"customer_id"`
	ProductID  int64 `db:"product_id" json:"product_id"`
	Quantity   int   `db:"quantity" json:"quantity"`
	AuditInfo
}
