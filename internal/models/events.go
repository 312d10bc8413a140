package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated         = "order.created"
	EventTypeOrderCancelled       = "order.cancelled"
	EventTypeOrderStatusChanged   = "order.status_changed"
	EventTypeOrderStatusRequested = "order.status_requested"
	EventTypeCashbackEarned       = "cashback.earned"
	EventTypeCashbackExpired      = "cashback.expired"
	EventTypeProductLowStock      = "product.low_stock"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope wraps a payload for the notification topic.
type Envelope struct {
	BaseEvent
	Payload any `json:"payload"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID      int64           `json:"order_id"`
	CustomerID   int64           `json:"customer_id"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	CashbackUsed decimal.Decimal `json:"cashback_used"`
	Items        []OrderItemData `json:"items"`
}

type OrderCancelledPayload struct {
	OrderID          int64           `json:"order_id"`
	CustomerID       int64           `json:"customer_id"`
	Reason           string          `json:"reason"`
	CashbackRestored decimal.Decimal `json:"cashback_restored"`
}

type OrderStatusChangedPayload struct {
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	ActorID    int64       `json:"actor_id"`
}

// OrderStatusRequestedPayload arrives from carriers and operations tooling.
type OrderStatusRequestedPayload struct {
	OrderID int64       `json:"order_id"`
	Status  OrderStatus `json:"status"`
	ActorID int64       `json:"actor_id,omitempty"`
}

type CashbackEarnedPayload struct {
	CustomerID int64           `json:"customer_id"`
	OrderID    int64           `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

type CashbackExpiredPayload struct {
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Batches    int             `json:"batches"`
}

type ProductLowStockPayload struct {
	ProductID     int64         `json:"product_id"`
	StockQuantity int           `json:"stock_quantity"`
	MinStockLevel int           `json:"min_stock_level"`
	Status        ProductStatus `json:"status"`
}

// OrderStatusRequestedEvent is the message consumed from the status topic.
type OrderStatusRequestedEvent struct {
	BaseEvent
	Payload OrderStatusRequestedPayload `json:"payload"`
}
