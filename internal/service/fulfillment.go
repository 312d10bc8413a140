package service

import (
	"context"
	"time"

	"fulfillment-service/internal/cashback"
	"fulfillment-service/internal/clock"
	"fulfillment-service/internal/discount"
	"fulfillment-service/internal/inventory"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Emitter delivers notifications. Delivery is best effort: the service logs
// failures and never rolls back because of them.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// IdempotencyCache remembers which order an idempotency key produced.
type IdempotencyCache interface {
	GetOrderID(ctx context.Context, key string) (int64, bool, error)
	SetOrderID(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// Locker hands out a lock shared by every replica of the service.
type Locker interface {
	// AcquireLock returns acquired=false when someone else holds key.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Config holds the business settings of the service.
type Config struct {
	CashbackPercent          decimal.Decimal
	CashbackExpiry           time.Duration
	SellerDiscountCapPercent int64
	DeliveryFee              decimal.Decimal
	IdempotencyTTL           time.Duration
	ExpireLockTTL            time.Duration
}

// DefaultConfig returns the standard business settings.
func DefaultConfig() Config {
	return Config{
		CashbackPercent:          decimal.NewFromInt(2),
		CashbackExpiry:           cashback.DefaultExpiry,
		SellerDiscountCapPercent: discount.DefaultSellerCapPercent,
		DeliveryFee:              decimal.NewFromInt(15000),
		IdempotencyTTL:           24 * time.Hour,
		ExpireLockTTL:            5 * time.Minute,
	}
}

// FulfillmentService coordinates the inventory ledger, cashback ledger,
// discount policy and order aggregate. Every operation runs in one
// transaction; notifications go out only after it commits.
//
// Row locks are always taken order first, then products in ascending id, then
// the customer.
type FulfillmentService struct {
	txm       store.TxManager
	clock     clock.Clock
	inventory *inventory.Ledger
	cashback  *cashback.Ledger
	policy    discount.Policy
	emitter   Emitter
	idem      IdempotencyCache
	locker    Locker
	cfg       Config
	expiry    singleflight.Group
	logger    *zap.Logger
}

// NewFulfillmentService creates the service. idem and locker may be nil, in
// which case idempotency relies on the store alone and expiry runs are only
// single-flighted within this process.
func NewFulfillmentService(
	txm store.TxManager,
	clk clock.Clock,
	emitter Emitter,
	idem IdempotencyCache,
	locker Locker,
	cfg Config,
) *FulfillmentService {
	if clk == nil {
		clk = clock.Real()
	}
	return &FulfillmentService{
		txm:       txm,
		clock:     clk,
		inventory: inventory.NewLedger(),
		cashback:  cashback.NewLedger(clk, cfg.CashbackExpiry),
		policy:    discount.NewPolicy(cfg.SellerDiscountCapPercent),
		emitter:   emitter,
		idem:      idem,
		locker:    locker,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// OrderSummary is an order with its lines and applied discounts.
type OrderSummary struct {
	Order     *models.Order          `json:"order"`
	Items     []models.OrderItem     `json:"items"`
	Discounts []models.OrderDiscount `json:"discounts"`
	// Replayed is set when an idempotency key matched an existing order.
	Replayed bool `json:"replayed,omitempty"`
}

func loadSummary(ctx context.Context, tx store.OrderRepository, o *models.Order) (*OrderSummary, error) {
	items, err := tx.GetOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	discounts, err := tx.GetOrderDiscounts(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &OrderSummary{Order: o, Items: items, Discounts: discounts}, nil
}

func (s *FulfillmentService) emit(ctx context.Context, eventType string, payload any) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(eventType).Inc()
		s.logger.Error("Failed to emit notification",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *FulfillmentService) emitLowStock(ctx context.Context, results []inventory.Result) {
	for _, r := range results {
		if !r.LowStock {
			continue
		}
		s.emit(ctx, models.EventTypeProductLowStock, models.ProductLowStockPayload{
			ProductID:     r.Product.ID,
			StockQuantity: r.Product.StockQuantity,
			MinStockLevel: r.Product.MinStockLevel,
			Status:        r.Product.Status,
		})
	}
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, models.OrderItemData{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return out
}

func stockAdjustments(items []models.OrderItem, sign int, reason string, orderID int64) []inventory.Adjustment {
	adjs := make([]inventory.Adjustment, 0, len(items))
	for _, it := range items {
		id := orderID
		adjs = append(adjs, inventory.Adjustment{
			ProductID: it.ProductID,
			Delta:     sign * it.Quantity,
			Reason:    reason,
			OrderID:   &id,
		})
	}
	return adjs
}
