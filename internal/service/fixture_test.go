package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/clock"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type emitted struct {
	eventType string
	payload   any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, eventType string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{eventType: eventType, payload: payload})
	return e.err
}

func (e *recordingEmitter) ofType(eventType string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []any
	for _, ev := range e.events {
		if ev.eventType == eventType {
			out = append(out, ev.payload)
		}
	}
	return out
}

type mapIdempotency struct {
	mu  sync.Mutex
	ids map[string]int64
}

func (m *mapIdempotency) GetOrderID(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[key]
	return id, ok, nil
}

func (m *mapIdempotency) SetOrderID(_ context.Context, key string, orderID int64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = map[string]int64{}
	}
	m.ids[key] = orderID
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquires int
	err      error
}

func (l *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.acquires++
	return func(context.Context) error {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		return nil
	}, true, nil
}

var errBoom = errors.New("boom")

type fixture struct {
	ms       *memstore.Store
	clk      *clock.Fixed
	emitter  *recordingEmitter
	idem     *mapIdempotency
	locker   *fakeLocker
	svc      *FulfillmentService
	customer int64
	tea      int64
	cup      int64
	reason   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(start)
	ms := memstore.New(clk.Now)
	f := &fixture{
		ms:      ms,
		clk:     clk,
		emitter: &recordingEmitter{},
		idem:    &mapIdempotency{},
		locker:  &fakeLocker{},
	}
	f.customer = ms.SeedCustomer(models.Customer{Name: "Aziz", CashbackBalance: decimal.Zero})
	f.tea = ms.SeedProduct(models.Product{SKU: "TEA", Name: "Green tea", Price: money.New(20000), StockQuantity: 10, MinStockLevel: 2})
	f.cup = ms.SeedProduct(models.Product{SKU: "CUP", Name: "Cup", Price: money.New(30000), StockQuantity: 5, MinStockLevel: 1})
	f.reason = ms.SeedDiscountReason(models.DiscountReason{Code: "LOYAL", Description: "Loyal customer", Active: true})
	f.svc = NewFulfillmentService(ms, clk, f.emitter, f.idem, f.locker, DefaultConfig())
	return f
}

func (f *fixture) customerActor() identity.Actor {
	return identity.Actor{ID: f.customer, Role: identity.RoleCustomer}
}

func (f *fixture) seedCashback(t *testing.T, amount int64, expiresIn time.Duration) int64 {
	t.Helper()
	return f.ms.SeedCashback(models.CashbackTransaction{
		CustomerID:      f.customer,
		Type:            models.CashbackEarned,
		Amount:          money.New(amount),
		RemainingAmount: money.New(amount),
		Percentage:      decimal.NewFromInt(2),
		EarnedAt:        start.Add(-time.Hour),
		ExpiresAt:       start.Add(expiresIn),
	})
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, ok := f.ms.Product(productID)
	require.True(t, ok)
	return p.StockQuantity
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	c, ok := f.ms.Customer(f.customer)
	require.True(t, ok)
	return c.CashbackBalance
}

func (f *fixture) placeOrder(t *testing.T, req *CreateOrderRequest) *OrderSummary {
	t.Helper()
	summary, err := f.svc.CreateOrder(context.Background(), f.customerActor(), req)
	require.NoError(t, err)
	return summary
}

func (f *fixture) simpleRequest(qty int) *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID:    f.customer,
		Items:         []OrderItemRequest{{ProductID: f.tea, Quantity: qty}},
		PaymentMethod: models.PaymentCard,
		DeliveryType:  models.DeliveryPickup,
	}
}
