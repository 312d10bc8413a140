package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 5000, 10*24*time.Hour)

	summary := f.placeOrder(t, &CreateOrderRequest{
		CustomerID: f.customer,
		Items: []OrderItemRequest{
			{ProductID: f.tea, Quantity: 2},
			{ProductID: f.cup, Quantity: 2},
		},
		PaymentMethod: models.PaymentCard,
		DeliveryType:  models.DeliveryDelivery,
		CashbackToUse: money.New(5000),
	})

	o := summary.Order
	assert.Equal(t, models.OrderPending, o.Status)
	assert.True(t, o.TotalPrice.Equal(money.New(100000)))
	assert.True(t, o.CashbackUsed.Equal(money.New(5000)))
	assert.True(t, o.DeliveryFee.Equal(money.New(15000)))
	assert.True(t, o.FinalPrice.Equal(money.New(110000)))
	assert.Len(t, summary.Items, 2)

	assert.Equal(t, 8, f.stock(t, f.tea))
	assert.Equal(t, 3, f.stock(t, f.cup))
	assert.True(t, f.balance(t).IsZero())

	require.Len(t, f.emitter.ofType(models.EventTypeOrderCreated), 1)
	created := f.emitter.ofType(models.EventTypeOrderCreated)[0].(models.OrderCreatedPayload)
	assert.Equal(t, o.ID, created.OrderID)

	movements := f.ms.Movements(f.tea)
	require.Len(t, movements, 1)
	assert.Equal(t, -2, movements[0].Delta)
	assert.Equal(t, "order", movements[0].Reason)
}

func TestCreateOrderWithManagerDiscount(t *testing.T) {
	f := newFixture(t)
	manager := identity.Actor{ID: 77, Role: identity.RoleManager}

	summary, err := f.svc.CreateOrder(context.Background(), manager, &CreateOrderRequest{
		CustomerID:    f.customer,
		Items:         []OrderItemRequest{{ProductID: f.tea, Quantity: 5}},
		PaymentMethod: models.PaymentCash,
		DeliveryType:  models.DeliveryPickup,
		Discount:      &DiscountRequest{Amount: money.New(25000), ReasonID: f.reason},
	})
	require.NoError(t, err)

	assert.True(t, summary.Order.DiscountApplied.Equal(money.New(25000)))
	assert.True(t, summary.Order.FinalPrice.Equal(money.New(75000)))
	require.Len(t, summary.Discounts, 1)
	assert.Equal(t, int64(77), summary.Discounts[0].AppliedByActorID)
	assert.True(t, summary.Items[0].DiscountAmount.Equal(money.New(25000)))
}

func TestCreateOrderSellerDiscountOverCapHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	seller := identity.Actor{ID: 5, Role: identity.RoleSeller}

	_, err := f.svc.CreateOrder(context.Background(), seller, &CreateOrderRequest{
		CustomerID:    f.customer,
		Items:         []OrderItemRequest{{ProductID: f.tea, Quantity: 5}},
		PaymentMethod: models.PaymentCash,
		DeliveryType:  models.DeliveryPickup,
		Discount:      &DiscountRequest{Amount: money.New(25000), ReasonID: f.reason},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExcessiveDiscount, apperr.KindOf(err))

	e, _ := apperr.As(err)
	assert.Equal(t, "20000.00", e.Details["max_allowed"])
	assert.Equal(t, 10, f.stock(t, f.tea))
	assert.Empty(t, f.emitter.ofType(models.EventTypeOrderCreated))
}

func TestCreateOrderInsufficientStockRollsBackEarlierItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), &CreateOrderRequest{
		CustomerID: f.customer,
		Items: []OrderItemRequest{
			{ProductID: f.tea, Quantity: 3},
			{ProductID: f.cup, Quantity: 6},
		},
		PaymentMethod: models.PaymentCard,
		DeliveryType:  models.DeliveryPickup,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	assert.Equal(t, 10, f.stock(t, f.tea))
	assert.Equal(t, 5, f.stock(t, f.cup))
	assert.Empty(t, f.ms.Movements(f.tea))
}

func TestCreateOrderInsufficientCashbackRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 1000, time.Hour)

	req := f.simpleRequest(1)
	req.CashbackToUse = money.New(1500)
	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), req)

	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientCashback, apperr.KindOf(err))
	assert.Equal(t, 10, f.stock(t, f.tea))
	assert.True(t, f.balance(t).Equal(money.New(1000)))
}

func TestCreateOrderPersistenceFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 1000, time.Hour)
	f.ms.InjectFault("CreateOrderItem", errBoom)

	req := f.simpleRequest(2)
	req.CashbackToUse = money.New(1000)
	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), req)

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 10, f.stock(t, f.tea))
	assert.True(t, f.balance(t).Equal(money.New(1000)))
	for _, e := range f.ms.CashbackEntries(f.customer) {
		assert.NotEqual(t, models.CashbackUsed, e.Type)
	}
}

func TestCreateOrderConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)
	// cup has 5 in stock.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), &CreateOrderRequest{
				CustomerID:    f.customer,
				Items:         []OrderItemRequest{{ProductID: f.cup, Quantity: 3}},
				PaymentMethod: models.PaymentCard,
				DeliveryType:  models.DeliveryPickup,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	require.Len(t, errs, 1)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(errs[0]))
	assert.Equal(t, 2, f.stock(t, f.cup))
}

func TestCreateOrderFromCartClearsCart(t *testing.T) {
	f := newFixture(t)
	f.ms.SeedCartItem(models.CartItem{CustomerID: f.customer, ProductID: f.tea, Quantity: 1})
	f.ms.SeedCartItem(models.CartItem{CustomerID: f.customer, ProductID: f.tea, Quantity: 2})

	summary := f.placeOrder(t, &CreateOrderRequest{
		CustomerID:    f.customer,
		FromCart:      true,
		PaymentMethod: models.PaymentCash,
		DeliveryType:  models.DeliveryPickup,
	})

	require.Len(t, summary.Items, 1)
	assert.Equal(t, 3, summary.Items[0].Quantity)
	assert.Zero(t, f.ms.CartSize(f.customer))
	assert.Equal(t, 7, f.stock(t, f.tea))
}

func TestCreateOrderFromEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), &CreateOrderRequest{
		CustomerID:    f.customer,
		FromCart:      true,
		PaymentMethod: models.PaymentCash,
		DeliveryType:  models.DeliveryPickup,
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateOrderIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)

	req := f.simpleRequest(1)
	req.IdempotencyKey = "checkout-123"
	first := f.placeOrder(t, req)

	second := f.placeOrder(t, &CreateOrderRequest{
		CustomerID:     f.customer,
		Items:          []OrderItemRequest{{ProductID: f.tea, Quantity: 1}},
		PaymentMethod:  models.PaymentCard,
		DeliveryType:   models.DeliveryPickup,
		IdempotencyKey: "checkout-123",
	})

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 9, f.stock(t, f.tea))
	assert.Len(t, f.emitter.ofType(models.EventTypeOrderCreated), 1)
}

func TestCreateOrderIdempotencyWithoutCacheUsesStore(t *testing.T) {
	f := newFixture(t)
	svc := NewFulfillmentService(f.ms, f.clk, f.emitter, nil, nil, DefaultConfig())

	req := f.simpleRequest(1)
	req.IdempotencyKey = "k-1"
	first, err := svc.CreateOrder(context.Background(), f.customerActor(), req)
	require.NoError(t, err)

	again := f.simpleRequest(1)
	again.IdempotencyKey = "k-1"
	second, err := svc.CreateOrder(context.Background(), f.customerActor(), again)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 9, f.stock(t, f.tea))
}

func TestIdempotencyKeyIsScopedPerCustomer(t *testing.T) {
	for _, withCache := range []bool{true, false} {
		t.Run(map[bool]string{true: "cache", false: "store only"}[withCache], func(t *testing.T) {
			f := newFixture(t)
			svc := f.svc
			if !withCache {
				svc = NewFulfillmentService(f.ms, f.clk, f.emitter, nil, nil, DefaultConfig())
			}
			other := f.ms.SeedCustomer(models.Customer{Name: "Bea", CashbackBalance: decimal.Zero})

			req := f.simpleRequest(1)
			req.IdempotencyKey = "k1"
			first, err := svc.CreateOrder(context.Background(), f.customerActor(), req)
			require.NoError(t, err)

			theirs := f.simpleRequest(2)
			theirs.CustomerID = other
			theirs.IdempotencyKey = "k1"
			second, err := svc.CreateOrder(context.Background(), identity.Actor{ID: other, Role: identity.RoleCustomer}, theirs)
			require.NoError(t, err)

			assert.False(t, second.Replayed)
			assert.NotEqual(t, first.Order.ID, second.Order.ID)
			assert.Equal(t, other, second.Order.CustomerID)
			assert.Equal(t, 2, second.Items[0].Quantity)
			assert.Equal(t, 7, f.stock(t, f.tea))
		})
	}
}

func TestReplayRefusesOrderOfAnotherCustomer(t *testing.T) {
	f := newFixture(t)
	other := f.ms.SeedCustomer(models.Customer{Name: "Bea", CashbackBalance: decimal.Zero})

	req := f.simpleRequest(1)
	req.IdempotencyKey = "k1"
	first := f.placeOrder(t, req)

	// A cache entry pointing at someone else's order must never be replayed.
	require.NoError(t, f.idem.SetOrderID(context.Background(), idempotencyCacheKey(other, "k1"), first.Order.ID, time.Hour))

	theirs := f.simpleRequest(1)
	theirs.CustomerID = other
	theirs.IdempotencyKey = "k1"
	summary, err := f.svc.CreateOrder(context.Background(), identity.Actor{ID: other, Role: identity.RoleCustomer}, theirs)
	assert.Nil(t, summary)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCreateOrderAuthorization(t *testing.T) {
	f := newFixture(t)

	other := identity.Actor{ID: f.customer + 100, Role: identity.RoleCustomer}
	_, err := f.svc.CreateOrder(context.Background(), other, f.simpleRequest(1))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.CreateOrder(context.Background(), f.customerActor(), &CreateOrderRequest{
		CustomerID:    f.customer,
		Items:         []OrderItemRequest{{ProductID: f.tea, Quantity: 1}},
		PaymentMethod: models.PaymentCard,
		DeliveryType:  models.DeliveryPickup,
		Discount:      &DiscountRequest{Amount: money.New(1), ReasonID: f.reason},
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), &CreateOrderRequest{
		CustomerID:    f.customer,
		PaymentMethod: models.PaymentCard,
		DeliveryType:  "Drone",
		CashbackToUse: money.New(-1),
	})
	require.Error(t, err)
	e, _ := apperr.As(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Contains(t, e.Fields, "items")
	assert.Contains(t, e.Fields, "delivery_type")
	assert.Contains(t, e.Fields, "cashback_to_use")
}

func TestCreateOrderCashbackPaymentNeedsFullCoverage(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 30000, time.Hour)

	req := f.simpleRequest(1)
	req.PaymentMethod = models.PaymentCashback
	req.CashbackToUse = money.New(10000)
	_, err := f.svc.CreateOrder(context.Background(), f.customerActor(), req)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	req = f.simpleRequest(1)
	req.PaymentMethod = models.PaymentCashback
	req.CashbackToUse = money.New(20000)
	summary := f.placeOrder(t, req)
	assert.True(t, summary.Order.FinalPrice.IsZero())
	assert.True(t, f.balance(t).Equal(money.New(10000)))
}

func TestCreateOrderEmitsLowStock(t *testing.T) {
	f := newFixture(t)

	f.placeOrder(t, f.simpleRequest(8))

	low := f.emitter.ofType(models.EventTypeProductLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, f.tea, low[0].(models.ProductLowStockPayload).ProductID)
}

func TestCreateOrderSurvivesEmitterFailure(t *testing.T) {
	f := newFixture(t)
	f.emitter.err = errBoom

	summary := f.placeOrder(t, f.simpleRequest(1))
	_, ok := f.ms.Order(summary.Order.ID)
	assert.True(t, ok)
}

func TestGetOrderHidesOtherCustomersOrders(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(1))

	got, err := f.svc.GetOrder(context.Background(), f.customerActor(), summary.Order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = f.svc.GetOrder(context.Background(), identity.Actor{ID: 999, Role: identity.RoleCustomer}, summary.Order.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.GetOrder(context.Background(), identity.Actor{ID: 1, Role: identity.RoleAdmin}, summary.Order.ID)
	assert.NoError(t, err)
}

func TestApplyDiscount(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(5))
	seller := identity.Actor{ID: 5, Role: identity.RoleSeller}
	orderID := summary.Order.ID

	got, err := f.svc.ApplyDiscount(context.Background(), seller, orderID, &ApplyDiscountRequest{Amount: money.New(15000), ReasonID: f.reason})
	require.NoError(t, err)
	assert.True(t, got.Order.FinalPrice.Equal(money.New(85000)))
	assert.Len(t, got.Discounts, 1)

	// Cumulative cap for a seller on 100000 is 20000.
	_, err = f.svc.ApplyDiscount(context.Background(), seller, orderID, &ApplyDiscountRequest{Amount: money.New(6000), ReasonID: f.reason})
	assert.Equal(t, apperr.KindExcessiveDiscount, apperr.KindOf(err))

	manager := identity.Actor{ID: 6, Role: identity.RoleManager}
	got, err = f.svc.ApplyDiscount(context.Background(), manager, orderID, &ApplyDiscountRequest{Amount: money.New(6000), ReasonID: f.reason})
	require.NoError(t, err)
	assert.True(t, got.Order.DiscountApplied.Equal(money.New(21000)))
	assert.Len(t, got.Discounts, 2)
}

func TestApplyDiscountSpreadsOverItems(t *testing.T) {
	f := newFixture(t)
	req := f.simpleRequest(2)
	req.Items = append(req.Items, OrderItemRequest{ProductID: f.cup, Quantity: 1})
	summary := f.placeOrder(t, req)
	manager := identity.Actor{ID: 6, Role: identity.RoleManager}

	itemSum := func(items []models.OrderItem) decimal.Decimal {
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(it.DiscountAmount)
		}
		return sum
	}

	got, err := f.svc.ApplyDiscount(context.Background(), manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(7000), ReasonID: f.reason})
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].DiscountAmount.Equal(money.New(4000)), got.Items[0].DiscountAmount.String())
	assert.True(t, got.Items[1].DiscountAmount.Equal(money.New(3000)), got.Items[1].DiscountAmount.String())

	got, err = f.svc.ApplyDiscount(context.Background(), manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(3500), ReasonID: f.reason})
	require.NoError(t, err)
	assert.True(t, got.Order.DiscountApplied.Equal(money.New(10500)))
	assert.True(t, itemSum(got.Items).Equal(got.Order.DiscountApplied),
		"items %s order %s", itemSum(got.Items), got.Order.DiscountApplied)

	reloaded, err := f.svc.GetOrder(context.Background(), manager, summary.Order.ID)
	require.NoError(t, err)
	assert.True(t, itemSum(reloaded.Items).Equal(money.New(10500)))
}

func TestApplyDiscountItemFaultRollsBack(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(2))
	manager := identity.Actor{ID: 6, Role: identity.RoleManager}

	f.ms.InjectFault("UpdateOrderItemDiscount", errBoom)
	_, err := f.svc.ApplyDiscount(context.Background(), manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(1000), ReasonID: f.reason})
	require.Error(t, err)
	f.ms.InjectFault("UpdateOrderItemDiscount", nil)

	o, ok := f.ms.Order(summary.Order.ID)
	require.True(t, ok)
	assert.True(t, o.DiscountApplied.IsZero())
}

func TestApplyDiscountRejections(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(1))
	manager := identity.Actor{ID: 6, Role: identity.RoleManager}
	ctx := context.Background()

	_, err := f.svc.ApplyDiscount(ctx, f.customerActor(), summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(1), ReasonID: f.reason})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.ApplyDiscount(ctx, manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(1), ReasonID: 4040})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	inactive := f.ms.SeedDiscountReason(models.DiscountReason{Code: "OLD", Active: false})
	_, err = f.svc.ApplyDiscount(ctx, manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(1), ReasonID: inactive})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	for _, st := range []models.OrderStatus{models.OrderConfirmed, models.OrderPreparing} {
		_, err = f.svc.UpdateOrderStatus(ctx, manager, summary.Order.ID, st)
		require.NoError(t, err)
	}
	_, err = f.svc.ApplyDiscount(ctx, manager, summary.Order.ID, &ApplyDiscountRequest{Amount: money.New(1), ReasonID: f.reason})
	e, _ := apperr.As(err)
	require.NotNil(t, e)
	assert.Contains(t, e.Fields, "status")
}
