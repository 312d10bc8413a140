package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/inventory"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/order"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     int64                `json:"customer_id" validate:"required,gt=0"`
	SellerID       *int64               `json:"seller_id,omitempty" validate:"omitempty,gt=0"`
	Items          []OrderItemRequest   `json:"items" validate:"required_without=FromCart,omitempty,min=1,dive"`
	FromCart       bool                 `json:"from_cart"`
	PaymentMethod  models.PaymentMethod `json:"payment_method" validate:"required,oneof=Cash Card Cashback"`
	DeliveryType   models.DeliveryType  `json:"delivery_type" validate:"required,oneof=Pickup Delivery"`
	CashbackToUse  decimal.Decimal      `json:"cashback_to_use" validate:"gte=0"`
	Discount       *DiscountRequest     `json:"discount,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// DiscountRequest asks for a manual discount backed by a catalogued reason.
type DiscountRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	ReasonID int64           `json:"reason_id" validate:"required,gt=0"`
}

func (r *CreateOrderRequest) validate() error {
	fields := map[string]string{}
	if r.CustomerID <= 0 {
		fields["customer_id"] = "is required"
	}
	if r.FromCart && len(r.Items) > 0 {
		fields["items"] = "must be empty when ordering from cart"
	}
	if !r.FromCart && len(r.Items) == 0 {
		fields["items"] = "order must contain at least one item"
	}
	if r.CashbackToUse.Sign() < 0 {
		fields["cashback_to_use"] = "must not be negative"
	}
	if r.DeliveryType != models.DeliveryPickup && r.DeliveryType != models.DeliveryDelivery {
		fields["delivery_type"] = "must be Pickup or Delivery"
	}
	if r.Discount != nil {
		if !money.IsPositive(r.Discount.Amount) {
			fields["discount.amount"] = "must be greater than zero"
		}
		if r.Discount.ReasonID <= 0 {
			fields["discount.reason_id"] = "is required"
		}
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

func (s *FulfillmentService) deliveryFee(t models.DeliveryType) decimal.Decimal {
	if t == models.DeliveryDelivery {
		return money.Round(s.cfg.DeliveryFee)
	}
	return decimal.Zero
}

// CreateOrder reserves stock, spends cashback and persists a Pending order as
// one unit: any failure leaves stock, ledger and orders untouched.
func (s *FulfillmentService) CreateOrder(ctx context.Context, actor identity.Actor, req *CreateOrderRequest) (*OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CreateOrder")
	defer span.End()

	if err := canActForCustomer(actor, req.CustomerID); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("create", "validation").Inc()
		return nil, err
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if summary, err := s.replay(ctx, req.CustomerID, req.IdempotencyKey); err != nil || summary != nil {
		return summary, err
	}

	var (
		summary *OrderSummary
		stock   []inventory.Result
	)
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.GetOrderByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := sameCustomer(existing, req.CustomerID); err != nil {
					return err
				}
				summary, err = loadSummary(ctx, tx, existing)
				if summary != nil {
					summary.Replayed = true
				}
				return err
			}
		}

		var err error
		summary, stock, err = s.createOrderTx(ctx, tx, actor, req)
		return err
	})
	if err != nil && apperr.Is(err, apperr.KindConflict) && req.IdempotencyKey != "" {
		// A concurrent request with the same key won the insert.
		if replayed, rerr := s.replayFromStore(ctx, req.CustomerID, req.IdempotencyKey); rerr == nil && replayed != nil {
			return replayed, nil
		}
	}
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("create", string(apperr.KindOf(err))).Inc()
		s.logger.Warn("Order creation failed",
			zap.Int64("customer_id", req.CustomerID),
			zap.String("actor", actor.String()),
			zap.Error(err))
		return nil, err
	}

	if summary.Replayed {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", summary.Order.ID))
		return summary, nil
	}

	o := summary.Order
	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.SetOrderID(ctx, idempotencyCacheKey(o.CustomerID, req.IdempotencyKey), o.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("customer_id", o.CustomerID),
		zap.String("final_price", o.FinalPrice.StringFixed(money.Scale)),
		zap.String("cashback_used", o.CashbackUsed.StringFixed(money.Scale)))

	s.emit(ctx, models.EventTypeOrderCreated, models.OrderCreatedPayload{
		OrderID:      o.ID,
		CustomerID:   o.CustomerID,
		FinalPrice:   o.FinalPrice,
		CashbackUsed: o.CashbackUsed,
		Items:        itemData(summary.Items),
	})
	s.emitLowStock(ctx, stock)

	return summary, nil
}

func (s *FulfillmentService) createOrderTx(ctx context.Context, tx store.Tx, actor identity.Actor, req *CreateOrderRequest) (*OrderSummary, []inventory.Result, error) {
	lines, err := s.resolveLines(ctx, tx, req)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := tx.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items, total, err := order.BuildItems(lines, byID)
	if err != nil {
		return nil, nil, err
	}

	wanted := make([]inventory.Adjustment, 0, len(lines))
	for _, l := range lines {
		wanted = append(wanted, inventory.Adjustment{ProductID: l.ProductID, Delta: -l.Quantity})
	}
	if err := s.inventory.EnsureAvailable(ctx, tx, wanted); err != nil {
		return nil, nil, err
	}

	o := &models.Order{
		CustomerID:      req.CustomerID,
		SellerID:        req.SellerID,
		Status:          models.OrderPending,
		PaymentMethod:   req.PaymentMethod,
		DeliveryType:    req.DeliveryType,
		TotalPrice:      total,
		DiscountApplied: decimal.Zero,
		CashbackUsed:    money.Round(req.CashbackToUse),
		DeliveryFee:     s.deliveryFee(req.DeliveryType),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		o.IdempotencyKey = &key
	}

	var disc *models.OrderDiscount
	if req.Discount != nil {
		amount := money.Round(req.Discount.Amount)
		if err := s.checkReason(ctx, tx, req.Discount.ReasonID); err != nil {
			return nil, nil, err
		}
		if err := s.policy.Authorize(actor.Role, amount, total); err != nil {
			util.DiscountsRejectedTotal.WithLabelValues(string(actor.Role)).Inc()
			return nil, nil, err
		}
		o.DiscountApplied = amount
		order.AllocateDiscount(items, amount)
		disc = &models.OrderDiscount{
			Amount:           amount,
			DiscountReasonID: req.Discount.ReasonID,
			AppliedByActorID: actor.ID,
			AppliedByRole:    string(actor.Role),
			AppliedAt:        s.clock.Now(),
		}
	}

	if err := order.Reprice(o); err != nil {
		return nil, nil, err
	}
	if err := order.CheckPayment(o.PaymentMethod, o.FinalPrice); err != nil {
		return nil, nil, err
	}

	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	stock, err := s.inventory.AdjustMany(ctx, tx, stockAdjustments(items, -1, inventory.ReasonOrder, o.ID))
	if err != nil {
		return nil, nil, err
	}

	if money.IsPositive(o.CashbackUsed) {
		if _, err := s.cashback.Spend(ctx, tx, o.CustomerID, o.ID, o.CashbackUsed); err != nil {
			return nil, nil, err
		}
	} else if _, err := tx.GetCustomerForUpdate(ctx, o.CustomerID); err != nil {
		return nil, nil, err
	}

	for i := range items {
		items[i].OrderID = o.ID
		if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	var discounts []models.OrderDiscount
	if disc != nil {
		disc.OrderID = o.ID
		if err := tx.CreateOrderDiscount(ctx, disc); err != nil {
			return nil, nil, fmt.Errorf("failed to record discount: %w", err)
		}
		discounts = append(discounts, *disc)
	}

	if req.FromCart {
		if err := tx.ClearCart(ctx, o.CustomerID); err != nil {
			return nil, nil, fmt.Errorf("failed to clear cart: %w", err)
		}
	}

	return &OrderSummary{Order: o, Items: items, Discounts: discounts}, stock, nil
}

func (s *FulfillmentService) resolveLines(ctx context.Context, tx store.CartRepository, req *CreateOrderRequest) ([]order.Line, error) {
	var lines []order.Line
	if req.FromCart {
		cart, err := tx.GetCartItems(ctx, req.CustomerID)
		if err != nil {
			return nil, err
		}
		if len(cart) == 0 {
			return nil, apperr.InvalidField("from_cart", "cart is empty")
		}
		for _, ci := range cart {
			lines = append(lines, order.Line{ProductID: ci.ProductID, Quantity: ci.Quantity})
		}
	} else {
		for _, it := range req.Items {
			lines = append(lines, order.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	return order.MergeLines(lines)
}

func (s *FulfillmentService) checkReason(ctx context.Context, tx store.OrderRepository, reasonID int64) error {
	reason, err := tx.GetDiscountReason(ctx, reasonID)
	if err != nil {
		return err
	}
	if !reason.Active {
		return apperr.InvalidField("reason_id", "discount reason "+reason.Code+" is not active")
	}
	return nil
}

// idempotencyCacheKey scopes a client key to the customer it was sent for.
func idempotencyCacheKey(customerID int64, key string) string {
	return strconv.FormatInt(customerID, 10) + ":" + key
}

// sameCustomer guards replays: an order found through a key is only returned
// to the customer it belongs to.
func sameCustomer(o *models.Order, customerID int64) error {
	if o.CustomerID != customerID {
		return apperr.Conflict("idempotency key already used for another customer")
	}
	return nil
}

// replay returns the order a cached idempotency key points at.
func (s *FulfillmentService) replay(ctx context.Context, customerID int64, key string) (*OrderSummary, error) {
	if key == "" || s.idem == nil {
		return nil, nil
	}
	orderID, ok, err := s.idem.GetOrderID(ctx, idempotencyCacheKey(customerID, key))
	if err != nil {
		s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	var summary *OrderSummary
	err = s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := sameCustomer(o, customerID); err != nil {
			return err
		}
		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	summary.Replayed = true
	return summary, nil
}

func (s *FulfillmentService) replayFromStore(ctx context.Context, customerID int64, key string) (*OrderSummary, error) {
	var summary *OrderSummary
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrderByIdempotencyKey(ctx, customerID, key)
		if err != nil || o == nil {
			return err
		}
		if err := sameCustomer(o, customerID); err != nil {
			return err
		}
		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if summary != nil {
		summary.Replayed = true
	}
	return summary, err
}

// GetOrder retrieves an order with its items and discounts. Customers only see
// their own orders.
func (s *FulfillmentService) GetOrder(ctx context.Context, actor identity.Actor, orderID int64) (*OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.GetOrder")
	defer span.End()

	var summary *OrderSummary
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := canActForCustomer(actor, o.CustomerID); err != nil {
			// Do not reveal other customers' orders.
			return apperr.NotFound("order %d", orderID)
		}
		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ApplyDiscountRequest adds a discount to an existing order.
type ApplyDiscountRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	ReasonID int64           `json:"reason_id" validate:"required,gt=0"`
}

// ApplyDiscount adds a discount to a Pending or Confirmed order. The role cap
// applies to the cumulative discount on the order.
func (s *FulfillmentService) ApplyDiscount(ctx context.Context, actor identity.Actor, orderID int64, req *ApplyDiscountRequest) (*OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.ApplyDiscount")
	defer span.End()

	amount := money.Round(req.Amount)
	if !money.IsPositive(amount) {
		return nil, apperr.InvalidField("amount", "must be greater than zero")
	}
	if _, err := s.policy.MaxAllowed(actor.Role, decimal.Zero); err != nil {
		return nil, err
	}

	var summary *OrderSummary
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.CanDiscount(o.Status) {
			return apperr.InvalidField("status", "discounts can only be applied to Pending or Confirmed orders").
				WithDetail("status", string(o.Status))
		}
		if err := s.checkReason(ctx, tx, req.ReasonID); err != nil {
			return err
		}
		if err := s.policy.AuthorizeAdditional(actor.Role, o.DiscountApplied, amount, o.TotalPrice); err != nil {
			util.DiscountsRejectedTotal.WithLabelValues(string(actor.Role)).Inc()
			return err
		}
		if err := order.ApplyDiscount(o, amount); err != nil {
			return err
		}

		items, err := tx.GetOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		before := make([]decimal.Decimal, len(items))
		for i := range items {
			before[i] = items[i].DiscountAmount
		}
		order.AllocateDiscount(items, amount)
		for i, it := range items {
			if it.DiscountAmount.Equal(before[i]) {
				continue
			}
			if err := tx.UpdateOrderItemDiscount(ctx, it.ID, it.DiscountAmount); err != nil {
				return fmt.Errorf("failed to update item discount: %w", err)
			}
		}

		d := &models.OrderDiscount{
			OrderID:          o.ID,
			Amount:           amount,
			DiscountReasonID: req.ReasonID,
			AppliedByActorID: actor.ID,
			AppliedByRole:    string(actor.Role),
			AppliedAt:        s.clock.Now(),
		}
		if err := tx.CreateOrderDiscount(ctx, d); err != nil {
			return fmt.Errorf("failed to record discount: %w", err)
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("apply_discount", string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	s.logger.Info("Discount applied",
		zap.Int64("order_id", orderID),
		zap.String("actor", actor.String()),
		zap.String("amount", amount.StringFixed(money.Scale)))
	return summary, nil
}
