package service

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/cashback"
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

// CancelOrder cancels an order, returning its stock and any cashback it
// consumed. If any restoration fails the order keeps its previous status.
func (s *FulfillmentService) CancelOrder(ctx context.Context, actor identity.Actor, orderID int64, reason string) (*OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CancelOrder")
	defer span.End()

	reason = strings.TrimSpace(reason)

	var (
		summary  *OrderSummary
		from     models.OrderStatus
		stock    []inventory.Result
		reversed *cashback.ReverseResult
	)
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeCancel(actor, o); err != nil {
			return err
		}

		from = o.Status
		if err := order.Transition(o, models.OrderCancelled, s.clock.Now()); err != nil {
			return err
		}
		if err := authorizeOwnerPending(actor, from); err != nil {
			return err
		}

		items, err := tx.GetOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		stock, err = s.inventory.AdjustMany(ctx, tx, stockAdjustments(items, 1, inventory.ReasonCancel, o.ID))
		if err != nil {
			return err
		}

		if money.IsPositive(o.CashbackUsed) {
			reversed, err = s.cashback.Reverse(ctx, tx, o.CustomerID, o.ID)
			if err != nil {
				return err
			}
		}

		if reason != "" {
			o.CancelReason = &reason
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("cancel", string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	o := summary.Order
	restored := decimal.Zero
	if reversed != nil {
		restored = reversed.Total()
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderStatusTransitionsTotal.WithLabelValues(string(models.OrderCancelled)).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("actor", actor.String()),
		zap.String("cashback_restored", restored.StringFixed(money.Scale)))

	s.emit(ctx, models.EventTypeOrderCancelled, models.OrderCancelledPayload{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		Reason:           reason,
		CashbackRestored: restored,
	})
	s.emitLowStock(ctx, stock)

	return summary, nil
}

// UpdateOrderStatus moves an order along its lifecycle. Reaching Delivered
// earns cashback on the final price in the same transaction; moving to
// Cancelled takes the cancellation path.
func (s *FulfillmentService) UpdateOrderStatus(ctx context.Context, actor identity.Actor, orderID int64, to models.OrderStatus) (*OrderSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.UpdateOrderStatus")
	defer span.End()

	if err := authorizeStatusUpdate(actor); err != nil {
		return nil, err
	}
	if to == models.OrderCancelled {
		return s.CancelOrder(ctx, actor, orderID, "cancelled by "+string(actor.Role))
	}

	var (
		summary *OrderSummary
		from    models.OrderStatus
		earned  *models.CashbackTransaction
	)
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		from = o.Status
		if err := order.Transition(o, to, s.clock.Now()); err != nil {
			return err
		}

		if to == models.OrderDelivered {
			amount := money.Percent(o.FinalPrice, s.cfg.CashbackPercent)
			if money.IsPositive(amount) {
				earned, err = s.cashback.Earn(ctx, tx, o.CustomerID, o.ID, amount, s.cfg.CashbackPercent)
				if err != nil {
					return err
				}
			}
		}

		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		summary, err = loadSummary(ctx, tx, o)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("update_status", string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	o := summary.Order
	util.OrderStatusTransitionsTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor.String()))

	s.emit(ctx, models.EventTypeOrderStatusChanged, models.OrderStatusChangedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		From:       from,
		To:         to,
		ActorID:    actor.ID,
	})
	if earned != nil {
		s.emit(ctx, models.EventTypeCashbackEarned, models.CashbackEarnedPayload{
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Amount:     earned.Amount,
			ExpiresAt:  earned.ExpiresAt,
		})
	}

	return summary, nil
}
