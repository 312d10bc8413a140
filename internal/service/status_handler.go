package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// EventDeduper records which inbound events were already applied.
type EventDeduper interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

// StatusEventHandler applies status updates published by carriers and
// operations tooling.
type StatusEventHandler struct {
	svc    *FulfillmentService
	dedup  EventDeduper
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatusEventHandler creates a handler. dedup may be nil.
func NewStatusEventHandler(svc *FulfillmentService, dedup EventDeduper, ttl time.Duration) *StatusEventHandler {
	return &StatusEventHandler{
		svc:    svc,
		dedup:  dedup,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// HandleStatusRequested applies one status request as the system actor.
// Requests the order cannot accept are logged and dropped; only infrastructure
// failures are returned so the message is redelivered.
func (h *StatusEventHandler) HandleStatusRequested(ctx context.Context, event *models.OrderStatusRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "StatusEventHandler.HandleStatusRequested")
	defer span.End()

	if h.dedup != nil && event.EventID != "" {
		processed, err := h.dedup.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			h.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	actor := identity.System()
	if event.Payload.ActorID != 0 {
		actor.ID = event.Payload.ActorID
	}

	_, err := h.svc.UpdateOrderStatus(ctx, actor, event.Payload.OrderID, event.Payload.Status)
	switch kind := apperr.KindOf(err); {
	case err == nil:
	case kind == apperr.KindInternal || kind == apperr.KindConflict:
		return err
	default:
		h.logger.Warn("Status request rejected",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.Payload.OrderID),
			zap.String("status", string(event.Payload.Status)),
			zap.Error(err))
	}

	if h.dedup != nil && event.EventID != "" {
		if err := h.dedup.MarkEventProcessed(ctx, event.EventID, h.ttl); err != nil {
			h.logger.Error("Failed to mark event processed", zap.Error(err))
		}
	}
	return nil
}
