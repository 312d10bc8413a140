package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const eventVersion = 1

// EventPublisher publishes notifications to the notification topic.
type EventPublisher struct {
	producer *Producer
	source   string
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, source string) *EventPublisher {
	return &EventPublisher{producer: producer, source: source, now: time.Now}
}

// Emit wraps payload in an envelope and publishes it keyed by the entity it
// concerns.
func (ep *EventPublisher) Emit(ctx context.Context, eventType string, payload any) error {
	ctx, span := util.StartSpan(ctx, "EventPublisher.Emit")
	defer span.End()

	env := models.Envelope{
		BaseEvent: models.BaseEvent{
			EventID:      uuid.New().String(),
			EventType:    eventType,
			EventVersion: eventVersion,
			Timestamp:    ep.now().UTC(),
			Producer:     ep.source,
		},
		Payload: payload,
	}
	if err := ep.producer.PublishEvent(ctx, partitionKey(payload), env); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}

func partitionKey(payload any) string {
	switch p := payload.(type) {
	case models.OrderCreatedPayload:
		return fmt.Sprintf("order-%d", p.OrderID)
	case models.OrderCancelledPayload:
		return fmt.Sprintf("order-%d", p.OrderID)
	case models.OrderStatusChangedPayload:
		return fmt.Sprintf("order-%d", p.OrderID)
	case models.CashbackEarnedPayload:
		return fmt.Sprintf("customer-%d", p.CustomerID)
	case models.CashbackExpiredPayload:
		return fmt.Sprintf("customer-%d", p.CustomerID)
	case models.ProductLowStockPayload:
		return fmt.Sprintf("product-%d", p.ProductID)
	default:
		return ""
	}
}

// EventHandler routes inbound messages by event type.
type EventHandler struct {
	onStatusRequested func(context.Context, *models.OrderStatusRequestedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnStatusRequested registers a handler for order.status_requested events.
func (eh *EventHandler) OnStatusRequested(handler func(context.Context, *models.OrderStatusRequestedEvent) error) {
	eh.onStatusRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Malformed messages
// are logged and acknowledged so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping malformed message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderStatusRequested:
		if eh.onStatusRequested == nil {
			return nil
		}
		var event models.OrderStatusRequestedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			eh.logger.Error("Dropping malformed status request", zap.String("event_id", baseEvent.EventID), zap.Error(err))
			return nil
		}
		return eh.onStatusRequested(ctx, &event)

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
