package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) IsEventProcessed(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memDeduper) MarkEventProcessed(_ context.Context, id string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
	return nil
}

func statusEvent(id string, orderID int64, st models.OrderStatus) *models.OrderStatusRequestedEvent {
	return &models.OrderStatusRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypeOrderStatusRequested},
		Payload:   models.OrderStatusRequestedPayload{OrderID: orderID, Status: st},
	}
}

func TestStatusEventHandlerAppliesOnce(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(1))
	h := NewStatusEventHandler(f.svc, &memDeduper{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, h.HandleStatusRequested(ctx, statusEvent("e-1", summary.Order.ID, models.OrderConfirmed)))
	require.NoError(t, h.HandleStatusRequested(ctx, statusEvent("e-1", summary.Order.ID, models.OrderConfirmed)))

	o, _ := f.ms.Order(summary.Order.ID)
	assert.Equal(t, models.OrderConfirmed, o.Status)
	assert.Len(t, f.emitter.ofType(models.EventTypeOrderStatusChanged), 1)
}

func TestStatusEventHandlerDropsRejectedRequests(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(1))
	h := NewStatusEventHandler(f.svc, nil, time.Hour)

	err := h.HandleStatusRequested(context.Background(), statusEvent("e-2", summary.Order.ID, models.OrderDelivered))
	assert.NoError(t, err)

	err = h.HandleStatusRequested(context.Background(), statusEvent("e-3", 987654, models.OrderConfirmed))
	assert.NoError(t, err)
}

func TestStatusEventHandlerReturnsInfrastructureErrors(t *testing.T) {
	f := newFixture(t)
	summary := f.placeOrder(t, f.simpleRequest(1))
	h := NewStatusEventHandler(f.svc, nil, time.Hour)

	f.ms.InjectFault("UpdateOrder", errBoom)
	err := h.HandleStatusRequested(context.Background(), statusEvent("e-4", summary.Order.ID, models.OrderConfirmed))
	assert.ErrorIs(t, err, errBoom)
}
