package order

import (
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
)

var validNext = map[models.OrderStatus]map[models.OrderStatus]bool{
	models.OrderPending:        {models.OrderConfirmed: true, models.OrderCancelled: true},
	models.OrderConfirmed:      {models.OrderPreparing: true, models.OrderCancelled: true},
	models.OrderPreparing:      {models.OrderReadyForPickup: true, models.OrderShipped: true, models.OrderCancelled: true},
	models.OrderReadyForPickup: {models.OrderDelivered: true},
	models.OrderShipped:        {models.OrderDelivered: true},
	models.OrderDelivered:      {},
	models.OrderCancelled:      {},
}

var allStatuses = []models.OrderStatus{
	models.OrderPending,
	models.OrderConfirmed,
	models.OrderPreparing,
	models.OrderReadyForPickup,
	models.OrderShipped,
	models.OrderDelivered,
	models.OrderCancelled,
}

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from, to models.OrderStatus) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.OrderStatus) bool {
	return len(validNext[status]) == 0
}

// Cancellable reports whether an order in status may still be cancelled.
func Cancellable(status models.OrderStatus) bool {
	return CanTransition(status, models.OrderCancelled)
}

// ParseStatus matches a status name case-insensitively.
func ParseStatus(s string) (models.OrderStatus, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", apperr.InvalidField("status", "unknown order status "+s)
}

// Transition moves o to the requested status or fails with
// InvalidStateTransition naming both states. Reaching Delivered stamps DeliveredAt.
func Transition(o *models.Order, to models.OrderStatus, now time.Time) error {
	from := o.Status
	if !CanTransition(from, to) {
		return apperr.New(apperr.KindInvalidStateTransition, "cannot move order %d from %s to %s", o.ID, from, to).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}
	o.Status = to
	if to == models.OrderDelivered {
		at := now
		o.DeliveredAt = &at
	}
	return nil
}
