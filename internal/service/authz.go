package service

import (
	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
)

// canActForCustomer allows a customer to act on their own behalf and staff on
// behalf of anyone.
func canActForCustomer(actor identity.Actor, customerID int64) error {
	if actor.Role == identity.RoleCustomer {
		if actor.ID != customerID {
			return apperr.Forbidden("customer %d may not act for customer %d", actor.ID, customerID)
		}
		return nil
	}
	if actor.Role.IsStaff() {
		return nil
	}
	return apperr.Forbidden("role %q may not act for customers", actor.Role)
}

// authorizeCancel lets the owner cancel while the order is Pending; staff may
// cancel whenever the state machine allows it.
func authorizeCancel(actor identity.Actor, o *models.Order) error {
	if actor.Role != identity.RoleCustomer {
		if actor.Role.IsStaff() {
			return nil
		}
		return apperr.Forbidden("role %q may not cancel orders", actor.Role)
	}
	if actor.ID != o.CustomerID {
		return apperr.Forbidden("order %d belongs to another customer", o.ID)
	}
	return nil
}

func authorizeOwnerPending(actor identity.Actor, status models.OrderStatus) error {
	if actor.Role == identity.RoleCustomer && status != models.OrderPending {
		return apperr.Forbidden("customers can only cancel Pending orders").
			WithDetail("status", string(status))
	}
	return nil
}

func authorizeStatusUpdate(actor identity.Actor) error {
	if !actor.Role.IsStaff() {
		return apperr.Forbidden("role %q may not change order status", actor.Role)
	}
	return nil
}

func authorizeExpire(actor identity.Actor) error {
	if !actor.Role.IsAdmin() {
		return apperr.Forbidden("role %q may not expire cashback", actor.Role)
	}
	return nil
}
