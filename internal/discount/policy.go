package discount

import (
	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/money"

	"github.com/shopspring/decimal"
)

// DefaultSellerCapPercent is the share of the order total a seller may discount.
const DefaultSellerCapPercent = 20

// Policy caps discounts by the role applying them.
type Policy struct {
	SellerCapPercent decimal.Decimal
}

// DefaultPolicy returns the policy with the standard seller cap.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultSellerCapPercent)
}

// NewPolicy returns a policy with the given seller cap in percent.
func NewPolicy(sellerCapPercent int64) Policy {
	return Policy{SellerCapPercent: decimal.NewFromInt(sellerCapPercent)}
}

// MaxAllowed returns the largest discount role may apply to orderTotal.
func (p Policy) MaxAllowed(role identity.Role, orderTotal decimal.Decimal) (decimal.Decimal, error) {
	switch role {
	case identity.RoleManager, identity.RoleAdmin, identity.RoleSuperAdmin:
		return orderTotal, nil
	case identity.RoleSeller:
		return money.Percent(orderTotal, p.SellerCapPercent), nil
	default:
		return decimal.Zero, apperr.Forbidden("role %s may not apply discounts", role)
	}
}

// Authorize checks that role may apply amount to an order worth orderTotal.
func (p Policy) Authorize(role identity.Role, amount, orderTotal decimal.Decimal) error {
	return p.AuthorizeAdditional(role, decimal.Zero, amount, orderTotal)
}

// AuthorizeAdditional checks amount on top of discounts already applied. The
// cap covers the cumulative discount, so max_allowed reports what is left of it.
func (p Policy) AuthorizeAdditional(role identity.Role, applied, amount, orderTotal decimal.Decimal) error {
	if !money.IsPositive(amount) {
		return apperr.InvalidField("amount", "must be greater than zero")
	}

	max, err := p.MaxAllowed(role, orderTotal)
	if err != nil {
		return err
	}
	left := max.Sub(applied)
	if left.Sign() < 0 {
		left = decimal.Zero
	}
	if amount.GreaterThan(left) {
		return apperr.New(apperr.KindExcessiveDiscount, "%s may discount at most %s, requested %s",
			role, left.StringFixed(money.Scale), amount.StringFixed(money.Scale)).
			WithDetail("requested", amount.StringFixed(money.Scale)).
			WithDetail("max_allowed", left.StringFixed(money.Scale))
	}
	return nil
}
