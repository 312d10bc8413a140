package discount

import (
	"testing"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeSellerCap(t *testing.T) {
	p := DefaultPolicy()

	err := p.Authorize(identity.RoleSeller, money.New(25000), money.New(100000))
	require.Error(t, err)
	assert.Equal(t, apperr.KindExcessiveDiscount, apperr.KindOf(err))

	e, _ := apperr.As(err)
	assert.Equal(t, "25000.00", e.Details["requested"])
	assert.Equal(t, "20000.00", e.Details["max_allowed"])

	assert.NoError(t, p.Authorize(identity.RoleSeller, money.New(20000), money.New(100000)))
}

func TestAuthorizeManagerBoundedByTotal(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.Authorize(identity.RoleManager, money.New(25000), money.New(100000)))
	assert.NoError(t, p.Authorize(identity.RoleSuperAdmin, money.New(100000), money.New(100000)))
	assert.NoError(t, p.Authorize(identity.RoleAdmin, money.New(50000), money.New(100000)))

	err := p.Authorize(identity.RoleManager, money.New(100001), money.New(100000))
	assert.Equal(t, apperr.KindExcessiveDiscount, apperr.KindOf(err))
}

func TestAuthorizeRejectsOtherRoles(t *testing.T) {
	p := DefaultPolicy()

	for _, role := range []identity.Role{identity.RoleCustomer, identity.RoleSystem} {
		err := p.Authorize(role, money.New(1), money.New(100))
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), role)
	}
}

func TestAuthorizeRejectsNonPositive(t *testing.T) {
	err := DefaultPolicy().Authorize(identity.RoleManager, money.Zero, money.New(100))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSellerCapRoundsHalfUp(t *testing.T) {
	p := NewPolicy(20)
	max, err := p.MaxAllowed(identity.RoleSeller, money.MustParse("0.33"))
	require.NoError(t, err)
	// 20% of 0.33 is 0.066.
	assert.Equal(t, "0.07", max.StringFixed(2))
}

func TestAuthorizeAdditionalCountsAppliedDiscounts(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.AuthorizeAdditional(identity.RoleSeller, money.New(15000), money.New(5000), money.New(100000)))

	err := p.AuthorizeAdditional(identity.RoleSeller, money.New(15000), money.New(6000), money.New(100000))
	require.Error(t, err)
	e, _ := apperr.As(err)
	assert.Equal(t, "6000.00", e.Details["requested"])
	assert.Equal(t, "5000.00", e.Details["max_allowed"])
}
