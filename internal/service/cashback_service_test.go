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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = identity.Actor{ID: 1, Role: identity.RoleAdmin}

func TestGetAvailableCashback(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 1000, 5*24*time.Hour)
	f.seedCashback(t, 500, 20*24*time.Hour)

	got, err := f.svc.GetAvailableCashback(context.Background(), f.customerActor(), f.customer)
	require.NoError(t, err)
	assert.True(t, got.Equal(money.New(1500)))

	f.clk.Advance(6 * 24 * time.Hour)
	got, err = f.svc.GetAvailableCashback(context.Background(), f.customerActor(), f.customer)
	require.NoError(t, err)
	assert.True(t, got.Equal(money.New(500)))

	_, err = f.svc.GetAvailableCashback(context.Background(), identity.Actor{ID: 3, Role: identity.RoleCustomer}, f.customer)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestExpireCashback(t *testing.T) {
	f := newFixture(t)
	stale := f.seedCashback(t, 300, 24*time.Hour)
	f.seedCashback(t, 700, 10*24*time.Hour)
	f.clk.Advance(48 * time.Hour)

	summary, err := f.svc.ExpireCashback(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, 1, summary.Customers)
	assert.True(t, summary.Amount.Equal(money.New(300)))
	assert.False(t, summary.Skipped)

	b, _ := f.ms.CashbackEntry(stale)
	assert.True(t, b.RemainingAmount.IsZero())
	assert.True(t, f.balance(t).Equal(money.New(700)))

	expired := f.emitter.ofType(models.EventTypeCashbackExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, f.customer, expired[0].(models.CashbackExpiredPayload).CustomerID)

	again, err := f.svc.ExpireCashback(context.Background(), identity.System())
	require.NoError(t, err)
	assert.Zero(t, again.Count)
	assert.Len(t, f.emitter.ofType(models.EventTypeCashbackExpired), 1)
	assert.Equal(t, 2, f.locker.acquires)
	assert.False(t, f.locker.held)
}

func TestExpireCashbackSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.seedCashback(t, 300, -time.Hour)
	f.locker.held = true

	summary, err := f.svc.ExpireCashback(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)

	var expired int
	for _, e := range f.ms.CashbackEntries(f.customer) {
		if e.Type == models.CashbackExpired {
			expired++
		}
	}
	assert.Zero(t, expired)
}

func TestExpireCashbackLockError(t *testing.T) {
	f := newFixture(t)
	f.locker.err = errBoom

	_, err := f.svc.ExpireCashback(context.Background(), admin)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestExpireCashbackConcurrentCallsNeverDoubleExpire(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seedCashback(t, 100, -time.Minute)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.ExpireCashback(context.Background(), admin)
		}()
	}
	wg.Wait()

	var expired int
	for _, e := range f.ms.CashbackEntries(f.customer) {
		if e.Type == models.CashbackExpired {
			expired++
		}
	}
	assert.Equal(t, 5, expired)
}

func TestExpireCashbackRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	for _, role := range []identity.Role{identity.RoleCustomer, identity.RoleSeller, identity.RoleManager} {
		_, err := f.svc.ExpireCashback(context.Background(), identity.Actor{ID: 1, Role: role})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), role)
	}
}
