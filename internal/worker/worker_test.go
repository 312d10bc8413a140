package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type countingExpirer struct {
	mu     sync.Mutex
	calls  int
	actors []identity.Actor
	err    error
}

func (e *countingExpirer) ExpireCashback(_ context.Context, actor identity.Actor) (*service.ExpireSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.actors = append(e.actors, actor)
	if e.err != nil {
		return nil, e.err
	}
	return &service.ExpireSummary{Amount: decimal.Zero}, nil
}

func (e *countingExpirer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestExpiryWorkerRunsAsSystem(t *testing.T) {
	e := &countingExpirer{}
	w := NewExpiryWorker(e, time.Hour)

	w.RunOnce(context.Background())

	assert.Equal(t, 1, e.count())
	assert.Equal(t, identity.RoleSystem, e.actors[0].Role)
}

func TestExpiryWorkerTicksUntilCancelled(t *testing.T) {
	e := &countingExpirer{}
	w := NewExpiryWorker(e, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return e.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestExpiryWorkerSurvivesFailures(t *testing.T) {
	e := &countingExpirer{err: errors.New("db down")}
	w := NewExpiryWorker(e, time.Hour)

	w.RunOnce(context.Background())
	w.RunOnce(context.Background())
	assert.Equal(t, 2, e.count())
}

func TestExpiryWorkerNonPositiveIntervalUsesDefault(t *testing.T) {
	e := &countingExpirer{}
	w := NewExpiryWorker(e, 0)
	assert.Equal(t, DefaultExpiryInterval, w.interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return e.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
