package worker

import (
	"context"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// StatusWorker applies order status requests consumed from Kafka.
type StatusWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStatusWorker creates a new status worker
func NewStatusWorker(consumer *broker.Consumer, handler *service.StatusEventHandler) *StatusWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnStatusRequested(handler.HandleStatusRequested)

	return &StatusWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming until ctx is done.
func (w *StatusWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting status worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StatusWorker) Stop() error {
	w.logger.Info("Stopping status worker")
	return w.consumer.Close()
}

// CashbackExpirer is the operation the expiry worker triggers.
type CashbackExpirer interface {
	ExpireCashback(ctx context.Context, actor identity.Actor) (*service.ExpireSummary, error)
}

// DefaultExpiryInterval is used when no positive interval is configured.
const DefaultExpiryInterval = time.Hour

// ExpiryWorker runs cashback expiry on a fixed interval.
type ExpiryWorker struct {
	expirer  CashbackExpirer
	interval time.Duration
	logger   *zap.Logger
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer CashbackExpirer, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs once immediately and then on every tick until ctx is done.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cashback expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping cashback expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce triggers a single expiry run and logs its outcome.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	summary, err := w.expirer.ExpireCashback(ctx, identity.System())
	if err != nil {
		w.logger.Error("Scheduled cashback expiry failed", zap.Error(err))
		return
	}
	if summary.Skipped {
		return
	}
	w.logger.Info("Scheduled cashback expiry done",
		zap.Int("expired_batches", summary.Count),
		zap.Int("customers", summary.Customers))
}
