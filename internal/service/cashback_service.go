package service

import (
	"context"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/cashback"
	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const expireLockKey = "cashback-expire"

// ExpireSummary reports one ExpireCashback call.
type ExpireSummary struct {
	Count     int             `json:"expired_count"`
	Amount    decimal.Decimal `json:"expired_amount"`
	Customers int             `json:"customers"`
	// Skipped is set when another replica held the expiry lock.
	Skipped bool `json:"skipped,omitempty"`
}

// GetAvailableCashback returns the customer's spendable cashback right now.
func (s *FulfillmentService) GetAvailableCashback(ctx context.Context, actor identity.Actor, customerID int64) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.GetAvailableCashback")
	defer span.End()

	if err := canActForCustomer(actor, customerID); err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		balance, err = s.cashback.GetAvailableBalance(ctx, tx, customerID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ExpireCashback expires every batch past its expiry. Concurrent calls in this
// process share one run, and replicas are kept apart by the distributed lock.
func (s *FulfillmentService) ExpireCashback(ctx context.Context, actor identity.Actor) (*ExpireSummary, error) {
	if err := authorizeExpire(actor); err != nil {
		return nil, err
	}

	// The shared run must not die with whichever caller started it.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.expiry.Do(expireLockKey, func() (interface{}, error) {
		return s.expireOnce(runCtx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight cashback expiry run")
	}
	summary := *v.(*ExpireSummary)
	return &summary, nil
}

func (s *FulfillmentService) expireOnce(ctx context.Context) (*ExpireSummary, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.ExpireCashback")
	defer span.End()

	if s.locker != nil {
		release, acquired, err := s.locker.AcquireLock(ctx, expireLockKey, s.cfg.ExpireLockTTL)
		if err != nil {
			return nil, apperr.Internal(err, "acquire cashback expiry lock")
		}
		if !acquired {
			s.logger.Info("Cashback expiry already running elsewhere, skipping")
			return &ExpireSummary{Amount: decimal.Zero, Skipped: true}, nil
		}
		defer func() {
			if err := release(ctx); err != nil {
				s.logger.Warn("Failed to release cashback expiry lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	defer func() {
		util.CashbackExpireRunLatency.Observe(time.Since(start).Seconds())
	}()

	var result *cashback.ExpireResult
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.cashback.Expire(ctx, tx)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		s.logger.Error("Cashback expiry failed", zap.Error(err))
		return nil, err
	}

	s.logger.Info("Cashback expiry finished",
		zap.Int("expired_batches", result.Count),
		zap.Int("customers", len(result.Customers)),
		zap.String("amount", result.Amount.StringFixed(money.Scale)))

	for _, c := range result.Customers {
		s.emit(ctx, models.EventTypeCashbackExpired, models.CashbackExpiredPayload{
			CustomerID: c.CustomerID,
			Amount:     c.Amount,
			Batches:    c.Batches,
		})
	}

	return &ExpireSummary{
		Count:     result.Count,
		Amount:    result.Amount,
		Customers: len(result.Customers),
	}, nil
}
