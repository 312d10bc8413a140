package cashback

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/clock"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultExpiry is how long an earned batch stays spendable.
const DefaultExpiry = 30 * 24 * time.Hour

// Repository is the slice of the unit of work the ledger writes to.
type Repository interface {
	store.CustomerRepository
	store.CashbackRepository
}

// CustomerExpiry summarizes what one Expire run took from a customer.
type CustomerExpiry struct {
	CustomerID int64
	Amount     decimal.Decimal
	Batches    int
}

// ExpireResult summarizes an Expire run.
type ExpireResult struct {
	Count     int
	Amount    decimal.Decimal
	Customers []CustomerExpiry
}

// ReverseResult summarizes a reversal.
type ReverseResult struct {
	Restored      decimal.Decimal
	Refunded      decimal.Decimal
	RefundBatches []int64
}

// Total is everything given back to the customer.
func (r ReverseResult) Total() decimal.Decimal {
	return r.Restored.Add(r.Refunded)
}

// Ledger owns cashback batches. Every mutation locks the customer row first,
// which serializes earn, spend, expire and reverse per customer, and ends by
// rewriting the customer's cached balance from the live batch sum.
type Ledger struct {
	clock  clock.Clock
	expiry time.Duration
	logger *zap.Logger
}

// NewLedger creates a cashback ledger. expiry <= 0 falls back to DefaultExpiry.
func NewLedger(clk clock.Clock, expiry time.Duration) *Ledger {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Ledger{clock: clk, expiry: expiry, logger: util.GetLogger()}
}

// Earn creates an Earned batch of amount expiring after the configured period.
func (l *Ledger) Earn(ctx context.Context, repo Repository, customerID, orderID int64, amount, percentage decimal.Decimal) (*models.CashbackTransaction, error) {
	ctx, span := util.StartSpan(ctx, "CashbackLedger.Earn")
	defer span.End()

	amount = money.Round(amount)
	if !money.IsPositive(amount) {
		return nil, apperr.InvalidField("amount", "earned cashback must be greater than zero")
	}

	if _, err := repo.GetCustomerForUpdate(ctx, customerID); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	batch := &models.CashbackTransaction{
		CustomerID:      customerID,
		OrderID:         &orderID,
		Type:            models.CashbackEarned,
		Amount:          amount,
		RemainingAmount: amount,
		Percentage:      percentage,
		EarnedAt:        now,
		ExpiresAt:       now.Add(l.expiry),
	}
	if err := repo.InsertCashbackTransaction(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to insert earned batch: %w", err)
	}

	if _, err := l.refreshBalance(ctx, repo, customerID, now); err != nil {
		return nil, err
	}

	util.CashbackEarnedTotal.Inc()
	l.logger.Info("Cashback earned",
		zap.Int64("customer_id", customerID),
		zap.Int64("order_id", orderID),
		zap.String("amount", amount.StringFixed(money.Scale)),
		zap.Time("expires_at", batch.ExpiresAt))
	return batch, nil
}

// Spend consumes amount from the customer's batches, earliest expiry first,
// writing one Used entry per touched batch. Nothing is written on failure.
func (l *Ledger) Spend(ctx context.Context, repo Repository, customerID, orderID int64, amount decimal.Decimal) ([]models.CashbackTransaction, error) {
	ctx, span := util.StartSpan(ctx, "CashbackLedger.Spend")
	defer span.End()

	if _, err := repo.GetCustomerForUpdate(ctx, customerID); err != nil {
		return nil, err
	}

	batches, err := repo.ListEarnedBatches(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cashback batches: %w", err)
	}

	now := l.clock.Now()
	plan, err := Allocate(batches, money.Round(amount), now)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	byID := make(map[int64]models.CashbackTransaction, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	used := make([]models.CashbackTransaction, 0, len(plan))
	for _, a := range plan {
		src := byID[a.BatchID]
		if err := repo.UpdateRemainingAmount(ctx, a.BatchID, a.Remaining); err != nil {
			return nil, fmt.Errorf("failed to consume batch %d: %w", a.BatchID, err)
		}
		sourceID := a.BatchID
		entry := models.CashbackTransaction{
			CustomerID:      customerID,
			OrderID:         &orderID,
			SourceID:        &sourceID,
			Type:            models.CashbackUsed,
			Amount:          a.Amount,
			RemainingAmount: decimal.Zero,
			EarnedAt:        now,
			ExpiresAt:       src.ExpiresAt,
		}
		if err := repo.InsertCashbackTransaction(ctx, &entry); err != nil {
			return nil, fmt.Errorf("failed to record used cashback: %w", err)
		}
		used = append(used, entry)
	}

	if _, err := l.refreshBalance(ctx, repo, customerID, now); err != nil {
		return nil, err
	}

	util.CashbackSpentTotal.Inc()
	return used, nil
}

// Expire converts the unspent remainder of every batch past its expiry into an
// Expired entry. Running it again in the same window finds nothing to do.
func (l *Ledger) Expire(ctx context.Context, repo Repository) (*ExpireResult, error) {
	ctx, span := util.StartSpan(ctx, "CashbackLedger.Expire")
	defer span.End()

	now := l.clock.Now()
	result := &ExpireResult{Amount: decimal.Zero}

	customerIDs, err := repo.ListCustomersWithExpirable(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers with expirable cashback: %w", err)
	}

	for _, customerID := range customerIDs {
		summary, err := l.expireCustomer(ctx, repo, customerID, now)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		if summary.Batches == 0 {
			continue
		}
		result.Count += summary.Batches
		result.Amount = result.Amount.Add(summary.Amount)
		result.Customers = append(result.Customers, summary)
	}

	util.CashbackExpiredTotal.Add(float64(result.Count))
	return result, nil
}

func (l *Ledger) expireCustomer(ctx context.Context, repo Repository, customerID int64, now time.Time) (CustomerExpiry, error) {
	summary := CustomerExpiry{CustomerID: customerID, Amount: decimal.Zero}

	if _, err := repo.GetCustomerForUpdate(ctx, customerID); err != nil {
		return summary, err
	}
	batches, err := repo.ListEarnedBatches(ctx, customerID)
	if err != nil {
		return summary, fmt.Errorf("failed to list cashback batches: %w", err)
	}

	byID := make(map[int64]models.CashbackTransaction, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}

	for _, exp := range ExpireBatches(batches, now) {
		sourceID := exp.BatchID
		entry := &models.CashbackTransaction{
			CustomerID:      customerID,
			SourceID:        &sourceID,
			Type:            models.CashbackExpired,
			Amount:          exp.Amount,
			RemainingAmount: decimal.Zero,
			EarnedAt:        now,
			ExpiresAt:       byID[exp.BatchID].ExpiresAt,
		}
		if err := repo.InsertCashbackTransaction(ctx, entry); err != nil {
			return summary, fmt.Errorf("failed to record expired cashback: %w", err)
		}
		if err := repo.UpdateRemainingAmount(ctx, exp.BatchID, decimal.Zero); err != nil {
			return summary, fmt.Errorf("failed to zero batch %d: %w", exp.BatchID, err)
		}
		summary.Batches++
		summary.Amount = summary.Amount.Add(exp.Amount)
	}

	if _, err := l.refreshBalance(ctx, repo, customerID, now); err != nil {
		return summary, err
	}
	return summary, nil
}

// GetAvailableBalance sums the live remaining amount of unexpired batches.
func (l *Ledger) GetAvailableBalance(ctx context.Context, repo store.CashbackRepository, customerID int64) (decimal.Decimal, error) {
	batches, err := repo.ListEarnedBatches(ctx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list cashback batches: %w", err)
	}
	return AvailableBalance(batches, l.clock.Now()), nil
}

// Reverse gives back the cashback an order consumed. Amounts return to their
// source batch with its original expiry; when that batch has already expired the
// amount is issued as a new refund batch with a fresh expiry instead.
func (l *Ledger) Reverse(ctx context.Context, repo Repository, customerID, orderID int64) (*ReverseResult, error) {
	ctx, span := util.StartSpan(ctx, "CashbackLedger.Reverse")
	defer span.End()

	result := &ReverseResult{Restored: decimal.Zero, Refunded: decimal.Zero}

	if _, err := repo.GetCustomerForUpdate(ctx, customerID); err != nil {
		return nil, err
	}

	used, err := repo.ListUsedByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list used cashback: %w", err)
	}
	if len(used) == 0 {
		return result, nil
	}

	sources := map[int64]models.CashbackTransaction{}
	for _, u := range used {
		if u.CustomerID != customerID {
			return nil, apperr.Internal(nil, "cashback transaction %d belongs to customer %d", u.ID, u.CustomerID)
		}
		if u.SourceID == nil {
			continue
		}
		if _, ok := sources[*u.SourceID]; ok {
			continue
		}
		src, err := repo.GetCashbackTransaction(ctx, *u.SourceID)
		if err != nil {
			return nil, err
		}
		sources[src.ID] = *src
	}

	now := l.clock.Now()
	steps, err := PlanReversal(used, sources, now)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if step.Restore {
			if err := repo.UpdateRemainingAmount(ctx, step.SourceID, step.NewRemaining); err != nil {
				return nil, fmt.Errorf("failed to restore batch %d: %w", step.SourceID, err)
			}
			result.Restored = result.Restored.Add(step.Amount)
		} else {
			sourceID := step.SourceID
			refund := &models.CashbackTransaction{
				CustomerID:      customerID,
				OrderID:         &orderID,
				SourceID:        &sourceID,
				Type:            models.CashbackEarned,
				Amount:          step.Amount,
				RemainingAmount: step.Amount,
				IsRefund:        true,
				EarnedAt:        now,
				ExpiresAt:       now.Add(l.expiry),
			}
			if err := repo.InsertCashbackTransaction(ctx, refund); err != nil {
				return nil, fmt.Errorf("failed to issue refund batch: %w", err)
			}
			result.Refunded = result.Refunded.Add(step.Amount)
			result.RefundBatches = append(result.RefundBatches, refund.ID)
		}
		if err := repo.MarkReversed(ctx, step.UsedID, now); err != nil {
			return nil, fmt.Errorf("failed to mark used cashback %d reversed: %w", step.UsedID, err)
		}
	}

	if _, err := l.refreshBalance(ctx, repo, customerID, now); err != nil {
		return nil, err
	}

	l.logger.Info("Cashback reversed",
		zap.Int64("customer_id", customerID),
		zap.Int64("order_id", orderID),
		zap.String("restored", result.Restored.StringFixed(money.Scale)),
		zap.String("refunded", result.Refunded.StringFixed(money.Scale)))
	return result, nil
}

// refreshBalance rewrites the cached balance from the live batch sum.
func (l *Ledger) refreshBalance(ctx context.Context, repo Repository, customerID int64, now time.Time) (decimal.Decimal, error) {
	batches, err := repo.ListEarnedBatches(ctx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list cashback batches: %w", err)
	}
	balance := AvailableBalance(batches, now)
	if err := repo.UpdateCashbackBalance(ctx, customerID, balance); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update cashback balance: %w", err)
	}
	return balance, nil
}
