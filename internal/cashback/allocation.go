package cashback

import (
	"sort"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/money"

	"github.com/shopspring/decimal"
)

// Allocation is the part of a spend taken from one Earned batch.
type Allocation struct {
	BatchID   int64
	Amount    decimal.Decimal
	Remaining decimal.Decimal // batch remaining after this allocation
}

// Expiration is the unspent remainder of one batch that passed its expiry.
type Expiration struct {
	BatchID    int64
	CustomerID int64
	Amount     decimal.Decimal
}

// ReversalStep restores one Used entry. When Restore is false the source batch
// has expired and the amount goes to a fresh refund batch instead.
type ReversalStep struct {
	UsedID   int64
	SourceID int64
	Amount   decimal.Decimal
	Restore  bool
	// NewRemaining is the source batch remaining after restoring; only set when Restore.
	NewRemaining decimal.Decimal
}

// AvailableBalance sums remaining amounts of Earned batches not yet expired at now.
func AvailableBalance(batches []models.CashbackTransaction, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.IsAvailable(now) {
			total = total.Add(b.RemainingAmount)
		}
	}
	return total
}

// spendable returns available batches ordered earliest expiry first, ties by ID.
func spendable(batches []models.CashbackTransaction, now time.Time) []models.CashbackTransaction {
	out := make([]models.CashbackTransaction, 0, len(batches))
	for _, b := range batches {
		if b.IsAvailable(now) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Allocate plans a spend of amount across batches, earliest expiry first. It
// either covers the full amount or returns InsufficientCashback with no plan.
func Allocate(batches []models.CashbackTransaction, amount decimal.Decimal, now time.Time) ([]Allocation, error) {
	if !money.IsPositive(amount) {
		return nil, apperr.InvalidField("cashback_to_use", "must be greater than zero")
	}

	available := AvailableBalance(batches, now)
	if amount.GreaterThan(available) {
		return nil, apperr.New(apperr.KindInsufficientCashback,
			"requested %s, available %s", amount.StringFixed(money.Scale), available.StringFixed(money.Scale)).
			WithDetail("requested", amount.StringFixed(money.Scale)).
			WithDetail("available", available.StringFixed(money.Scale))
	}

	left := amount
	var plan []Allocation
	for _, b := range spendable(batches, now) {
		if left.Sign() == 0 {
			break
		}
		take := money.Min(b.RemainingAmount, left)
		plan = append(plan, Allocation{
			BatchID:   b.ID,
			Amount:    take,
			Remaining: b.RemainingAmount.Sub(take),
		})
		left = left.Sub(take)
	}

	if left.Sign() != 0 {
		return nil, apperr.New(apperr.KindInsufficientCashback, "could not allocate %s", left.StringFixed(money.Scale)).
			WithDetail("requested", amount.StringFixed(money.Scale)).
			WithDetail("available", available.StringFixed(money.Scale))
	}
	return plan, nil
}

// ExpireBatches lists Earned batches with remaining > 0 whose expiry is at or
// before now. Already zeroed batches never appear, which makes expiry idempotent.
func ExpireBatches(batches []models.CashbackTransaction, now time.Time) []Expiration {
	var out []Expiration
	for _, b := range batches {
		if b.Type != models.CashbackEarned || b.RemainingAmount.Sign() <= 0 || b.ExpiresAt.After(now) {
			continue
		}
		out = append(out, Expiration{BatchID: b.ID, CustomerID: b.CustomerID, Amount: b.RemainingAmount})
	}
	return out
}

// PlanReversal decides, per Used entry, whether its amount goes back to the
// source batch (expiry untouched) or to a fresh refund batch because the source
// has expired. sources must contain every referenced batch.
func PlanReversal(used []models.CashbackTransaction, sources map[int64]models.CashbackTransaction, now time.Time) ([]ReversalStep, error) {
	// Running remaining per source, since one order may hold several Used
	// entries against the same batch.
	remaining := map[int64]decimal.Decimal{}
	steps := make([]ReversalStep, 0, len(used))

	for _, u := range used {
		if u.Type != models.CashbackUsed || u.SourceID == nil {
			return nil, apperr.Internal(nil, "cashback transaction %d is not a sourced Used entry", u.ID)
		}
		src, ok := sources[*u.SourceID]
		if !ok {
			return nil, apperr.NotFound("cashback batch %d", *u.SourceID)
		}

		step := ReversalStep{UsedID: u.ID, SourceID: src.ID, Amount: u.Amount}
		if src.ExpiresAt.After(now) {
			cur, seen := remaining[src.ID]
			if !seen {
				cur = src.RemainingAmount
			}
			next := cur.Add(u.Amount)
			if next.GreaterThan(src.Amount) {
				return nil, apperr.Internal(nil, "reversal would overfill batch %d", src.ID)
			}
			remaining[src.ID] = next
			step.Restore = true
			step.NewRemaining = next
		}
		steps = append(steps, step)
	}
	return steps, nil
}
