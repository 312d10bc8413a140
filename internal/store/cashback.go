package store

import (
	"context"
	"time"

	"fulfillment-service/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const cashbackColumns = `id, customer_id, order_id, source_id, type, amount, remaining_amount, percentage,
	is_refund, earned_at, expires_at, reversed_at, created_at, updated_at, deleted_at`

// GetCustomerForUpdate locks the customer row. Every ledger mutation for the
// customer takes this lock first.
func (t *pgTx) GetCustomerForUpdate(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := t.tx.GetContext(ctx, &c, `
		SELECT id, name, cashback_balance, created_at, updated_at, deleted_at
		FROM customers WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	if err != nil {
		return nil, notFoundOr(err, "customer %d", id)
	}
	return &c, nil
}

func (t *pgTx) UpdateCashbackBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE customers SET cashback_balance = $1, updated_at = NOW() WHERE id = $2", balance, id)
	return errors.Wrapf(err, "update cashback balance of customer %d", id)
}

func (t *pgTx) ListEarnedBatches(ctx context.Context, customerID int64) ([]models.CashbackTransaction, error) {
	var batches []models.CashbackTransaction
	err := t.tx.SelectContext(ctx, &batches, `
		SELECT `+cashbackColumns+` FROM cashback_transactions
		WHERE customer_id = $1 AND type = $2 AND deleted_at IS NULL
		ORDER BY expires_at, id`, customerID, models.CashbackEarned)
	return batches, errors.Wrap(err, "list earned batches")
}

func (t *pgTx) ListUsedByOrder(ctx context.Context, orderID int64) ([]models.CashbackTransaction, error) {
	var used []models.CashbackTransaction
	err := t.tx.SelectContext(ctx, &used, `
		SELECT `+cashbackColumns+` FROM cashback_transactions
		WHERE order_id = $1 AND type = $2 AND reversed_at IS NULL AND deleted_at IS NULL
		ORDER BY id`, orderID, models.CashbackUsed)
	return used, errors.Wrap(err, "list used cashback")
}

func (t *pgTx) GetCashbackTransaction(ctx context.Context, id int64) (*models.CashbackTransaction, error) {
	var c models.CashbackTransaction
	err := t.tx.GetContext(ctx, &c,
		"SELECT "+cashbackColumns+" FROM cashback_transactions WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, notFoundOr(err, "cashback transaction %d", id)
	}
	return &c, nil
}

func (t *pgTx) InsertCashbackTransaction(ctx context.Context, c *models.CashbackTransaction) error {
	query := `
		INSERT INTO cashback_transactions
			(customer_id, order_id, source_id, type, amount, remaining_amount, percentage, is_refund, earned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		c.CustomerID, c.OrderID, c.SourceID, c.Type, c.Amount, c.RemainingAmount,
		c.Percentage, c.IsRefund, c.EarnedAt, c.ExpiresAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return errors.Wrap(err, "insert cashback transaction")
}

func (t *pgTx) UpdateRemainingAmount(ctx context.Context, id int64, remaining decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE cashback_transactions SET remaining_amount = $1, updated_at = NOW() WHERE id = $2",
		remaining, id)
	return errors.Wrapf(err, "update remaining amount of batch %d", id)
}

func (t *pgTx) MarkReversed(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE cashback_transactions SET reversed_at = $1, updated_at = NOW() WHERE id = $2", at, id)
	return errors.Wrapf(err, "mark cashback transaction %d reversed", id)
}

func (t *pgTx) ListCustomersWithExpirable(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT DISTINCT customer_id FROM cashback_transactions
		WHERE type = $1 AND remaining_amount > 0 AND expires_at <= $2 AND deleted_at IS NULL
		ORDER BY customer_id`, models.CashbackEarned, cutoff)
	return ids, errors.Wrap(err, "list customers with expirable cashback")
}
