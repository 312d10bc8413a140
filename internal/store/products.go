package store

import (
	"context"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const productColumns = `id, seller_id, sku, name, price, stock_quantity, min_stock_level, status,
	created_at, updated_at, deleted_at`

// GetProduct retrieves a live product by ID
func (t *pgTx) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, notFoundOr(err, "product %d", id)
	}
	return &p, nil
}

// GetProductForUpdate locks the product row (FOR UPDATE) so concurrent stock
// adjustments on the same product serialize.
func (t *pgTx) GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id)
	if err != nil {
		return nil, notFoundOr(err, "product %d", id)
	}
	return &p, nil
}

// GetProductsByIDs retrieves multiple live products by IDs
func (t *pgTx) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+productColumns+" FROM products WHERE id IN (?) AND deleted_at IS NULL ORDER BY id", ids)
	if err != nil {
		return nil, errors.Wrap(err, "build products query")
	}
	query = t.tx.Rebind(query)

	var products []models.Product
	if err := t.tx.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	return products, nil
}

// UpdateProductStock writes the adjusted quantity and derived status.
func (t *pgTx) UpdateProductStock(ctx context.Context, id int64, quantity int, status models.ProductStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = $1, status = $2, updated_at = NOW() WHERE id = $3",
		quantity, status, id)
	return errors.Wrapf(err, "update stock of product %d", id)
}

// InsertStockMovement records an applied adjustment
func (t *pgTx) InsertStockMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (product_id, order_id, delta, quantity_after, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		m.ProductID, m.OrderID, m.Delta, m.QuantityAfter, m.Reason).Scan(&m.ID, &m.CreatedAt)
	return errors.Wrap(err, "insert stock movement")
}
