package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilystore/toystore/internal/domain/order"
	"github.com/lilystore/toystore/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, stock, image_url, category, is_active`

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	// Search is deliberately case-sensitive substring match, on name or
	// description, matching the catalog's historical behavior.
	searchProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE position($1 IN name) > 0 OR position($1 IN description) > 0
		ORDER BY id`

	categoriesSQL = `SELECT DISTINCT category FROM products
		WHERE is_active AND category <> '' ORDER BY category`

	createProductSQL = `INSERT INTO products (name, description, price, stock, image_url, category, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, price = $4, stock = $5, image_url = $6, category = $7, is_active = $8
		WHERE id = $1`

	softDeleteProductSQL = `UPDATE products SET is_active = FALSE WHERE id = $1`

	// The guarded decrement: check and write are one statement, so two
	// concurrent decrements can never take stock below zero.
	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND is_active AND stock >= $2`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Get returns a single product by ID.
func (r *ProductRepository) Get(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// List returns products in ID order, optionally narrowed by category and
// active flag.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) ([]product.Product, error) {
	sql := `SELECT ` + productColumns + ` FROM products WHERE ($1 = '' OR category = $1)`
	if f.ActiveOnly {
		sql += ` AND is_active`
	}
	sql += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, sql, f.Category)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Search returns products whose name or description contains term.
func (r *ProductRepository) Search(ctx context.Context, term string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, searchProductsSQL, term)
	if err != nil {
		return nil, errors.Wrapf(err, "search products %q", term)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Categories returns the distinct non-empty categories of active products.
func (r *ProductRepository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, categoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Create inserts a new product and assigns its ID.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, createProductSQL,
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category, p.Active,
	).Scan(&p.ID)
	if err != nil {
		return errors.Wrapf(err, "create product %q", p.Name)
	}
	return nil
}

// Update fully replaces a product row by ID.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category, p.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "update product %d", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// SoftDelete marks a product inactive. The row is never removed so existing
// orders keep a valid reference.
func (r *ProductRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, softDeleteProductSQL, id)
	if err != nil {
		return errors.Wrapf(err, "soft delete product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// DecrementStock applies the guarded decrement outside a placement
// transaction. When the update matches no row the product is re-read to tell
// missing, inactive and overdrawn apart.
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, qty int32) error {
	tag, err := r.pool.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return errors.Wrapf(err, "decrement stock for product %d", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.classifyDecrementFailure(ctx, r.pool, id)
}

// querier is the subset of pgx query methods shared by pools and transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// classifyDecrementFailure maps a zero-row guarded decrement onto the precise
// domain error.
func (r *ProductRepository) classifyDecrementFailure(ctx context.Context, q querier, id int64) error {
	rows, err := q.Query(ctx, getProductSQL, id)
	if err != nil {
		return errors.Wrapf(err, "inspect product %d", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return product.ErrNotFound
		}
		return errors.Wrapf(err, "inspect product %d", id)
	}
	if !p.Active {
		return product.ErrInactive
	}
	return order.ErrInsufficientStock
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.ImageURL, &p.Category, &p.Active,
	)
	return p, err
}
