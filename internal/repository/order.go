package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lilystore/toystore/internal/domain/order"
)

const (
	orderColumns = `id, user_id, product_id, quantity, total_price, placed_at, status`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listAllOrdersSQL = `SELECT o.id, o.user_id, o.product_id, o.quantity, o.total_price, o.placed_at, o.status,
		p.name, u.username
		FROM orders o
		JOIN products p ON p.id = o.product_id
		JOIN users u ON u.id = o.user_id
		ORDER BY o.id`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY placed_at DESC, id DESC`

	listOrdersByStatusSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = $1 ORDER BY id`

	insertOrderSQL = `INSERT INTO orders (user_id, product_id, quantity, total_price, placed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	totalRevenueSQL = `SELECT COALESCE(SUM(total_price), 0) FROM orders WHERE status = $1`

	// Placement: the guarded decrement returns the live price, which fixes
	// the order total inside the same transaction.
	placeDecrementSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND is_active AND stock >= $2
		RETURNING price`
)

// serializationFailure is the PostgreSQL SQLSTATE for a lost serialization
// race under SERIALIZABLE/REPEATABLE READ.
const serializationFailure = "40001"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool     *pgxpool.Pool
	products *ProductRepository
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		pool:     pool,
		products: NewProductRepository(pool),
	}
}

// Get returns a single order by ID.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

// ListAll returns every order with its product name and username resolved.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Detailed, error) {
	rows, err := r.pool.Query(ctx, listAllOrdersSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Detailed, error) {
		var d order.Detailed
		err := row.Scan(
			&d.ID, &d.UserID, &d.ProductID, &d.Quantity, &d.TotalPrice, &d.PlacedAt, &d.Status,
			&d.ProductName, &d.Username,
		)
		return d, err
	})
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders for user %d", userID)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListByStatus returns all orders in the given state.
func (r *OrderRepository) ListByStatus(ctx context.Context, st order.Status) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByStatusSQL, string(st))
	if err != nil {
		return nil, errors.Wrapf(err, "list orders by status %s", st)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Create inserts an order without touching stock. Used by ingest/seed paths;
// placements go through CreateWithStockDecrement.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.PlacedAt.IsZero() {
		o.PlacedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, insertOrderSQL,
		o.UserID, o.ProductID, o.Quantity, o.TotalPrice, o.PlacedAt, string(o.Status),
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

// CreateWithStockDecrement performs the placement pairing: decrement stock
// only if enough remains, fix the total from the price observed by that same
// statement, and insert the order, all in one transaction. Either both writes
// commit or neither does.
func (r *OrderRepository) CreateWithStockDecrement(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin placement")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var price decimal.Decimal
	err = tx.QueryRow(ctx, placeDecrementSQL, o.ProductID, o.Quantity).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No row matched the guard: missing, inactive, or overdrawn.
			return r.products.classifyDecrementFailure(ctx, tx, o.ProductID)
		}
		return wrapConflict(err, "decrement stock")
	}

	o.TotalPrice = price.Mul(decimal.NewFromInt32(o.Quantity))
	if o.PlacedAt.IsZero() {
		o.PlacedAt = time.Now().UTC()
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.UserID, o.ProductID, o.Quantity, o.TotalPrice, o.PlacedAt, string(o.Status),
	).Scan(&o.ID)
	if err != nil {
		return wrapConflict(err, "insert order")
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapConflict(err, "commit placement")
	}
	return nil
}

// UpdateStatus sets an order's status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, st order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(st))
	if err != nil {
		return errors.Wrapf(err, "update status of order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Delete physically removes an order row.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// TotalRevenue sums TotalPrice over completed orders.
func (r *OrderRepository) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, totalRevenueSQL, string(order.StatusCompleted)).Scan(&total)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "total revenue")
	}
	return total, nil
}

// wrapConflict maps a lost serialization race onto order.ErrConflict so the
// caller can decide whether to retry.
func wrapConflict(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return errors.Wrap(order.ErrConflict, msg)
	}
	return errors.Wrap(err, msg)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &o.TotalPrice, &o.PlacedAt, &status)
	o.Status = order.Status(status)
	return o, err
}
