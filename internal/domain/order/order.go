package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and persistence.
var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict reports a concurrent stock update that lost the race at the
	// storage level. The service never retries internally; a bounded retry is
	// the caller's call.
	ErrConflict = errors.New("conflicting stock update, retry")
)

// Order is a single placement of a product by a user. TotalPrice is fixed at
// placement time from the product price inside the placement transaction and
// is never recomputed from the current catalog price. UserID and ProductID
// are non-owning references: deactivating or deleting the referenced entity
// leaves the order intact.
type Order struct {
	ID         int64
	UserID     int64
	ProductID  int64
	Quantity   int32
	TotalPrice decimal.Decimal
	PlacedAt   time.Time
	Status     Status
}

// Detailed is an order with its references resolved for display.
type Detailed struct {
	Order
	ProductName string
	Username    string
}

// Repository defines the order ledger contract. CreateWithStockDecrement is
// the atomic pairing of the guarded stock decrement and the order insert:
// both commit or neither does, and the implementation fills in TotalPrice
// from the product price it observed inside the same transaction.
type Repository interface {
	Get(ctx context.Context, id int64) (*Order, error)
	ListAll(ctx context.Context) ([]Detailed, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	ListByStatus(ctx context.Context, st Status) ([]Order, error)
	Create(ctx context.Context, o *Order) error
	CreateWithStockDecrement(ctx context.Context, o *Order) error
	UpdateStatus(ctx context.Context, id int64, st Status) error
	Delete(ctx context.Context, id int64) error
	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
}
