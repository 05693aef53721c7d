package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for catalog lookups and validation.
var (
	ErrNotFound     = errors.New("product not found")
	ErrInactive     = errors.New("product is not available")
	ErrNameRequired = errors.New("product name is required")
	ErrInvalidPrice = errors.New("price must not be negative")
	ErrInvalidStock = errors.New("stock must not be negative")
)

// Product represents a catalog item available for purchase. Stock is the
// count of sellable units and is never negative; an inactive product stays in
// the catalog (orders keep referencing it) but cannot be ordered or listed by
// default.
type Product struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int32
	ImageURL    string
	Category    string
	Active      bool
}

// Orderable reports whether the product can currently be ordered at all.
func (p *Product) Orderable() bool {
	return p.Active && p.Stock > 0
}

// Validate checks the invariants enforced on create and update.
func (p *Product) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if p.Stock < 0 {
		return ErrInvalidStock
	}
	return nil
}

// Filter narrows catalog listings. The zero value lists everything.
type Filter struct {
	// Category is an exact-match filter when non-empty.
	Category string
	// ActiveOnly excludes soft-deleted products.
	ActiveOnly bool
}

// Repository defines the catalog store contract. DecrementStock is the one
// mutation with a concurrency contract: the check-then-decrement must be a
// single atomic unit relative to other decrements.
type Repository interface {
	Get(ctx context.Context, id int64) (*Product, error)
	List(ctx context.Context, f Filter) ([]Product, error)
	Search(ctx context.Context, term string) ([]Product, error)
	Categories(ctx context.Context) ([]string, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	SoftDelete(ctx context.Context, id int64) error
	DecrementStock(ctx context.Context, id int64, qty int32) error
}
