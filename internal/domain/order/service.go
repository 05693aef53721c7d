package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/product"
)

// Service is the single authorization-and-consistency checkpoint for creating
// orders and advancing them through the status machine.
type Service struct {
	products product.Repository
	orders   Repository
}

// NewService creates an order Service with the required domain dependencies.
func NewService(products product.Repository, orders Repository) *Service {
	return &Service{
		products: products,
		orders:   orders,
	}
}

// PlaceOrder validates the request against the live catalog and atomically
// decrements stock while inserting the order. The availability pre-checks
// give precise errors; the guarded decrement inside the repository is the
// authoritative serialization point, so two concurrent placements can never
// overdraw stock below zero.
func (s *Service) PlaceOrder(ctx context.Context, sess auth.Session, productID int64, qty int32) (*Order, error) {
	if sess.Anonymous() {
		return nil, auth.ErrUnauthenticated
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, product.ErrInactive
	}
	if qty > p.Stock {
		return nil, ErrInsufficientStock
	}

	o := &Order{
		UserID:    sess.UserID,
		ProductID: productID,
		Quantity:  qty,
		PlacedAt:  time.Now().UTC(),
		Status:    StatusPending,
	}
	// The repository fixes TotalPrice from the price it reads inside the
	// transaction, so a concurrent price edit cannot split price and total.
	if err := s.orders.CreateWithStockDecrement(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// TransitionStatus moves an order to a new state. Admin only; the move must
// be legal per the transition table. Cancelling a pending order does not
// return its quantity to stock.
func (s *Service) TransitionStatus(ctx context.Context, sess auth.Session, orderID int64, newStatus Status) (*Order, error) {
	if sess.Anonymous() {
		return nil, auth.ErrUnauthenticated
	}
	if !sess.IsAdmin() {
		return nil, auth.ErrUnauthorized
	}
	if _, err := ParseStatus(string(newStatus)); err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransition(newStatus) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, newStatus)
	}

	if err := s.orders.UpdateStatus(ctx, orderID, newStatus); err != nil {
		return nil, err
	}
	o.Status = newStatus

	return o, nil
}

// Delete physically removes an order. Admin only.
func (s *Service) Delete(ctx context.Context, sess auth.Session, orderID int64) error {
	if sess.Anonymous() {
		return auth.ErrUnauthenticated
	}
	if !sess.IsAdmin() {
		return auth.ErrUnauthorized
	}
	// Surface NotFound before attempting removal, matching Get semantics.
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return err
	}
	return s.orders.Delete(ctx, orderID)
}

// List returns the caller's own orders, newest first. Admins get every order
// with product and user references resolved.
func (s *Service) List(ctx context.Context, sess auth.Session) ([]Detailed, error) {
	if sess.Anonymous() {
		return nil, auth.ErrUnauthenticated
	}
	if sess.IsAdmin() {
		return s.orders.ListAll(ctx)
	}

	own, err := s.orders.ListByUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	detailed := make([]Detailed, len(own))
	for i, o := range own {
		detailed[i] = Detailed{Order: o}
	}
	return detailed, nil
}

// Get returns a single order. Customers can only read their own orders.
func (s *Service) Get(ctx context.Context, sess auth.Session, orderID int64) (*Order, error) {
	if sess.Anonymous() {
		return nil, auth.ErrUnauthenticated
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && o.UserID != sess.UserID {
		return nil, auth.ErrUnauthorized
	}
	return o, nil
}

// ListByStatus returns all orders in the given state. Admin only.
func (s *Service) ListByStatus(ctx context.Context, sess auth.Session, st Status) ([]Order, error) {
	if sess.Anonymous() {
		return nil, auth.ErrUnauthenticated
	}
	if !sess.IsAdmin() {
		return nil, auth.ErrUnauthorized
	}
	if _, err := ParseStatus(string(st)); err != nil {
		return nil, err
	}
	return s.orders.ListByStatus(ctx, st)
}

// Revenue sums TotalPrice over completed orders. Admin only.
func (s *Service) Revenue(ctx context.Context, sess auth.Session) (decimal.Decimal, error) {
	if sess.Anonymous() {
		return decimal.Zero, auth.ErrUnauthenticated
	}
	if !sess.IsAdmin() {
		return decimal.Zero, auth.ErrUnauthorized
	}
	return s.orders.TotalRevenue(ctx)
}
