package order

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/product"
	"github.com/lilystore/toystore/internal/domain/user"
)

// --- In-memory store ---

// memStore implements both product.Repository and Repository behind a single
// mutex, so CreateWithStockDecrement has the same check-and-decrement
// atomicity as the SQL implementation.
type memStore struct {
	mu       sync.Mutex
	products map[int64]*product.Product
	orders   map[int64]*Order
	nextID   int64
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products: make(map[int64]*product.Product),
		orders:   make(map[int64]*Order),
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

func (s *memStore) Get(ctx context.Context, id int64) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) List(context.Context, product.Filter) ([]product.Product, error) {
	return nil, nil
}

func (s *memStore) Search(context.Context, string) ([]product.Product, error) {
	return nil, nil
}

func (s *memStore) Categories(context.Context) ([]string, error) { return nil, nil }

func (s *memStore) Create(context.Context, *product.Product) error { return nil }

func (s *memStore) Update(ctx context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *memStore) SoftDelete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		p.Active = false
	}
	return nil
}

func (s *memStore) DecrementStock(ctx context.Context, id int64, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(id, qty)
}

func (s *memStore) decrementLocked(id int64, qty int32) error {
	p, ok := s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if !p.Active {
		return product.ErrInactive
	}
	if p.Stock < qty {
		return ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

func (s *memStore) stock(id int64) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

// Order side of the store.

func (s *memStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) ListAll(context.Context) ([]Detailed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Detailed
	for _, o := range s.orders {
		all = append(all, Detailed{Order: *o})
	}
	return all, nil
}

func (s *memStore) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var own []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			own = append(own, *o)
		}
	}
	return own, nil
}

func (s *memStore) ListByStatus(ctx context.Context, st Status) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Order
	for _, o := range s.orders {
		if o.Status == st {
			matched = append(matched, *o)
		}
	}
	return matched, nil
}

func (s *memStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(o)
	return nil
}

func (s *memStore) CreateWithStockDecrement(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[o.ProductID]
	if !ok {
		return product.ErrNotFound
	}
	price := p.Price
	if err := s.decrementLocked(o.ProductID, o.Quantity); err != nil {
		return err
	}
	o.TotalPrice = price.Mul(decimal.NewFromInt32(o.Quantity))
	s.insertLocked(o)
	return nil
}

func (s *memStore) insertLocked(o *Order) {
	s.nextID++
	o.ID = s.nextID
	cp := *o
	s.orders[o.ID] = &cp
}

func (s *memStore) UpdateStatus(ctx context.Context, id int64, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	return nil
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

func (s *memStore) TotalRevenue(context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, o := range s.orders {
		if o.Status == StatusCompleted {
			total = total.Add(o.TotalPrice)
		}
	}
	return total, nil
}

// orderRepo adapts memStore to Repository; Get and Create collide with the
// product side, so the order methods carry distinct names on the store.
type orderRepo struct{ *memStore }

func (r orderRepo) Get(ctx context.Context, id int64) (*Order, error) {
	return r.GetOrder(ctx, id)
}

func (r orderRepo) Create(ctx context.Context, o *Order) error {
	return r.CreateOrder(ctx, o)
}

// --- Helpers ---

var (
	customer      = auth.Session{UserID: 7, Role: user.RoleCustomer}
	otherCustomer = auth.Session{UserID: 8, Role: user.RoleCustomer}
	admin         = auth.Session{UserID: 1, Role: user.RoleAdmin}
)

func testProduct(id int64, price string, stock int32) product.Product {
	return product.Product{
		ID:     id,
		Name:   "Wooden Train Set",
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
}

func newTestService(products ...product.Product) (*Service, *memStore) {
	store := newMemStore(products...)
	return NewService(store, orderRepo{store}), store
}

// --- PlaceOrder ---

func TestPlaceOrder_Anonymous(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))

	_, err := svc.PlaceOrder(context.Background(), auth.Session{}, 1, 1)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))

	for _, qty := range []int32{0, -1} {
		_, err := svc.PlaceOrder(context.Background(), customer, 1, qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity, "qty %d", qty)
	}
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.PlaceOrder(context.Background(), customer, 42, 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestPlaceOrder_InactiveProduct(t *testing.T) {
	p := testProduct(1, "10.00", 5)
	p.Active = false
	svc, store := newTestService(p)

	_, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
	require.ErrorIs(t, err, product.ErrInactive)
	assert.Equal(t, int32(5), store.stock(1))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	svc, store := newTestService(testProduct(1, "10.00", 3))

	_, err := svc.PlaceOrder(context.Background(), customer, 1, 4)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// A rejected placement must leave stock untouched.
	assert.Equal(t, int32(3), store.stock(1))
}

func TestPlaceOrder_Success(t *testing.T) {
	svc, store := newTestService(testProduct(1, "12.50", 5))

	o, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, customer.UserID, o.UserID)
	assert.Equal(t, int64(1), o.ProductID)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("25.00")),
		"total %s", o.TotalPrice)
	assert.Equal(t, int32(3), store.stock(1))
	assert.False(t, o.PlacedAt.IsZero())
}

func TestPlaceOrder_TotalPriceFixedAtPlacement(t *testing.T) {
	p := testProduct(1, "10.00", 5)
	svc, store := newTestService(p)

	o, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
	require.NoError(t, err)

	// A later price edit must not affect the recorded total.
	p.Price = decimal.RequireFromString("99.00")
	require.NoError(t, store.Update(context.Background(), &p))

	got, err := svc.Get(context.Background(), customer, o.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("20.00")),
		"total %s", got.TotalPrice)
}

func TestPlaceOrder_SequentialDepletion(t *testing.T) {
	svc, store := newTestService(testProduct(1, "10.00", 5))
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, customer, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.stock(1))

	_, err = svc.PlaceOrder(ctx, otherCustomer, 1, 4)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int32(2), store.stock(1))

	_, err = svc.PlaceOrder(ctx, otherCustomer, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), store.stock(1))
}

func TestPlaceOrder_ConcurrentNeverOversells(t *testing.T) {
	const stock = 10
	svc, store := newTestService(testProduct(1, "10.00", stock))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 2*stock; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, int32(0), store.stock(1))
}

// --- TransitionStatus ---

func placeTestOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
	require.NoError(t, err)
	return o
}

func TestTransitionStatus_RequiresAdmin(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)

	_, err := svc.TransitionStatus(context.Background(), auth.Session{}, o.ID, StatusCompleted)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = svc.TransitionStatus(context.Background(), customer, o.ID, StatusCompleted)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestTransitionStatus_Complete(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)

	updated, err := svc.TransitionStatus(context.Background(), admin, o.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestTransitionStatus_CancelDoesNotRestock(t *testing.T) {
	svc, store := newTestService(testProduct(1, "10.00", 5))

	o, err := svc.PlaceOrder(context.Background(), customer, 1, 3)
	require.NoError(t, err)
	require.Equal(t, int32(2), store.stock(1))

	_, err = svc.TransitionStatus(context.Background(), admin, o.ID, StatusCancelled)
	require.NoError(t, err)

	// Cancelled quantity stays sold; stock is not returned.
	assert.Equal(t, int32(2), store.stock(1))
}

func TestTransitionStatus_TerminalRejected(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)
	ctx := context.Background()

	_, err := svc.TransitionStatus(ctx, admin, o.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = svc.TransitionStatus(ctx, admin, o.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionStatus_UnknownStatus(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)

	_, err := svc.TransitionStatus(context.Background(), admin, o.ID, Status("Shipped"))
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTransitionStatus_UnknownOrder(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))

	_, err := svc.TransitionStatus(context.Background(), admin, 999, StatusCompleted)
	require.ErrorIs(t, err, ErrNotFound)
}

// --- Get / List ---

func TestGet_OwnerOrAdmin(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)
	ctx := context.Background()

	got, err := svc.Get(ctx, customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.Get(ctx, otherCustomer, o.ID)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = svc.Get(ctx, admin, o.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, auth.Session{}, o.ID)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestList_CustomerSeesOnlyOwn(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 10))
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, customer, 1, 1)
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, otherCustomer, 1, 1)
	require.NoError(t, err)

	own, err := svc.List(ctx, customer)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, customer.UserID, own[0].UserID)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListByStatus_RequiresAdmin(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	placeTestOrder(t, svc)
	ctx := context.Background()

	_, err := svc.ListByStatus(ctx, customer, StatusPending)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = svc.ListByStatus(ctx, admin, Status("Shipped"))
	require.ErrorIs(t, err, ErrInvalidStatus)

	pending, err := svc.ListByStatus(ctx, admin, StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// --- Delete / Revenue ---

func TestDelete_RequiresAdmin(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 5))
	o := placeTestOrder(t, svc)
	ctx := context.Background()

	require.ErrorIs(t, svc.Delete(ctx, customer, o.ID), auth.ErrUnauthorized)
	require.ErrorIs(t, svc.Delete(ctx, admin, 999), ErrNotFound)

	require.NoError(t, svc.Delete(ctx, admin, o.ID))
	_, err := svc.Get(ctx, admin, o.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevenue_CompletedOrdersOnly(t *testing.T) {
	svc, _ := newTestService(testProduct(1, "10.00", 10))
	ctx := context.Background()

	completed, err := svc.PlaceOrder(ctx, customer, 1, 2)
	require.NoError(t, err)
	cancelled, err := svc.PlaceOrder(ctx, customer, 1, 3)
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, customer, 1, 1) // stays pending
	require.NoError(t, err)

	_, err = svc.TransitionStatus(ctx, admin, completed.ID, StatusCompleted)
	require.NoError(t, err)
	_, err = svc.TransitionStatus(ctx, admin, cancelled.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = svc.Revenue(ctx, customer)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	total, err := svc.Revenue(ctx, admin)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("20.00")), "total %s", total)
}
