//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/lilystore/toystore/internal/domain/auth"
	"github.com/lilystore/toystore/internal/domain/order"
	"github.com/lilystore/toystore/internal/domain/product"
	"github.com/lilystore/toystore/internal/domain/user"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	code, err := runMain(m)
	if err != nil {
		log.Fatalf("integration setup: %v", err)
	}
	os.Exit(code)
}

func runMain(m *testing.M) (int, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "toystore",
				"POSTGRES_PASSWORD": "toystore",
				"POSTGRES_DB":       "toystore",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	if err != nil {
		return 0, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return 0, err
	}

	dsn := fmt.Sprintf("postgres://toystore:toystore@%s:%s/toystore?sslmode=disable", host, port.Port())
	pool, err = NewPool(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	if err := RunMigrations(ctx, pool); err != nil {
		return 0, err
	}

	return m.Run(), nil
}

// truncate resets all tables so tests do not observe each other's rows.
func truncate(t *testing.T) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE sessions, orders, users, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func createProduct(t *testing.T, repo *ProductRepository, name, price string, stock int32) *product.Product {
	t.Helper()
	p := &product.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		Category: "Wooden",
		Active:   true,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func createUser(t *testing.T, repo *UserRepository, username string, role user.Role) *user.User {
	t.Helper()
	u := &user.User{
		Username:     username,
		PasswordHash: "$2a$10$fakehashfakehashfakehash",
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

// --- Products ---

func TestProductRepository(t *testing.T) {
	truncate(t)
	repo := NewProductRepository(pool)
	ctx := context.Background()

	p := createProduct(t, repo, "Wooden Train Set", "34.99", 25)
	require.NotZero(t, p.ID)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wooden Train Set", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("34.99")))
	assert.Equal(t, int32(25), got.Stock)
	assert.True(t, got.Active)

	_, err = repo.Get(ctx, 9999)
	require.ErrorIs(t, err, product.ErrNotFound)

	got.Description = "22-piece wooden railway"
	got.Price = decimal.RequireFromString("29.99")
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "22-piece wooden railway", updated.Description)
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("29.99")))

	// Search is a case-sensitive substring match.
	found, err := repo.Search(ctx, "Train")
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = repo.Search(ctx, "train")
	require.NoError(t, err)
	assert.Empty(t, found)

	cats, err := repo.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Wooden"}, cats)

	// Soft delete hides the row from active listings but keeps it readable.
	require.NoError(t, repo.SoftDelete(ctx, p.ID))

	active, err := repo.List(ctx, product.Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := repo.List(ctx, product.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	gone, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, gone.Active)
}

func TestProductRepository_DecrementStock(t *testing.T) {
	truncate(t)
	repo := NewProductRepository(pool)
	ctx := context.Background()

	p := createProduct(t, repo, "Building Blocks", "15.00", 3)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 2))

	err := repo.DecrementStock(ctx, p.ID, 2)
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Stock)

	require.NoError(t, repo.SoftDelete(ctx, p.ID))
	err = repo.DecrementStock(ctx, p.ID, 1)
	require.ErrorIs(t, err, product.ErrInactive)

	err = repo.DecrementStock(ctx, 9999, 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

// --- Users ---

func TestUserRepository(t *testing.T) {
	truncate(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.WarmUsernameFilter(ctx))

	u := createUser(t, repo, "lily", user.RoleCustomer)
	require.NotZero(t, u.ID)

	got, err := repo.FindByUsername(ctx, "lily")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, user.RoleCustomer, got.Role)

	byID, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "lily", byID.Username)

	_, err = repo.FindByUsername(ctx, "nobody")
	require.ErrorIs(t, err, user.ErrNotFound)

	exists, err := repo.UsernameExists(ctx, "lily")
	require.NoError(t, err)
	assert.True(t, exists)

	// The warmed bloom filter answers unseen names without a query.
	exists, err = repo.UsernameExists(ctx, "definitely-unseen")
	require.NoError(t, err)
	assert.False(t, exists)

	// Unique violation maps onto the domain error.
	dup := &user.User{Username: "lily", PasswordHash: "x", Role: user.RoleCustomer, CreatedAt: time.Now().UTC()}
	err = repo.Create(ctx, dup)
	require.ErrorIs(t, err, user.ErrDuplicateUsername)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- Orders ---

func TestOrderRepository_PlaceAndQuery(t *testing.T) {
	truncate(t)
	products := NewProductRepository(pool)
	users := NewUserRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	p := createProduct(t, products, "Plush Elephant", "18.50", 5)
	u := createUser(t, users, "lily", user.RoleCustomer)

	o := &order.Order{
		UserID:    u.ID,
		ProductID: p.ID,
		Quantity:  2,
		PlacedAt:  time.Now().UTC(),
		Status:    order.StatusPending,
	}
	require.NoError(t, orders.CreateWithStockDecrement(ctx, o))
	require.NotZero(t, o.ID)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("37.00")),
		"total %s", o.TotalPrice)

	left, err := products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), left.Stock)

	// Over-ask fails and rolls the transaction back.
	over := &order.Order{UserID: u.ID, ProductID: p.ID, Quantity: 4,
		PlacedAt: time.Now().UTC(), Status: order.StatusPending}
	err = orders.CreateWithStockDecrement(ctx, over)
	require.ErrorIs(t, err, order.ErrInsufficientStock)

	left, err = products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), left.Stock)

	own, err := orders.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)

	detailed, err := orders.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, detailed, 1)
	assert.Equal(t, "Plush Elephant", detailed[0].ProductName)
	assert.Equal(t, "lily", detailed[0].Username)

	require.NoError(t, orders.UpdateStatus(ctx, o.ID, order.StatusCompleted))

	completed, err := orders.ListByStatus(ctx, order.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	revenue, err := orders.TotalRevenue(ctx)
	require.NoError(t, err)
	assert.True(t, revenue.Equal(decimal.RequireFromString("37.00")),
		"revenue %s", revenue)

	require.NoError(t, orders.Delete(ctx, o.ID))
	_, err = orders.Get(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_ConcurrentPlacement(t *testing.T) {
	truncate(t)
	products := NewProductRepository(pool)
	users := NewUserRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	const stock = 10
	p := createProduct(t, products, "Toy Robot", "49.99", stock)
	u := createUser(t, users, "lily", user.RoleCustomer)

	// Twice as many single-unit placements as there is stock. The guarded
	// decrement must admit exactly stock of them.
	results := make([]error, 2*stock)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			o := &order.Order{UserID: u.ID, ProductID: p.ID, Quantity: 1,
				PlacedAt: time.Now().UTC(), Status: order.StatusPending}
			results[i] = orders.CreateWithStockDecrement(gctx, o)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, order.ErrInsufficientStock)
	}
	assert.Equal(t, stock, succeeded)

	left, err := products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), left.Stock)

	placed, err := orders.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, placed, stock)
}

// --- Sessions ---

func TestSessionRepository(t *testing.T) {
	truncate(t)
	users := NewUserRepository(pool)
	sessions := NewSessionRepository(pool)
	ctx := context.Background()

	u := createUser(t, users, "lily", user.RoleCustomer)

	live := &auth.Token{
		TokenHash: "live-hash",
		UserID:    u.ID,
		Role:      u.Role,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	expired := &auth.Token{
		TokenHash: "expired-hash",
		UserID:    u.ID,
		Role:      u.Role,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, sessions.Insert(ctx, live))
	require.NoError(t, sessions.Insert(ctx, expired))

	got, err := sessions.FindByHash(ctx, "live-hash")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, user.RoleCustomer, got.Role)

	// Expired rows resolve like missing ones.
	_, err = sessions.FindByHash(ctx, "expired-hash")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	purged, err := sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	require.NoError(t, sessions.DeleteByHash(ctx, "live-hash"))
	_, err = sessions.FindByHash(ctx, "live-hash")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}
