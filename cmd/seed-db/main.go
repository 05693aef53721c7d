// Command seed-db loads the starter catalog into PostgreSQL and provisions
// the initial admin account. It is idempotent: rerunning updates existing
// rows instead of duplicating them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/lilystore/toystore/internal/repository"
)

type productJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int32           `json:"stock"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
}

const (
	updateProductSQL = `UPDATE products
		SET description = $2, price = $3, stock = $4, image_url = $5, category = $6, is_active = TRUE
		WHERE name = $1`

	insertProductSQL = `INSERT INTO products (name, description, price, stock, image_url, category)
		VALUES ($1, $2, $3, $4, $5, $6)`

	upsertAdminSQL = `INSERT INTO users (username, password_hash, full_name, role)
		VALUES ($1, $2, 'Store Administrator', 'Admin')
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'Admin'`
)

func main() {
	var (
		databaseURL   string
		productsFile  string
		adminUsername string
		adminPassword string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&adminUsername, "admin-username", "admin", "username for the initial admin account")
	flag.StringVar(&adminPassword, "admin-password", "", "password for the initial admin account (or TOYSTORE_SEED_ADMIN_PASSWORD env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("TOYSTORE_SEED_ADMIN_PASSWORD")
	}
	if adminPassword == "" {
		slog.Error("admin password is required: set --admin-password or TOYSTORE_SEED_ADMIN_PASSWORD")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, adminUsername, adminPassword); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, adminUsername, adminPassword string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAdmin(ctx, pool, adminUsername, adminPassword); err != nil {
		return errors.Wrap(err, "seed admin")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	// Products have no unique name constraint, so upsert is update-then-insert
	// keyed on name.
	for _, p := range products {
		tag, err := pool.Exec(ctx, updateProductSQL,
			p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category)
		if err != nil {
			return errors.Wrapf(err, "update product %q", p.Name)
		}
		if tag.RowsAffected() == 0 {
			if _, err := pool.Exec(ctx, insertProductSQL,
				p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.Category); err != nil {
				return errors.Wrapf(err, "insert product %q", p.Name)
			}
		}

		slog.Info("upserted product", slog.String("name", p.Name))
	}

	return nil
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, username, password string) error {
	slog.Info("seeding admin account", slog.String("username", username))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash admin password")
	}

	if _, err := pool.Exec(ctx, upsertAdminSQL, username, string(hash)); err != nil {
		return errors.Wrap(err, "upsert admin user")
	}

	return nil
}
