// Command catalog-ingest imports supplier product feeds into the catalog.
//
// Feeds are gzip-compressed JSONL files, one product per line, typically one
// file per supplier. Files are scanned concurrently; when two feeds carry the
// same product name the first occurrence wins. Parsed products are upserted
// into PostgreSQL keyed on name.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lilystore/toystore/internal/repository"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

type feedProduct struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int32           `json:"stock"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
}

func (p feedProduct) valid() bool {
	return p.Name != "" && !p.Price.IsNegative() && p.Stock >= 0
}

// dedup suppresses products already seen in another feed. The bloom filter
// answers the common "never seen" case without touching the map; a positive
// is confirmed against the exact set because bloom lookups can lie.
type dedup struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		seen:   make(map[string]struct{}),
	}
}

// claim reports whether name was free and marks it taken.
func (d *dedup) claim(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(name) {
		if _, dup := d.seen[name]; dup {
			return false
		}
	}
	d.filter.AddString(name)
	d.seen[name] = struct{}{}
	return true
}

func main() {
	var (
		feedDir     string
		databaseURL string
	)

	flag.StringVar(&feedDir, "feed-dir", "feeds", "directory containing *.jsonl.gz supplier feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, feedDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, feedDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(feedDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feed dir")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz feeds in %s", feedDir)
	}
	sort.Strings(files)

	slog.Info("scanning feeds", slog.Int("files", len(files)))

	products, err := scanFeeds(ctx, files)
	if err != nil {
		return errors.Wrap(err, "scan feeds")
	}

	slog.Info("products parsed", slog.Int("count", len(products)))

	if len(products) == 0 {
		slog.Info("nothing to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeProducts(ctx, pool, products)
}

// scanFeeds parses every feed concurrently, one goroutine per file.
// Feed order decides ties: the earlier file keeps a contested name.
func scanFeeds(ctx context.Context, files []string) ([]feedProduct, error) {
	results := make([][]feedProduct, len(files))
	seen := newDedup()

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(scanFeedFile(ctx, i, f, seen, results))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []feedProduct
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

func scanFeedFile(
	ctx context.Context,
	idx int,
	path string,
	seen *dedup,
	results [][]feedProduct,
) func() error {
	return func() error {
		var (
			products []feedProduct
			lines    uint64
			skipped  uint64
		)

		if err := streamGzLines(ctx, path, func(line []byte) {
			lines++
			if lines%progressEvery == 0 {
				slog.Info("scan progress",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("lines", lines),
				)
			}

			var p feedProduct
			if err := json.Unmarshal(line, &p); err != nil || !p.valid() {
				skipped++
				return
			}
			if !seen.claim(p.Name) {
				skipped++
				return
			}
			products = append(products, p)
		}); err != nil {
			return errors.Wrapf(err, "scan feed %s", path)
		}

		slog.Info("scan complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("lines", lines),
			slog.Int("products", len(products)),
			slog.Uint64("skipped", skipped),
		)

		results[idx] = products
		return nil
	}
}

// streamGzLines opens a gzip-compressed file and calls fn for each line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

const (
	updateProductSQL = `UPDATE products
		SET description = $2, price = $3, stock = $4, image_url = $5, category = $6, is_active = TRUE
		WHERE name = $1`

	insertProductSQL = `INSERT INTO products (name, description, price, stock, image_url, category)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

// writeProducts upserts each product keyed on name.
func writeProducts(ctx context.Context, pool *pgxpool.Pool, products []feedProduct) error {
	slog.Info("writing products", slog.Int("count", len(products)))

	for i, p := range products {
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

		if (i+1)%100 == 0 || i+1 == len(products) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(products)))
		}
	}

	return nil
}
