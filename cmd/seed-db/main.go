package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/seed"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

// restock is a variant id and a quantity to add, parsed from "id:qty".
type restock struct {
	variantID uuid.UUID
	quantity  int
}

func parseRestock(s string) (restock, error) {
	id, qty, ok := strings.Cut(s, ":")
	if !ok {
		return restock{}, errors.Errorf("restock %q: want <variant-id>:<quantity>", s)
	}
	variantID, err := uuid.Parse(id)
	if err != nil {
		return restock{}, errors.Wrapf(err, "restock %q: variant id", s)
	}
	n, err := strconv.Atoi(qty)
	if err != nil || n < 1 {
		return restock{}, errors.Errorf("restock %q: quantity must be a positive integer", s)
	}
	return restock{variantID: variantID, quantity: n}, nil
}

func main() {
	var (
		databaseURL string
		catalogFile string
		restocks    []restock
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file, empty to skip")
	flag.Func("restock", "add stock to a variant as <variant-id>:<quantity>, repeatable", func(s string) error {
		r, err := parseRestock(s)
		if err != nil {
			return err
		}
		restocks = append(restocks, r)
		return nil
	})
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

	if err := run(ctx, databaseURL, catalogFile, restocks); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, restocks []restock) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if catalogFile != "" {
		if err := seedCatalog(ctx, pool, catalogFile); err != nil {
			return errors.Wrap(err, "seed catalog")
		}
	}

	if len(restocks) > 0 {
		if err := applyRestocks(ctx, postgres.NewStore(pool), restocks); err != nil {
			return errors.Wrap(err, "restock")
		}
	}

	return nil
}

func seedCatalog(ctx context.Context, q postgres.Querier, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	c, err := seed.Load(catalogFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(c.Products)))

	for _, p := range c.Products {
		if err := postgres.UpsertProduct(ctx, q, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID.String()), slog.String("name", p.Name))
	}

	for _, v := range c.Variants {
		if err := postgres.UpsertVariant(ctx, q, v); err != nil {
			return errors.Wrapf(err, "upsert variant %s", v.ID)
		}
	}
	slog.Info("upserted variants", slog.Int("count", len(c.Variants)))

	for _, cp := range c.Coupons {
		if err := postgres.UpsertCoupon(ctx, q, cp); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", cp.Code)
		}
		slog.Info("upserted coupon", slog.String("code", cp.Code), slog.String("description", cp.Description))
	}

	return nil
}

// applyRestocks adds stock in one transaction so a partial restock is never
// visible.
func applyRestocks(ctx context.Context, st *postgres.Store, restocks []restock) error {
	return st.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		for _, r := range restocks {
			v, err := tx.Inventory().Release(ctx, r.variantID, r.quantity)
			if err != nil {
				return errors.Wrapf(err, "release variant %s", r.variantID)
			}
			slog.Info("restocked variant",
				slog.String("id", v.ID.String()),
				slog.Int("added", r.quantity),
				slog.Int64("stock", v.Stock),
			)
		}
		return nil
	})
}
