// Command coupon-ingest imports promo codes from gzip-compressed code dumps.
// A code is accepted when it appears in at least -quorum of the dumps.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule is the discount granted by a known code.
type codeRule struct {
	discountType coupon.DiscountType
	value        string
	minPurchase  int64
	description  string
}

var codeRules = map[string]codeRule{
	"BIRTHDAY": {discountType: coupon.DiscountFixedAmount, value: "1000", description: "Birthday: 1000 off"},
	"BUYGETON": {discountType: coupon.DiscountPercentage, value: "50", minPurchase: 2000, description: "Half price on orders of 2000 or more"},
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: "50", description: "50% off entire order"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: "60", description: "60% off entire order"},
	"FREEZAAA": {discountType: coupon.DiscountPercentage, value: "100", description: "Everything free!"},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: "15", description: "Open source discount: 15% off"},
	"OVER9000": {discountType: coupon.DiscountFixedAmount, value: "900", minPurchase: 9000, description: "900 off orders over 9000"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: "18", description: "Happy Hours: 18% off"},
}

var defaultRule = codeRule{
	discountType: coupon.DiscountPercentage,
	value:        "10",
	description:  "Valid promo code: 10% off",
}

type options struct {
	dataDir  string
	pattern  string
	quorum   int
	maxUses  int
	validFor time.Duration
	writers  int
	expected uint
}

func main() {
	var (
		opts        options
		databaseURL string
	)

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing code dumps")
	flag.StringVar(&opts.pattern, "pattern", "couponbase*.gz", "glob of code dumps inside data-dir")
	flag.IntVar(&opts.quorum, "quorum", 2, "number of dumps a code must appear in")
	flag.IntVar(&opts.maxUses, "max-uses", 1000, "usage limit of every imported coupon")
	flag.DurationVar(&opts.validFor, "valid-for", 30*24*time.Hour, "lifetime of imported coupons")
	flag.IntVar(&opts.writers, "writers", 8, "concurrent database writers")
	flag.UintVar(&opts.expected, "expected-codes", 120_000_000, "expected codes per dump, sizes the bloom filters")
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

	if err := run(ctx, opts, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, opts options, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "list dumps")
	}
	if err := checkFiles(files, opts.quorum); err != nil {
		return err
	}

	codes, err := collectCodes(ctx, files, opts.quorum, opts.expected)
	if err != nil {
		return err
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	expiresAt := time.Now().UTC().Add(opts.validFor)
	if err := writeCoupons(ctx, pool, codes, opts.maxUses, expiresAt, opts.writers); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

func checkFiles(files []string, quorum int) error {
	switch {
	case quorum < 1:
		return errors.Errorf("quorum must be positive, got %d", quorum)
	case len(files) < quorum:
		return errors.Errorf("found %d dumps, need at least %d", len(files), quorum)
	case len(files) > bits.UintSize:
		return errors.Errorf("found %d dumps, at most %d are supported", len(files), bits.UintSize)
	}
	return nil
}

// collectCodes runs both passes and returns the sorted accepted codes.
func collectCodes(ctx context.Context, files []string, quorum int, expected uint) ([]string, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, expected)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding candidate codes", slog.Int("quorum", quorum))

	codes, err := findValidCodes(ctx, files, filters, quorum)
	if err != nil {
		return nil, errors.Wrap(err, "find valid codes")
	}
	slices.Sort(codes)
	return codes, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter, err := buildFilter(ctx, i, f, expected)
			if err != nil {
				return err
			}
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilter(ctx context.Context, idx int, path string, expected uint) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(expected, bloomFPR)
	var count uint64

	if err := streamGzFile(ctx, path, func(code string) {
		filter.AddString(code)
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "build filter for %s", path)
	}

	slog.Info("pass 1 complete", slog.Int("file", idx+1), slog.Uint64("total_codes", count))
	return filter, nil
}

// findValidCodes re-streams each file and marks every code with the files it
// may appear in according to the bloom filters, then confirms each candidate
// against the exact per-file bitmasks gathered in this pass.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, quorum int) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates, err := findCandidates(ctx, i, f, filters, quorum)
			if err != nil {
				return err
			}
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Bloom filters over-report; the merged exact bits decide.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= quorum {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidates(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter, quorum int) (map[string]uint, error) {
	candidates := make(map[string]uint)
	fileBit := uint(1) << uint(idx)
	var count uint64

	if err := streamGzFile(ctx, path, func(code string) {
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
		}

		hits := 1
		for j, f := range filters {
			if j != idx && f.TestString(code) {
				hits++
			}
		}
		if hits >= quorum {
			candidates[code] |= fileBit
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "scan %s for candidates", path)
	}

	slog.Info("pass 2 complete",
		slog.Int("file", idx+1),
		slog.Uint64("total_codes", count),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each normalized
// code of acceptable length.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := coupon.NormalizeCode(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// buildCoupon applies the rule of code, or the default rule.
func buildCoupon(code string, maxUses int, expiresAt time.Time) (coupon.Coupon, error) {
	rule, ok := codeRules[code]
	if !ok {
		rule = defaultRule
	}

	value, err := decimal.NewFromString(rule.value)
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "parse decimal value for code %s", code)
	}

	return coupon.Coupon{
		Code:              code,
		DiscountType:      rule.discountType,
		DiscountValue:     value,
		MinPurchaseAmount: rule.minPurchase,
		MaxUses:           maxUses,
		ExpiresAt:         expiresAt,
		IsActive:          true,
		Description:       rule.description,
	}, nil
}

// writeCoupons upserts codes with a bounded number of concurrent writers.
func writeCoupons(ctx context.Context, q postgres.Querier, codes []string, maxUses int, expiresAt time.Time, writers int) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)), slog.Int("writers", writers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(writers, 1))

	for i, code := range codes {
		c, err := buildCoupon(code, maxUses, expiresAt)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := postgres.UpsertCoupon(ctx, q, c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", code)
			}
			return nil
		})

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("queued", i+1), slog.Int("total", len(codes)))
		}
	}

	return g.Wait()
}
