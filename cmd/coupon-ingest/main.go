// Command coupon-ingest imports bulk promo code dumps into the coupons
// table. Each marketing partner exports one gzip-compressed file of
// candidate codes, and a code is only honoured when enough partners
// agree on it. The dumps run to hundreds of millions of lines, far too
// many to hold as a set in memory, so the tool streams each file twice:
// the first pass builds a bloom filter per file, the second collects the
// codes that also hit another file's filter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/petiteboutique/shop-api/internal/repository"
)

const (
	// Sized for the largest partner dump observed so far (~110M codes)
	// with headroom. At 0.1% FPR a false positive only promotes a code
	// to candidate status; the second file must still confirm it.
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001

	partnerFiles  = 3
	progressEvery = 10_000_000

	// Codes outside this length range are partner-side junk.
	minCodeLen = 8
	maxCodeLen = 10

	writeBatchSize = 500
)

// promoRule is the discount attached to an ingested code. Codes the
// marketing team has briefed us on get bespoke rules; everything else
// falls back to the standard partner discount.
type promoRule struct {
	discountType string
	value        string
	minItems     int
	description  string
}

var standardPartnerRule = promoRule{
	discountType: "percentage",
	value:        "10",
	description:  "Partner promo code: 10% off",
}

var briefedRules = map[string]promoRule{
	"BIRTHDAY":   {discountType: "free_lowest", value: "0", description: "Birthday treat: cheapest item free"},
	"DUODEAL8":   {discountType: "free_lowest", value: "0", minItems: 2, description: "Two or more items: cheapest one free"},
	"HALFPRIC":   {discountType: "percentage", value: "50", description: "50% off entire order"},
	"SPRINGSALE": {discountType: "percentage", value: "30", description: "Spring sale: 30% off"},
	"TENEUROS":   {discountType: "fixed", value: "10", description: "10 off your order"},
	"HAPPYHRS":   {discountType: "percentage", value: "18", description: "Happy Hours: 18% off"},
}

func main() {
	var (
		dataDir     string
		databaseURL string
		minSources  int
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing promocodesN.gz partner dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minSources, "min-sources", 2, "number of partner files a code must appear in")
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

	ing := &ingester{
		dataDir:    dataDir,
		minSources: minSources,
	}
	if err := ing.run(ctx, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon ingest completed")
}

type ingester struct {
	dataDir    string
	minSources int
}

func (ing *ingester) run(ctx context.Context, databaseURL string) error {
	files, err := ing.partnerDumps()
	if err != nil {
		return err
	}

	slog.Info("pass 1: building per-file bloom filters", slog.Int("files", len(files)))
	filters, err := ing.buildFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build filters")
	}

	slog.Info("pass 2: cross-checking files", slog.Int("min_sources", ing.minSources))
	codes, err := ing.agreedCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect agreed codes")
	}
	slog.Info("codes agreed by partners", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return ing.storeCoupons(ctx, pool, codes)
}

func (ing *ingester) partnerDumps() ([]string, error) {
	files := make([]string, partnerFiles)
	for i := range files {
		files[i] = filepath.Join(ing.dataDir, fmt.Sprintf("promocodes%d.gz", i+1))
		if _, err := os.Stat(files[i]); err != nil {
			return nil, errors.Wrapf(err, "partner dump %s", files[i])
		}
	}
	return files, nil
}

// buildFilters streams every dump once and records each plausible code
// in that file's bloom filter. Files are independent, so they stream in
// parallel.
func (ing *ingester) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

			n, err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			slog.Info("filter built", slog.Int("file", i+1), slog.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// agreedCodes streams every dump a second time and keeps the codes that
// also appear in at least minSources files overall. Membership is
// tracked as a per-file bitmask so a code found in files 1 and 3 counts
// even though no single pass sees both.
func (ing *ingester) agreedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	perFile := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)

			n, err := streamCodes(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}

			slog.Info("cross-check done",
				slog.Int("file", i+1),
				slog.Uint64("codes", n),
				slog.Int("candidates", len(found)),
			)
			perFile[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	membership := make(map[string]uint)
	for _, found := range perFile {
		for code, mask := range found {
			membership[code] |= mask
		}
	}

	var agreed []string
	for code, mask := range membership {
		if bits.OnesCount(mask) >= ing.minSources {
			agreed = append(agreed, code)
		}
	}
	return agreed, nil
}

// streamCodes feeds every plausible code in a gzip dump to fn and
// returns how many it saw.
func streamCodes(ctx context.Context, path string, fn func(code string)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		code := scanner.Text()
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
		if n++; n%progressEvery == 0 {
			slog.Info("streaming", slog.String("file", filepath.Base(path)), slog.Uint64("codes", n))
		}
	}
	return n, errors.Wrap(scanner.Err(), "scan")
}

const upsertCouponSQL = `
INSERT INTO coupons (code, discount_type, value, min_items, description, active)
VALUES ($1, $2, $3, $4, $5, TRUE)
ON CONFLICT (code) DO UPDATE SET
    discount_type = EXCLUDED.discount_type,
    value = EXCLUDED.value,
    min_items = EXCLUDED.min_items,
    description = EXCLUDED.description,
    active = EXCLUDED.active`

// storeCoupons upserts the agreed codes in batches.
func (ing *ingester) storeCoupons(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += writeBatchSize {
		end := min(start+writeBatchSize, len(codes))

		batch := &pgx.Batch{}
		for _, code := range codes[start:end] {
			rule, ok := briefedRules[code]
			if !ok {
				rule = standardPartnerRule
			}
			value, err := decimal.NewFromString(rule.value)
			if err != nil {
				return errors.Wrapf(err, "rule value for %s", code)
			}
			batch.Queue(upsertCouponSQL, code, rule.discountType, value, rule.minItems, rule.description)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "write batch at %d", start)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}
	return nil
}
