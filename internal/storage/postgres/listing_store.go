// Package postgres provides the Postgres-backed listing sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// listingColumns mirrors the CSV column order in snake case.
var listingColumns = []string{
	"title", "make", "model", "model_title", "condition", "year", "mileage",
	"price", "monthly_payment", "dealer", "value", "region", "state", "link", "time",
}

// maxRowsPerStatement keeps one INSERT under the 65535 bind parameter limit.
const maxRowsPerStatement = 4000

// ListingStoreConfig controls the Postgres connection pool used for listing rows.
type ListingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore writes each job's batch into Postgres inside its own transaction.
type ListingStore struct {
	pool   txPool
	table  string
	logger *zap.Logger
}

// NewListingStore creates a Postgres-backed ListingStore using the provided config.
func NewListingStore(ctx context.Context, cfg ListingStoreConfig, logger *zap.Logger) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewListingStoreWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool txPool, table string, logger *zap.Logger) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "cars"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingStore{pool: pool, table: table, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// WriteBatch inserts listings in one transaction. A failure rolls back only
// this batch.
func (s *ListingStore) WriteBatch(ctx context.Context, target crawler.Target, listings []crawler.EnrichedListing) error {
	if len(listings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin listing tx: %w", err)
	}
	for start := 0; start < len(listings); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(listings))
		query, args := s.insertStatement(listings[start:end])
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Warn("listing tx rollback failed", zap.String("target", target.Slug()), zap.Error(rbErr))
			}
			return fmt.Errorf("insert listings: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit listing tx: %w", err)
	}
	s.logger.Debug("listing batch committed", zap.String("target", target.Slug()), zap.Int("rows", len(listings)))
	return nil
}

// EnsureSchema creates the listing table when it does not exist yet.
func (s *ListingStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.createStatement()); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *ListingStore) createStatement() string {
	defs := make([]string, 0, len(listingColumns)+1)
	defs = append(defs, "id BIGSERIAL PRIMARY KEY")
	for _, col := range listingColumns {
		typ := "TEXT"
		switch col {
		case "value":
			typ = "DOUBLE PRECISION NOT NULL DEFAULT 0"
		case "time":
			typ = "TIMESTAMPTZ NOT NULL"
		}
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" "+typ)
	}
	return "CREATE TABLE IF NOT EXISTS " + pgx.Identifier{s.table}.Sanitize() + " (" + strings.Join(defs, ", ") + ")"
}

// Reset truncates the listing table.
func (s *ListingStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{s.table}.Sanitize()); err != nil {
		return fmt.Errorf("truncate %s: %w", s.table, err)
	}
	return nil
}

func (s *ListingStore) insertStatement(listings []crawler.EnrichedListing) (string, []any) {
	quoted := make([]string, len(listingColumns))
	for i, col := range listingColumns {
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{s.table}.Sanitize())
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(listings)*len(listingColumns))
	for i, l := range listings {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range listingColumns {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i*len(listingColumns) + j + 1))
		}
		b.WriteByte(')')
		args = append(args, rowArgs(l)...)
	}
	return b.String(), args
}

func rowArgs(l crawler.EnrichedListing) []any {
	return []any{
		nullable(l.Title),
		nullable(l.Make),
		nullable(l.Model),
		nullable(l.ModelTitle),
		nullable(l.Condition),
		nullable(l.Year),
		nullable(l.Mileage),
		nullable(l.Price),
		nullable(l.MonthlyPayment),
		nullable(l.Dealer),
		l.Value,
		nullable(l.Region),
		nullable(l.State),
		nullable(l.Link),
		l.CapturedAt,
	}
}

// nullable stores missing card fields as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
