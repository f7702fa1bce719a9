// Package postgres persists property records with pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
)

// Config controls the Postgres connection pool used for property rows.
type Config struct {
	DSN             string
	Tables          storage.TableNames
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// BatchSize caps the statements queued per round trip.
	BatchSize int
}

const defaultBatchSize = 500

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// PropertyStore upserts property records into the sale and rent tables.
type PropertyStore struct {
	pool      batchSender
	tables    storage.TableNames
	batchSize int
}

// NewPropertyStore connects a pool using cfg.
func NewPropertyStore(ctx context.Context, cfg Config) (*PropertyStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	tables := cfg.Tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
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
	return &PropertyStore{pool: pool, tables: tables, batchSize: batchSizeOrDefault(cfg.BatchSize)}, nil
}

// NewPropertyStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPropertyStoreWithPool(pool batchSender, tables storage.TableNames, batchSize int) (*PropertyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return &PropertyStore{pool: pool, tables: tables, batchSize: batchSizeOrDefault(batchSize)}, nil
}

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return defaultBatchSize
	}
	return n
}

// Close releases the underlying pool resources.
func (s *PropertyStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *PropertyStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ResolveTable returns the physical table name configured for table.
func (s *PropertyStore) ResolveTable(table listing.Table) (string, error) {
	return s.tables.Resolve(table)
}

// UpsertQuery builds the insert statement for table. A conflicting listing ID
// replaces every other column.
func UpsertQuery(table string) string {
	placeholders := make([]string, len(listing.Columns))
	updates := make([]string, 0, len(listing.Columns)-1)
	for i, col := range listing.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "listing_id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (listing_id) DO UPDATE SET %s",
		table,
		strings.Join(listing.Columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// BulkInsert upserts records in batches and returns the rows affected.
func (s *PropertyStore) BulkInsert(ctx context.Context, table string, records []listing.PropertyRecord) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("property store is not configured")
	}
	if table != s.tables.Sale && table != s.tables.Rent {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	query := UpsertQuery(table)
	total := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		n, err := s.sendBatch(ctx, query, records[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *PropertyStore) sendBatch(ctx context.Context, query string, records []listing.PropertyRecord) (int, error) {
	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(query, rec.Values()...)
	}
	br := s.pool.SendBatch(ctx, b)
	total := 0
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("upsert listing %s: %w", records[i].ListingID, err)
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return total, fmt.Errorf("close batch: %w", err)
	}
	return total, nil
}
