// Package router decides which destination table a crawl target's records
// belong to and hands them to the persistence layer.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

// ErrUnroutable is returned for URLs that name neither a sale nor a rental listing.
var ErrUnroutable = errors.New("url does not identify a destination table")

const (
	saleMarker = "/venda/"
	rentMarker = "/aluguel/"
)

// Route maps a crawl target URL to its destination table. There is no
// default table.
func Route(rawURL string) (listing.Table, error) {
	switch {
	case strings.Contains(rawURL, saleMarker):
		return listing.TableSale, nil
	case strings.Contains(rawURL, rentMarker):
		return listing.TableRent, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnroutable, rawURL)
	}
}

// Region derives the region label from the last path segment of rawURL,
// with hyphens read as spaces. It returns nil when there is no segment.
func Region(rawURL string) *string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	i := strings.LastIndex(path, "/")
	segment := strings.TrimSpace(strings.ReplaceAll(path[i+1:], "-", " "))
	if segment == "" {
		return nil
	}
	return &segment
}

// Store is the persistence boundary.
type Store interface {
	// ResolveTable returns the physical table name configured for table.
	ResolveTable(table listing.Table) (string, error)
	// BulkInsert writes records to the physical table, replacing rows that
	// share a listing ID, and returns the number of rows written.
	BulkInsert(ctx context.Context, table string, records []listing.PropertyRecord) (int, error)
}

// Result describes one Persist call.
type Result struct {
	Table    listing.Table
	Physical string
	Region   *string
	Written  int
}

// Router persists records to the table their crawl target routes to.
type Router struct {
	store  Store
	logger *zap.Logger
}

// New creates a Router writing through store.
func New(store Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, logger: logger}
}

// Persist routes sourceURL, stamps every record with the URL's region, and
// bulk inserts them. Nothing is written when the URL is unroutable.
func (r *Router) Persist(ctx context.Context, sourceURL string, records []listing.PropertyRecord) (Result, error) {
	table, err := Route(sourceURL)
	if err != nil {
		return Result{}, err
	}
	result := Result{Table: table, Region: Region(sourceURL)}
	physical, err := r.store.ResolveTable(table)
	if err != nil {
		return result, fmt.Errorf("resolve table %s: %w", table, err)
	}
	result.Physical = physical
	if len(records) == 0 {
		return result, nil
	}

	stamped := make([]listing.PropertyRecord, len(records))
	for i, rec := range records {
		if result.Region != nil {
			region := *result.Region
			rec.Region = &region
		}
		stamped[i] = rec
	}
	written, err := r.store.BulkInsert(ctx, physical, stamped)
	result.Written = written
	if err != nil {
		return result, fmt.Errorf("bulk insert into %s: %w", physical, err)
	}
	r.logger.Debug("records persisted",
		zap.String("table", physical),
		zap.Int("records", len(stamped)),
		zap.Int("written", written),
	)
	return result, nil
}
