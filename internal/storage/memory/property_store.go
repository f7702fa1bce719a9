package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/storage"
)

// PropertyStore keeps records per physical table, keyed by listing ID.
type PropertyStore struct {
	names storage.TableNames

	mu     sync.RWMutex
	tables map[string]map[string]listing.PropertyRecord
}

// NewPropertyStore creates an empty store. Empty names take the defaults.
func NewPropertyStore(names storage.TableNames) (*PropertyStore, error) {
	names = names.WithDefaults()
	if err := names.Validate(); err != nil {
		return nil, err
	}
	return &PropertyStore{
		names:  names,
		tables: make(map[string]map[string]listing.PropertyRecord),
	}, nil
}

// ResolveTable returns the physical table name configured for table.
func (s *PropertyStore) ResolveTable(table listing.Table) (string, error) {
	return s.names.Resolve(table)
}

// BulkInsert upserts records by listing ID.
func (s *PropertyStore) BulkInsert(_ context.Context, table string, records []listing.PropertyRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		if table != s.names.Sale && table != s.names.Rent {
			return 0, fmt.Errorf("unknown table %q", table)
		}
		rows = make(map[string]listing.PropertyRecord)
		s.tables[table] = rows
	}
	written := 0
	for _, rec := range records {
		if strings.TrimSpace(rec.ListingID) == "" {
			continue
		}
		rows[rec.ListingID] = rec
		written++
	}
	return written, nil
}

// Records returns the rows of table ordered by listing ID.
func (s *PropertyStore) Records(table string) []listing.PropertyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tables[table]
	out := make([]listing.PropertyRecord, 0, len(rows))
	for _, rec := range rows {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b listing.PropertyRecord) int {
		return strings.Compare(a.ListingID, b.ListingID)
	})
	return out
}

// Ping always succeeds.
func (s *PropertyStore) Ping(context.Context) error { return nil }
