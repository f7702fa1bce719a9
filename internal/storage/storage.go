// Package storage holds the pieces shared by the property and blob stores.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Default physical table names.
const (
	DefaultSaleTable = "properties_sale"
	DefaultRentTable = "properties_rent"
)

// TableNames maps destination tables to physical table names.
type TableNames struct {
	Sale string `mapstructure:"sale"`
	Rent string `mapstructure:"rent"`
}

// WithDefaults fills empty names.
func (n TableNames) WithDefaults() TableNames {
	if n.Sale == "" {
		n.Sale = DefaultSaleTable
	}
	if n.Rent == "" {
		n.Rent = DefaultRentTable
	}
	return n
}

// Validate rejects names that cannot be safely interpolated into SQL.
func (n TableNames) Validate() error {
	for _, name := range []string{n.Sale, n.Rent} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Resolve returns the physical name for table.
func (n TableNames) Resolve(table listing.Table) (string, error) {
	switch table {
	case listing.TableSale:
		return n.Sale, nil
	case listing.TableRent:
		return n.Rent, nil
	default:
		return "", fmt.Errorf("unknown table %q", table)
	}
}

// NoOpBlobStore discards every object. It is useful for running ingest
// without an artifact bucket.
type NoOpBlobStore struct{}

// PutObject does nothing and returns an empty URI.
func (NoOpBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
