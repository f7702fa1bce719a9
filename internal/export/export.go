// Package export writes ingested record batches as CSV artifacts to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

// ContentType is the media type of exported batches.
const ContentType = "text/csv"

// CSVExporter writes one object per batch under
// <prefix>/<table>/<yyyy-mm-dd>/<batch-id>.csv.
type CSVExporter struct {
	blobs  crawler.BlobStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
	prefix string
}

// NewCSVExporter creates an exporter. prefix may be empty.
func NewCSVExporter(blobs crawler.BlobStore, ids crawler.IDGenerator, clock crawler.Clock, prefix string) *CSVExporter {
	return &CSVExporter{
		blobs:  blobs,
		ids:    ids,
		clock:  clock,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Export encodes records and stores them, returning the object URI.
func (e *CSVExporter) Export(ctx context.Context, table string, records []listing.PropertyRecord) (string, error) {
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	id, err := e.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("batch id: %w", err)
	}
	key := path.Join(e.prefix, table, e.clock.Now().UTC().Format(time.DateOnly), id+".csv")
	uri, err := e.blobs.PutObject(ctx, key, ContentType, data)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}

// Encode renders records as CSV with a listing.Columns header.
func Encode(records []listing.PropertyRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(listing.Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(listing.Columns))
	for _, rec := range records {
		for i, v := range rec.Values() {
			row[i] = formatValue(v)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write record %s: %w", rec.ListingID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case *float64:
		if t == nil {
			return ""
		}
		// pt-BR decimal comma, the form the ingest pipeline parses.
		return strings.Replace(strconv.FormatFloat(*t, 'f', -1, 64), ".", ",", 1)
	case *int:
		if t == nil {
			return ""
		}
		return strconv.Itoa(*t)
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case []string:
		return strings.Join(t, ", ")
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
