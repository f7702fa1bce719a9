// Package pipeline flattens, renames, coerces, and validates scraped listing
// payloads into property records. A row that fails validation is reported and
// skipped; it never aborts the rest of the batch.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

// FailureReason enumerates why a row was skipped.
type FailureReason string

// Row failure reasons.
const (
	ReasonMissingField FailureReason = "missing_field"
	ReasonInvalidType  FailureReason = "invalid_type"
)

// RowFailure describes one skipped row.
type RowFailure struct {
	Index  int
	Field  string
	Reason FailureReason
}

func (f RowFailure) Error() string {
	return fmt.Sprintf("row %d: %s: %s", f.Index, f.Field, f.Reason)
}

// Report is the outcome of transforming one payload.
type Report struct {
	// Rows is the number of listings found in the payload.
	Rows     int
	Records  []listing.PropertyRecord
	Failures []RowFailure
}

// Skipped returns the number of rows excluded from Records.
func (r Report) Skipped() int {
	return len(r.Failures)
}

// Pipeline converts raw page data into validated records.
type Pipeline struct {
	clock crawler.Clock
}

// New creates a Pipeline stamping records with clock's time.
func New(clock crawler.Clock) *Pipeline {
	return &Pipeline{clock: clock}
}

func (p *Pipeline) now() time.Time {
	if p == nil || p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}

// Transform decodes the embedded page document and normalizes every listing
// in it. The error is non-nil only when the document itself is unusable.
func (p *Pipeline) Transform(content []byte) (Report, error) {
	ads, err := decodeListings(content)
	if err != nil {
		return Report{}, err
	}
	scrapedAt := p.now()
	report := Report{Rows: len(ads)}
	for i, ad := range ads {
		top, props := Flatten(ad)
		record, failure := Normalize(Rename(top, props), scrapedAt)
		if failure != nil {
			failure.Index = i
			report.Failures = append(report.Failures, *failure)
			continue
		}
		report.Records = append(report.Records, record)
	}
	return report, nil
}

// Normalize coerces a renamed row into a record and checks the required
// fields. Optional fields that fail to parse become nil.
func Normalize(row Row, scrapedAt time.Time) (listing.PropertyRecord, *RowFailure) {
	id, ok := CoerceID(row["listing_id"])
	if !ok {
		return listing.PropertyRecord{}, &RowFailure{Field: "listing_id", Reason: ReasonInvalidType}
	}
	if id == "" {
		return listing.PropertyRecord{}, &RowFailure{Field: "listing_id", Reason: ReasonMissingField}
	}
	title, failure := requiredString(row, "title")
	if failure != nil {
		return listing.PropertyRecord{}, failure
	}
	propertyURL, failure := requiredString(row, "property_url")
	if failure != nil {
		return listing.PropertyRecord{}, failure
	}

	record := listing.PropertyRecord{
		ListingID:          id,
		Title:              title,
		PropertyURL:        propertyURL,
		Price:              CoerceFloat(row["price"]),
		CondominiumPrice:   CoerceFloat(row["condominium_price"]),
		IPTU:               CoerceFloat(row["iptu"]),
		Area:               CoerceFloat(row["area"]),
		Bathrooms:          CoerceInt(row["bathrooms"]),
		Bedrooms:           CoerceInt(row["bedrooms"]),
		Parking:            CoerceInt(row["parking"]),
		Municipality:       CoerceString(row["municipality"]),
		Neighborhood:       CoerceString(row["neighborhood"]),
		State:              CoerceString(row["state"]),
		Region:             CoerceString(row["region"]),
		ListingDate:        CoerceTime(row["listing_date"]),
		ScrapingDate:       scrapedAt,
		CondominiumDetails: CoerceSet(row["condominium_details"]),
		PropertyDetails:    CoerceSet(row["property_details"]),
		Type:               CoerceSet(row["type"]),
	}
	if ts := CoerceTime(row["scraping_date"]); ts != nil {
		record.ScrapingDate = *ts
	}
	return record, nil
}

func requiredString(row Row, field string) (string, *RowFailure) {
	switch v := deref(row[field]).(type) {
	case nil:
		return "", &RowFailure{Field: field, Reason: ReasonMissingField}
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return "", &RowFailure{Field: field, Reason: ReasonMissingField}
		}
		return v, nil
	default:
		return "", &RowFailure{Field: field, Reason: ReasonInvalidType}
	}
}
