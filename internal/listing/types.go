// Package listing defines the data shared by the crawl and ingest stages.
package listing

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a crawl target.
type Status string

// Work item status values persisted in the work list.
const (
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusNoData   Status = "no_data"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusFinished, StatusFailed, StatusNoData:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends a crawl attempt.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusNoData
}

// ParseStatus converts raw text into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// WorkItem is one crawl target in the work list.
type WorkItem struct {
	URL    string `json:"url"`
	Status Status `json:"status"`
}

// RawPayload is the message sent from the crawl stage to the ingest stage.
type RawPayload struct {
	// URL is the work item the page belongs to; routing derives from it.
	URL string `json:"url"`
	// Content is the text of the page's embedded data script.
	Content string `json:"content"`
	// PageURL is the concrete page visited while paginating.
	PageURL string `json:"page_url,omitempty"`
	// Page is the 1-based pagination index.
	Page int `json:"page,omitempty"`
}

// StatusEvent reports a work item transition.
type StatusEvent struct {
	URL    string `json:"url"`
	Status Status `json:"status"`
}

// Table names the logical destination of a record.
type Table string

// Destination tables.
const (
	TableSale Table = "sale"
	TableRent Table = "rent"
)

// PropertyRecord is the validated, canonical listing.
type PropertyRecord struct {
	ListingID          string     `json:"listing_id"`
	Title              string     `json:"title"`
	PropertyURL        string     `json:"property_url"`
	Price              *float64   `json:"price"`
	CondominiumPrice   *float64   `json:"condominium_price"`
	IPTU               *float64   `json:"iptu"`
	Area               *float64   `json:"area"`
	Bathrooms          *int       `json:"bathrooms"`
	Bedrooms           *int       `json:"bedrooms"`
	Parking            *int       `json:"parking"`
	Municipality       *string    `json:"municipality"`
	Neighborhood       *string    `json:"neighborhood"`
	State              *string    `json:"state"`
	Region             *string    `json:"region"`
	ListingDate        *time.Time `json:"listing_date"`
	ScrapingDate       time.Time  `json:"scraping_date"`
	CondominiumDetails []string   `json:"condominium_details"`
	PropertyDetails    []string   `json:"property_details"`
	Type               []string   `json:"type"`
}

// Columns lists the persisted field names in schema order.
var Columns = []string{
	"listing_id",
	"title",
	"property_url",
	"price",
	"condominium_price",
	"iptu",
	"area",
	"bathrooms",
	"bedrooms",
	"parking",
	"municipality",
	"neighborhood",
	"state",
	"region",
	"listing_date",
	"scraping_date",
	"condominium_details",
	"property_details",
	"type",
}

// Values returns the record's fields aligned with Columns.
func (r PropertyRecord) Values() []any {
	return []any{
		r.ListingID,
		r.Title,
		r.PropertyURL,
		r.Price,
		r.CondominiumPrice,
		r.IPTU,
		r.Area,
		r.Bathrooms,
		r.Bedrooms,
		r.Parking,
		r.Municipality,
		r.Neighborhood,
		r.State,
		r.Region,
		r.ListingDate,
		r.ScrapingDate,
		r.CondominiumDetails,
		r.PropertyDetails,
		r.Type,
	}
}

// Fields returns the record as a column-name keyed map.
func (r PropertyRecord) Fields() map[string]any {
	values := r.Values()
	out := make(map[string]any, len(Columns))
	for i, col := range Columns {
		out[col] = values[i]
	}
	return out
}
