package pipeline

import (
	"maps"
	"slices"
)

// topLevelNames maps the site's top-level (and dotted location) keys onto record fields.
var topLevelNames = map[string]string{
	"title":                         "title",
	"price":                         "price",
	"listId":                        "listing_id",
	"url":                           "property_url",
	"date":                          "listing_date",
	"locationDetails.municipality":  "municipality",
	"locationDetails.neighbourhood": "neighborhood",
	"locationDetails.uf":            "state",
}

// propertyNames maps lower-cased property labels onto record fields.
var propertyNames = map[string]string{
	"área construída":        "area",
	"área útil":              "area",
	"vagas na garagem":       "parking",
	"quartos":                "bedrooms",
	"banheiros":              "bathrooms",
	"condomínio":             "condominium_price",
	"iptu":                   "iptu",
	"tipo":                   "type",
	"detalhes do condomínio": "condominium_details",
	"detalhes do imóvel":     "property_details",
}

// canonicalFields are accepted verbatim from the properties collection.
var canonicalFields = map[string]struct{}{
	"listing_id":          {},
	"title":               {},
	"property_url":        {},
	"price":               {},
	"condominium_price":   {},
	"iptu":                {},
	"area":                {},
	"bathrooms":           {},
	"bedrooms":            {},
	"parking":             {},
	"municipality":        {},
	"neighborhood":        {},
	"state":               {},
	"listing_date":        {},
	"condominium_details": {},
	"property_details":    {},
	"type":                {},
}

// Rename maps both naming dialects onto record field names. Top-level fields
// take precedence over properties that resolve to the same field; anything
// unmapped is dropped.
func Rename(top, props Row) Row {
	out := Row{}
	for key, value := range top {
		if field, ok := topLevelNames[key]; ok {
			out[field] = value
		}
	}
	for _, label := range slices.Sorted(maps.Keys(props)) {
		value := props[label]
		field, ok := propertyNames[label]
		if !ok {
			if _, canonical := canonicalFields[label]; !canonical {
				continue
			}
			field = label
		}
		if _, taken := out[field]; taken {
			continue
		}
		out[field] = value
	}
	return out
}
