// Package linkgen builds the crawl work list from seed category URLs.
package linkgen

import (
	"strings"

	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
)

// Path segments swapped during expansion.
const (
	SegmentSale       = "/venda/"
	SegmentRent       = "/aluguel/"
	SegmentApartments = "/apartamentos/"
	SegmentHouses     = "/casas/"
)

// Query variants appended per property type. The empty variant keeps the
// unfiltered listing.
var (
	ApartmentVariants = []string{"?rts=305", "?rts=304", "?rts=303", "?rts=302", ""}
	HouseVariants     = []string{"?rts=301", "?rts=300", ""}
	defaultVariants   = []string{""}
)

// SwapTransaction exchanges the sale and rent path segments. Links with
// neither segment are returned unchanged.
func SwapTransaction(link string) string {
	return swap(link, SegmentSale, SegmentRent)
}

// SwapPropertyType exchanges the apartment and house path segments. Links
// with neither segment are returned unchanged.
func SwapPropertyType(link string) string {
	return swap(link, SegmentApartments, SegmentHouses)
}

func swap(link, a, b string) string {
	switch {
	case strings.Contains(link, a):
		return strings.ReplaceAll(link, a, b)
	case strings.Contains(link, b):
		return strings.ReplaceAll(link, b, a)
	default:
		return link
	}
}

// Variants returns the query variants crawled for link's property type.
func Variants(link string) []string {
	switch {
	case strings.Contains(link, SegmentApartments):
		return ApartmentVariants
	case strings.Contains(link, SegmentHouses):
		return HouseVariants
	default:
		return defaultVariants
	}
}

// Expand produces every crawlable variant of seeds: both transaction types,
// both property types, and each property type's query variants. The result
// holds no duplicates and keeps first-appearance order.
func Expand(seeds []string) []string {
	links := make([]string, 0, len(seeds)*2)
	for _, seed := range seeds {
		if seed = strings.TrimSpace(seed); seed != "" {
			links = append(links, seed)
		}
	}
	for _, link := range links[:len(links):len(links)] {
		links = append(links, SwapTransaction(link))
	}
	for _, link := range links[:len(links):len(links)] {
		links = append(links, SwapPropertyType(link))
	}

	seen := make(map[string]struct{}, len(links)*len(ApartmentVariants))
	out := make([]string, 0, len(links)*len(ApartmentVariants))
	for _, link := range links {
		for _, variant := range Variants(link) {
			u := link + variant
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// WorkItems wraps urls as pending work items.
func WorkItems(urls []string) []listing.WorkItem {
	items := make([]listing.WorkItem, len(urls))
	for i, u := range urls {
		items[i] = listing.WorkItem{URL: u, Status: listing.StatusPending}
	}
	return items
}
