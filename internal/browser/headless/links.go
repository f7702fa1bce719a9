package headless

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FindNextPageLink scans rendered HTML for the anchor whose text matches
// label and returns its href resolved against base. It returns "" when the
// page has no such anchor.
func FindNextPageLink(html, base, label string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	want := strings.ToLower(strings.TrimSpace(label))
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.Join(strings.Fields(sel.Text()), " "))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(sel.AttrOr("aria-label", "")))
		}
		if !strings.Contains(text, want) {
			return true
		}
		href = strings.TrimSpace(sel.AttrOr("href", ""))
		return href == ""
	})
	if href == "" {
		return "", nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse next page href %q: %w", href, err)
	}
	if base == "" {
		return ref.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
