package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// fiveOrMore is the site's label for counts of five and above.
const fiveOrMore = "5 ou mais"

// setSeparator splits multi-valued text fields.
const setSeparator = ", "

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func deref(value any) any {
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case *float64:
		if v == nil {
			return nil
		}
		return *v
	case *int:
		if v == nil {
			return nil
		}
		return *v
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	default:
		return value
	}
}

// CoerceID stringifies numeric identifiers. The boolean is false when the
// value has a type an identifier can never have.
func CoerceID(value any) (string, bool) {
	switch v := deref(value).(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := v.Float64()
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(int64(f), 10), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	default:
		return "", false
	}
}

// CoerceInt parses room and parking counts. Blank and unparsable input yields
// nil; the "5 ou mais" label yields 5.
func CoerceInt(value any) *int {
	var text string
	switch v := deref(value).(type) {
	case nil:
		return nil
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		n := int(v)
		return &n
	case json.Number:
		text = v.String()
	case string:
		text = v
	default:
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.Contains(text, fiveOrMore) {
		n := 5
		return &n
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return nil
	}
	return &n
}

// CoerceFloat parses prices and areas. Text is read as pt-BR formatted: every
// character other than digits and the decimal comma is stripped, so
// "R$ 1.234,50" becomes 1234.5. Numbers pass through.
func CoerceFloat(value any) *float64 {
	switch v := deref(value).(type) {
	case nil:
		return nil
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		return parseLocaleFloat(v)
	default:
		return nil
	}
}

func parseLocaleFloat(text string) *float64 {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &f
}

// CoerceSet turns text or lists into a sorted, duplicate-free set. Text
// containing ", " is split; other text is a singleton.
func CoerceSet(value any) []string {
	var items []string
	switch v := deref(value).(type) {
	case string:
		if strings.Contains(v, setSeparator) {
			items = strings.Split(v, setSeparator)
		} else {
			items = []string{v}
		}
	case []string:
		items = v
	case []any:
		items = make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case nil:
			case string:
				items = append(items, s)
			default:
				items = append(items, fmt.Sprint(s))
			}
		}
	default:
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CoerceTime converts integer epoch seconds to UTC timestamps and parses
// already formatted text. Anything else yields nil.
func CoerceTime(value any) *time.Time {
	var ts time.Time
	switch v := deref(value).(type) {
	case time.Time:
		ts = v
	case int:
		ts = time.Unix(int64(v), 0).UTC()
	case int64:
		ts = time.Unix(v, 0).UTC()
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		ts = time.Unix(n, 0).UTC()
	case string:
		parsed, ok := parseTime(strings.TrimSpace(v))
		if !ok {
			return nil
		}
		ts = parsed
	default:
		return nil
	}
	return &ts
}

func parseTime(text string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// CoerceString returns trimmed text for optional string fields.
func CoerceString(value any) *string {
	var text string
	switch v := deref(value).(type) {
	case string:
		text = strings.TrimSpace(v)
	case json.Number:
		text = v.String()
	default:
		return nil
	}
	if text == "" {
		return nil
	}
	return &text
}
