package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload reports content that cannot be decoded into a listing collection.
var ErrMalformedPayload = errors.New("malformed payload")

// Row is the mapping-based intermediate form of one listing. Values are nil,
// string, json.Number, bool, []any, or native Go scalars when rows are built
// in code.
type Row map[string]any

// adsPath locates the listing collection inside the embedded page data.
var adsPath = []string{"props", "pageProps", "ads"}

// decodeListings parses the embedded page document and returns its listing collection.
func decodeListings(content []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", ErrMalformedPayload, err)
	}
	node := doc
	for _, key := range adsPath {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedPayload, key)
		}
		node, ok = obj[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(adsPath, "."))
		}
	}
	switch ads := node.(type) {
	case []any:
		return ads, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, want array", ErrMalformedPayload, strings.Join(adsPath, "."), node)
	}
}

// Flatten turns one listing into a Row: nested objects become dotted keys and
// the properties label/value pairs become columns keyed by lower-cased label.
// The returned maps hold top-level fields and property fields separately.
func Flatten(listing any) (Row, Row) {
	top := Row{}
	props := Row{}
	obj, ok := listing.(map[string]any)
	if !ok {
		return top, props
	}
	flattenInto(top, "", obj)
	if raw, ok := top["properties"].([]any); ok {
		for _, item := range raw {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			label, ok := pair["label"].(string)
			if !ok || strings.TrimSpace(label) == "" {
				continue
			}
			props[strings.ToLower(strings.TrimSpace(label))] = pair["value"]
		}
	}
	delete(top, "properties")
	return top, props
}

func flattenInto(dst Row, prefix string, obj map[string]any) {
	for key, value := range obj {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			flattenInto(dst, name, nested)
			continue
		}
		dst[name] = value
	}
}
