// Package enrich derives geo point fields from the coordinates embedded in a
// vacancy document.
package enrich

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

// Enrich returns a copy of doc with address_geodata and address_metro_geodata
// set to "lat,lng" where the corresponding coordinates are present and
// numeric. It never fails and never modifies doc.
func Enrich(doc vacancy.Document) vacancy.Document {
	out := doc.Clone()

	if geo, ok := Coordinates(doc, "address"); ok {
		out[vacancy.FieldAddressGeodata] = geo
	}
	if geo, ok := Coordinates(doc, "address", "metro"); ok {
		out[vacancy.FieldAddressMetroGeodata] = geo
	}

	return out
}

// Coordinates formats the lat and lng fields of the object at path as
// "lat,lng". It reports false when the object is missing, null, or either
// coordinate is not numeric.
func Coordinates(doc vacancy.Document, path ...string) (string, bool) {
	v, ok := Lookup(doc, path...)
	if !ok {
		return "", false
	}
	obj, ok := asObject(v)
	if !ok {
		return "", false
	}

	lat, ok := number(obj["lat"])
	if !ok {
		return "", false
	}
	lng, ok := number(obj["lng"])
	if !ok {
		return "", false
	}
	return lat + "," + lng, true
}

// Lookup walks nested objects along path. It reports false when a segment
// is absent, null, or not an object.
func Lookup(doc vacancy.Document, path ...string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, key := range path {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, cur != nil
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, o != nil
	case vacancy.Document:
		return o, o != nil
	}
	return nil, false
}

// number renders a numeric-like value in its textual form.
func number(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return decimal(n.String())
	case float64:
		if !finite(n) {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		if !finite(float64(n)) {
			return "", false
		}
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case string:
		return decimal(n)
	}
	return "", false
}

// decimal accepts s only as a JSON number literal that fits a float64, so
// forms like "0x1p-2", "Inf" or "1_000" are rejected.
func decimal(s string) (string, bool) {
	if s == "" || !(s[0] == '-' || isDigit(s[0])) || !isDigit(s[len(s)-1]) || !json.Valid([]byte(s)) {
		return "", false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return "", false
	}
	return s, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
