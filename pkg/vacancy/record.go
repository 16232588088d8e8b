package vacancy

import (
	"encoding/json"
	"errors"
)

// ErrMalformedListing is returned when a listing page lacks the items array
// or the page count.
var ErrMalformedListing = errors.New("malformed listing envelope")

// Reference is the detail-fetch URL of one listed vacancy.
// It is the deduplication key: equality is plain string equality.
type Reference string

// ListingItem is one entry of a listing page. Only the detail URL is used;
// the id is kept raw because the listing does not fix its JSON type.
type ListingItem struct {
	ID  json.RawMessage `json:"id,omitempty"`
	URL string          `json:"url"`
}

// ListingPage is the envelope returned by the listing endpoint.
// Pages is a pointer so a missing count can be told apart from zero.
type ListingPage struct {
	Items []ListingItem `json:"items"`
	Pages *int          `json:"pages"`
	Page  int           `json:"page"`
	Found int           `json:"found"`
}

// Validate reports ErrMalformedListing when the items array or the page
// count is missing.
func (p *ListingPage) Validate() error {
	if p == nil || p.Items == nil || p.Pages == nil {
		return ErrMalformedListing
	}
	return nil
}

// Document is the untyped JSON document returned by the detail endpoint.
type Document map[string]any

// Clone returns a shallow copy of the document. Nested values are shared.
func (d Document) Clone() Document {
	out := make(Document, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Record is an enriched document ready for delivery, together with the
// reference it was fetched from.
type Record struct {
	Reference Reference
	Document  Document
}

// Derived and stamped field names.
const (
	FieldAddressGeodata      = "address_geodata"
	FieldAddressMetroGeodata = "address_metro_geodata"
	FieldRunTime             = "run_time"
	FieldRunID               = "run_id"
)
