package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyDocument is returned when the body decodes to JSON null.
var ErrEmptyDocument = errors.New("topology document is empty")

// TopologyDocument is the transient body returned by GET {uri}/services.
// It is never persisted as-is.
type TopologyDocument struct {
	Elements []ServiceElement `json:"elements"`
}

// ServiceElement is one service instance reported by an endpoint.
type ServiceElement struct {
	SNI         FieldText `json:"sni"`
	ServiceIP   FieldText `json:"si"`
	ServicePort FieldText `json:"sp"`
}

// FieldText keeps the raw text of one element field. Strings are unquoted,
// other scalars (numbers, booleans) keep their JSON text, and null, objects
// and arrays decode to "". A field of the wrong type never fails the
// document; it is normalized to its default later.
type FieldText string

func (f *FieldText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FieldText(s)
	case '{', '[', 'n':
		*f = ""
	default:
		*f = FieldText(b)
	}
	return nil
}

// ParseTopology decodes a topology document. A body that is not JSON, or
// that is JSON null, is an error; a document without elements is valid.
func ParseTopology(r io.Reader) (*TopologyDocument, error) {
	var doc *TopologyDocument
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	if doc == nil {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// Records normalizes every element into a ServiceRecord owned by
// endpointID. Elements that collapse onto the same composite key are
// returned once, in first-seen order.
func (d *TopologyDocument) Records(endpointID string) []ServiceRecord {
	if d == nil {
		return nil
	}
	seen := make(map[ServiceRecord]struct{}, len(d.Elements))
	records := make([]ServiceRecord, 0, len(d.Elements))
	for _, el := range d.Elements {
		rec := NormalizeElement(endpointID, el)
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		records = append(records, rec)
	}
	return records
}

func (f FieldText) String() string { return strings.TrimSpace(string(f)) }
