package extractor

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Record is one raw JSON object returned by the inventory API. Field
// presence varies by endpoint and by record, so every accessor is an
// optional lookup reporting whether the field was there.
//
// Field names are gjson paths; nested values can be read with "a.b".
type Record struct {
	raw []byte
}

// NewRecord wraps raw JSON object bytes.
func NewRecord(raw []byte) Record {
	return Record{raw: raw}
}

// RecordFromValue marshals v (usually a map) into a Record.
func RecordFromValue(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	return Record{raw: raw}, nil
}

func (r Record) Raw() []byte {
	return r.raw
}

func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// Get returns the raw lookup result for a field.
func (r Record) Get(field string) gjson.Result {
	return gjson.GetBytes(r.raw, field)
}

// Has reports whether field is present and not null.
func (r Record) Has(field string) bool {
	res := r.Get(field)
	return res.Exists() && res.Type != gjson.Null
}

// String returns the field rendered as a string.
func (r Record) String(field string) (string, bool) {
	res := r.Get(field)
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}
	return res.String(), true
}

// NonEmpty returns the field as a string only when it is present and not "".
func (r Record) NonEmpty(field string) (string, bool) {
	s, ok := r.String(field)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Bool returns a boolean field.
func (r Record) Bool(field string) (bool, bool) {
	res := r.Get(field)
	switch res.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	}
	return false, false
}

// Number returns a numeric field. Booleans are reported as 1 and 0.
func (r Record) Number(field string) (float64, bool) {
	res := r.Get(field)
	switch res.Type {
	case gjson.Number:
		return res.Float(), true
	case gjson.True:
		return 1, true
	case gjson.False:
		return 0, true
	}
	return 0, false
}

// StringList returns the elements of an array field. A scalar is treated
// as a one-element list; empty elements are dropped.
func (r Record) StringList(field string) []string {
	res := r.Get(field)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	if !res.IsArray() {
		if s := res.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range res.Array() {
		if item.Type == gjson.Null {
			continue
		}
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitArray parses a JSON array body into records. It fails when the body
// is not valid JSON or not an array.
func SplitArray(body []byte) ([]Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed JSON body")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("expected JSON array, got %s", parsed.Type)
	}
	items := parsed.Array()
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, Record{raw: []byte(item.Raw)})
	}
	return out, nil
}
