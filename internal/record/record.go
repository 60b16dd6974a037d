// Package record defines the synchronized data model: records, collections and
// the snapshot payloads exchanged with the remote store.
//
// A Record is an opaque JSON object identified by its "id" field. The engine
// reads only "id" and "updatedAt"; every other field is carried verbatim
// through merges, local persistence and remote pushes.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Well-known field names inside a record object.
const (
	IDKey        = "id"
	UpdatedAtKey = "updatedAt"
)

// ErrMissingID is returned when a record has no usable id.
var ErrMissingID = errors.New("record has no id")

// Record is a single domain entity. The zero value is an empty record without id.
type Record struct {
	// ID is the identity key. Records with the same ID on different devices
	// are the same logical entity.
	ID string

	fields map[string]json.RawMessage
}

// New builds a record from an id, an optional update time and extra domain fields.
// A zero updatedAt leaves the field absent.
func New(id string, updatedAt time.Time, extra map[string]any) (Record, error) {
	if id == "" {
		return Record{}, ErrMissingID
	}

	fields := make(map[string]json.RawMessage, len(extra)+2)
	for k, v := range extra {
		data, err := json.Marshal(v)
		if err != nil {
			return Record{}, fmt.Errorf("failed to marshal field %q: %w", k, err)
		}
		fields[k] = data
	}

	idJSON, _ := json.Marshal(id)
	fields[IDKey] = idJSON
	if !updatedAt.IsZero() {
		ts, _ := json.Marshal(updatedAt.UTC().Format(time.RFC3339Nano))
		fields[UpdatedAtKey] = ts
	}

	return Record{ID: id, fields: fields}, nil
}

// Parse decodes a single JSON object into a Record.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
//
// String ids are used as-is; numeric ids use their literal text so that
// records created by clients that use numeric ids still have a stable key.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("record must be a JSON object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("record must be a JSON object, got null")
	}

	r.fields = fields
	r.ID = ""

	raw, ok := fields[IDKey]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		r.ID = s
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		r.ID = n.String()
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Fields are emitted exactly as they
// were received.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		if r.ID == "" {
			return []byte("{}"), nil
		}
		idJSON, _ := json.Marshal(r.ID)
		return json.Marshal(map[string]json.RawMessage{IDKey: idJSON})
	}
	return json.Marshal(r.fields)
}

// Field returns the raw JSON of a field and whether it is present.
func (r Record) Field(name string) (json.RawMessage, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// UpdatedAt returns the record's last-modified time. Absent or unparseable
// values yield the zero time, which sorts before every real timestamp.
func (r Record) UpdatedAt() time.Time {
	raw, ok := r.fields[UpdatedAtKey]
	if !ok {
		return time.Time{}
	}
	t, _ := parseTimestamp(raw)
	return t
}

// HasUpdatedAt reports whether the record carries a parseable update time.
func (r Record) HasUpdatedAt() bool {
	raw, ok := r.fields[UpdatedAtKey]
	if !ok {
		return false
	}
	_, ok = parseTimestamp(raw)
	return ok
}

// InvalidUpdatedAt reports whether updatedAt is set to a value that is not a
// timestamp. Absent, null and empty-string values are not invalid; they
// count as unset.
func (r Record) InvalidUpdatedAt() bool {
	raw, ok := r.fields[UpdatedAtKey]
	if !ok {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil && strings.TrimSpace(s) == "" {
		return false
	}
	_, ok = parseTimestamp(raw)
	return !ok
}

// WithUpdatedAt returns a copy of r stamped with t. Other fields are shared
// with r and left untouched.
func (r Record) WithUpdatedAt(t time.Time) Record {
	fields := make(map[string]json.RawMessage, len(r.fields)+2)
	for k, v := range r.fields {
		fields[k] = v
	}
	if _, ok := fields[IDKey]; !ok {
		idJSON, _ := json.Marshal(r.ID)
		fields[IDKey] = idJSON
	}
	ts, _ := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	fields[UpdatedAtKey] = ts
	return Record{ID: r.ID, fields: fields}
}

// Equal reports whether two records have the same id and identical content.
func (r Record) Equal(other Record) bool {
	if r.ID != other.ID {
		return false
	}
	a, errA := r.MarshalJSON()
	b, errB := other.MarshalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Validate checks that the record can participate in sync.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrMissingID
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp accepts ISO-8601 strings (with or without zone, or date only)
// and epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// ReadCollectionFile reads a JSON array of records from disk.
func ReadCollectionFile(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection file %s: %w", path, err)
	}
	c, err := ParseCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse collection file %s: %w", path, err)
	}
	return c, nil
}
