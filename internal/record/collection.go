package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Collection is the full set of records for one domain category on one
// device. Order is preserved but carries no meaning.
type Collection []Record

// MarshalJSON encodes a nil collection as an empty array.
func (c Collection) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Record(c))
}

// IDs returns the ids in collection order.
func (c Collection) IDs() []string {
	ids := make([]string, 0, len(c))
	for _, r := range c {
		ids = append(ids, r.ID)
	}
	return ids
}

// Get returns the first record with the given id.
func (c Collection) Get(id string) (Record, bool) {
	for _, r := range c {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Equal reports whether both collections hold the same records in the same order.
func (c Collection) Equal(other Collection) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if !c[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Validate returns an error describing the first record without an id.
func (c Collection) Validate() error {
	for i, r := range c {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Sanitize drops records that cannot participate in sync and reports how
// many were dropped.
func (c Collection) Sanitize() (Collection, int) {
	out := make(Collection, 0, len(c))
	dropped := 0
	for _, r := range c {
		if r.Validate() != nil {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped
}

// ParseCollection decodes either a JSON array of records or newline-delimited
// JSON records (one object per line).
func ParseCollection(data []byte) (Collection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Collection{}, nil
	}

	if trimmed[0] == '[' {
		var c Collection
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, fmt.Errorf("invalid record array: %w", err)
		}
		if c == nil {
			c = Collection{}
		}
		return c, nil
	}

	var c Collection
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	line := 0
	for {
		var r Record
		if err := decoder.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", line+1, err)
		}
		line++
		c = append(c, r)
	}
	return c, nil
}
