// Package blobd is a self-hostable blob server speaking the same HTTP
// protocol the remote client uses: create a named JSON blob, fetch the
// newest blob (optionally by name), fetch a blob by id.
package blobd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by backends when no blob matches.
var ErrNotFound = errors.New("blob not found")

// IDLength is the number of lowercase hex characters in a blob id.
const IDLength = 24

// Blob is a stored JSON document and its metadata.
type Blob struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Private   bool            `json:"private"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"record"`
}

// Metadata is the public description of a blob.
type Metadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Private   bool      `json:"private"`
}

// Meta returns the blob's metadata.
func (b Blob) Meta() Metadata {
	return Metadata{ID: b.ID, Name: b.Name, CreatedAt: b.CreatedAt, Private: b.Private}
}

// envelope is the wrapped response shape.
type envelope struct {
	Record   json.RawMessage `json:"record"`
	Metadata Metadata        `json:"metadata"`
}

// Backend persists blobs. Latest returns the most recently created blob,
// restricted to name when name is non-empty.
type Backend interface {
	Create(ctx context.Context, b Blob) error
	Latest(ctx context.Context, name string) (Blob, error)
	Get(ctx context.Context, id string) (Blob, error)
	Close() error
}

// NewID returns a fresh blob id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// ValidID reports whether id has the shape NewID produces.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend    string
	SQLitePath string
	RedisURL   string
}

// OpenBackend creates the backend named in opts.
func OpenBackend(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return OpenSQLiteBackend(ctx, opts.SQLitePath)
	case "redis":
		return OpenRedisBackend(ctx, opts.RedisURL)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", opts.Backend)
	}
}
