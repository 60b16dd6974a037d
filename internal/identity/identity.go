// Package identity assigns and persists the device's cloud identity, the
// namespace under which its snapshots are pushed.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Prefix starts every generated identity.
const Prefix = "xtream_"

// BlobNamePrefix starts the blob name of every pushed snapshot.
const BlobNamePrefix = "XtreamGames_"

const (
	suffixLen = 9
	alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	// ErrInvalidIdentity is returned by Adopt for malformed ids.
	ErrInvalidIdentity = errors.New("invalid cloud identity")

	idPattern = regexp.MustCompile(`^xtream_[0-9]+_[0-9a-z]{1,32}$`)
)

// CloudIdentity names this device's namespace in the remote store.
type CloudIdentity struct {
	ID string `json:"id"`
}

// BlobName returns the blob name used when pushing under this identity.
func (c CloudIdentity) BlobName() string {
	return BlobName(c.ID)
}

// BlobName returns the blob name for a cloud identity id.
func BlobName(id string) string {
	return BlobNamePrefix + id
}

// Storage is the slice of the local store the manager needs.
type Storage interface {
	GetJSON(name string, v any) (bool, error)
	PutJSON(name string, v any) error
}

// Manager hands out the device identity. GetOrCreate is safe for concurrent
// use and generates at most one identity per process.
type Manager struct {
	store Storage
	slot  string
	now   func() time.Time

	mu     sync.Mutex
	cached *CloudIdentity
}

// NewManager creates a manager persisting under slot.
func NewManager(store Storage, slot string) *Manager {
	return &Manager{store: store, slot: slot, now: time.Now}
}

// GetOrCreate returns the persisted identity, generating and persisting one
// on first use. Nothing is cached if persisting fails.
func (m *Manager) GetOrCreate() (CloudIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return *m.cached, nil
	}

	if id, ok, err := m.load(); err != nil {
		return CloudIdentity{}, err
	} else if ok {
		m.cached = &id
		return id, nil
	}

	id, err := Generate(m.now())
	if err != nil {
		return CloudIdentity{}, err
	}
	if err := m.store.PutJSON(m.slot, id); err != nil {
		return CloudIdentity{}, fmt.Errorf("failed to persist cloud identity: %w", err)
	}
	m.cached = &id
	return id, nil
}

// Current returns the identity without creating one.
func (m *Manager) Current() (CloudIdentity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return *m.cached, true, nil
	}
	id, ok, err := m.load()
	if err != nil || !ok {
		return CloudIdentity{}, false, err
	}
	m.cached = &id
	return id, true, nil
}

// Adopt replaces this device's identity with one created elsewhere so both
// devices push to and pull from the same namespace.
func (m *Manager) Adopt(id string) (CloudIdentity, error) {
	if err := Validate(id); err != nil {
		return CloudIdentity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ident := CloudIdentity{ID: id}
	if err := m.store.PutJSON(m.slot, ident); err != nil {
		return CloudIdentity{}, fmt.Errorf("failed to persist cloud identity: %w", err)
	}
	m.cached = &ident
	return ident, nil
}

func (m *Manager) load() (CloudIdentity, bool, error) {
	var id CloudIdentity
	ok, err := m.store.GetJSON(m.slot, &id)
	if err != nil {
		return CloudIdentity{}, false, fmt.Errorf("failed to read cloud identity: %w", err)
	}
	if !ok || id.ID == "" {
		return CloudIdentity{}, false, nil
	}
	return id, true, nil
}

// Generate builds a new identity: "xtream_" + epoch millis + "_" + 9 random
// base36 characters.
func Generate(now time.Time) (CloudIdentity, error) {
	suffix := make([]byte, suffixLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return CloudIdentity{}, fmt.Errorf("failed to generate cloud identity: %w", err)
		}
		suffix[i] = alphabet[n.Int64()]
	}
	return CloudIdentity{ID: Prefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)}, nil
}

// Validate checks the shape of an identity id.
func Validate(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}
	return nil
}
