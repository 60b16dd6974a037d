// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xtreamgames/xsync/internal/remote"
)

// Blob is a stored payload.
type Blob struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// Fake is a goroutine-safe remote.Client backed by a slice of blobs.
// Error fields, when set, are returned by the matching call instead of
// touching the store.
type Fake struct {
	mu    sync.Mutex
	blobs []Blob
	seq   int

	CreateErr error
	LatestErr error
	GetErr    error

	// Block, when non-nil, is received from at the start of every call so
	// tests can hold an operation in flight.
	Block chan struct{}

	creates, latests, gets int
}

var _ remote.Client = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{}
}

// Seed stores payload under name and returns its id.
func (f *Fake) Seed(name string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("remotetest: seed payload: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(name, data)
}

func (f *Fake) store(name string, data []byte) string {
	f.seq++
	id := hex.EncodeToString([]byte(fmt.Sprintf("blob%08d", f.seq)))
	f.blobs = append(f.blobs, Blob{ID: id, Name: name, Payload: data})
	return id
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Block == nil {
		return nil
	}
	select {
	case <-f.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create implements remote.Client.
func (f *Fake) Create(ctx context.Context, name string, payload any) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &remote.RemoteError{Op: "create", Reason: remote.ReasonEncode, Err: err}
	}
	return f.store(name, data), nil
}

// GetLatest implements remote.Client. An empty name matches every blob.
func (f *Fake) GetLatest(ctx context.Context, name string) (json.RawMessage, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latests++
	if f.LatestErr != nil {
		return nil, f.LatestErr
	}
	for i := len(f.blobs) - 1; i >= 0; i-- {
		if name == "" || f.blobs[i].Name == name {
			return f.blobs[i].Payload, nil
		}
	}
	return nil, remote.ErrNotFound
}

// GetByID implements remote.Client.
func (f *Fake) GetByID(ctx context.Context, id string) (json.RawMessage, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	for _, b := range f.blobs {
		if b.ID == id {
			return b.Payload, nil
		}
	}
	return nil, remote.ErrNotFound
}

// Blobs returns a copy of the stored blobs in creation order.
func (f *Fake) Blobs() []Blob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Blob(nil), f.blobs...)
}

// Calls reports how many times each operation was invoked.
func (f *Fake) Calls() (creates, latests, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.latests, f.gets
}

// Total reports the number of calls across all operations.
func (f *Fake) Total() int {
	c, l, g := f.Calls()
	return c + l + g
}

// SetErrors replaces the injected errors under the lock.
func (f *Fake) SetErrors(create, latest, get error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateErr, f.LatestErr, f.GetErr = create, latest, get
}
