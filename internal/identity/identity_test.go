package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStorage is an in-memory Storage that counts writes.
type memStorage struct {
	mu      sync.Mutex
	data    map[string][]byte
	puts    int
	failPut error
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) GetJSON(name string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m *memStorage) PutJSON(name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[name] = data
	m.puts++
	return nil
}

const slot = "sync:cloud-identity"

func TestGenerate_Shape(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id, err := Generate(now)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(id.ID, "xtream_1700000000123_") {
		t.Errorf("id = %q, want prefix xtream_1700000000123_", id.ID)
	}
	suffix := strings.TrimPrefix(id.ID, "xtream_1700000000123_")
	if len(suffix) != 9 {
		t.Errorf("suffix %q has length %d, want 9", suffix, len(suffix))
	}
	if err := Validate(id.ID); err != nil {
		t.Errorf("generated id fails validation: %v", err)
	}
}

func TestGetOrCreate_PersistsOnce(t *testing.T) {
	st := newMemStorage()
	m := NewManager(st, slot)

	first, err := m.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := m.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Errorf("identity changed: %q then %q", first.ID, second.ID)
	}
	if st.puts != 1 {
		t.Errorf("puts = %d, want 1", st.puts)
	}

	// A fresh manager over the same storage sees the persisted identity.
	again, err := NewManager(st, slot).GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if again != first {
		t.Errorf("reloaded identity = %q, want %q", again.ID, first.ID)
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	st := newMemStorage()
	m := NewManager(st, slot)

	const n = 32
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.GetOrCreate()
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			ids[i] = id.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("goroutine %d got %q, want %q", i, ids[i], ids[0])
		}
	}
	if st.puts != 1 {
		t.Errorf("puts = %d, want 1", st.puts)
	}
}

func TestGetOrCreate_PersistFailure(t *testing.T) {
	st := newMemStorage()
	st.failPut = errors.New("disk full")
	m := NewManager(st, slot)

	if _, err := m.GetOrCreate(); err == nil {
		t.Fatal("GetOrCreate succeeded despite persist failure")
	}

	st.failPut = nil
	id, err := m.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate after recovery failed: %v", err)
	}
	if id.ID == "" {
		t.Error("empty identity after recovery")
	}
}

func TestCurrent(t *testing.T) {
	st := newMemStorage()
	m := NewManager(st, slot)

	if _, ok, err := m.Current(); err != nil || ok {
		t.Fatalf("Current() = ok %v, err %v; want absent", ok, err)
	}
	if st.puts != 0 {
		t.Error("Current() must not create an identity")
	}

	created, _ := m.GetOrCreate()
	got, ok, err := m.Current()
	if err != nil || !ok || got != created {
		t.Errorf("Current() = %v, %v, %v; want %v", got, ok, err, created)
	}
}

func TestAdopt(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "valid", id: "xtream_1700000000000_k3j9x0abc"},
		{name: "empty", id: "", wantErr: true},
		{name: "wrong prefix", id: "other_1700000000000_abc", wantErr: true},
		{name: "uppercase suffix", id: "xtream_1700000000000_ABC", wantErr: true},
		{name: "non-numeric millis", id: "xtream_abc_def", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStorage()
			m := NewManager(st, slot)
			original, _ := m.GetOrCreate()

			got, err := m.Adopt(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidIdentity) {
					t.Fatalf("Adopt(%q) error = %v, want ErrInvalidIdentity", tt.id, err)
				}
				cur, _, _ := m.Current()
				if cur != original {
					t.Errorf("identity changed after rejected adopt")
				}
				return
			}
			if err != nil {
				t.Fatalf("Adopt(%q) failed: %v", tt.id, err)
			}
			if got.ID != tt.id {
				t.Errorf("Adopt returned %q", got.ID)
			}
			reloaded, _ := NewManager(st, slot).GetOrCreate()
			if reloaded.ID != tt.id {
				t.Errorf("persisted identity = %q, want %q", reloaded.ID, tt.id)
			}
		})
	}
}

func TestBlobName(t *testing.T) {
	id := CloudIdentity{ID: "xtream_1_abc"}
	if got := id.BlobName(); got != "XtreamGames_xtream_1_abc" {
		t.Errorf("BlobName() = %q", got)
	}
}
