package engine

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtreamgames/xsync/internal/identity"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote/remotetest"
	"github.com/xtreamgames/xsync/internal/store"
)

const testCloudID = "xtream_1700000000000_abcdefghi"

// memStore is an in-memory LocalStore with injectable write failures.
type memStore struct {
	mu       sync.Mutex
	set      record.CollectionSet
	kv       map[string][]byte
	writeErr error
	putErr   error
	writes   int
}

func newMemStore() *memStore {
	return &memStore{
		set: record.CollectionSet{Primary: record.Collection{}, Secondary: record.Collection{}},
		kv:  make(map[string][]byte),
	}
}

func (m *memStore) ReadSet() (record.CollectionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return record.CollectionSet{
		Primary:   append(record.Collection{}, m.set.Primary...),
		Secondary: append(record.Collection{}, m.set.Secondary...),
	}, nil
}

func (m *memStore) WriteSet(set record.CollectionSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.set = set
	m.writes++
	return nil
}

func (m *memStore) GetJSON(name string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.kv[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m *memStore) PutJSON(name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil && name != store.SlotCloudIdentity {
		return m.putErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.kv[name] = data
	return nil
}

func (m *memStore) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.kv[name]
	return ok
}

func (m *memStore) seed(set record.CollectionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set
}

// eventLog collects observer events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnSyncEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	engine *Engine
	store  *memStore
	remote *remotetest.Fake
	events *eventLog
}

// newHarness builds an online engine with short timers and an adopted
// identity. mutate may adjust the config before construction.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	st := newMemStore()
	ids := identity.NewManager(st, store.SlotCloudIdentity)
	_, err := ids.Adopt(testCloudID)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Debounce = 30 * time.Millisecond
	cfg.Interval = time.Hour
	cfg.InitialDelay = -1
	cfg.Device = "test-device"
	cfg.Logger = log.New(io.Discard, "", 0)
	if mutate != nil {
		mutate(cfg)
	}

	fake := remotetest.New()
	events := &eventLog{}
	e, err := New(Deps{Store: st, Remote: fake, Identity: ids, Observer: events}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Stop() })

	return &harness{engine: e, store: st, remote: fake, events: events}
}

func rec(t *testing.T, id, ts string, extra map[string]any) record.Record {
	t.Helper()
	var when time.Time
	if ts != "" {
		var err error
		when, err = time.Parse(time.RFC3339, ts)
		require.NoError(t, err)
	}
	r, err := record.New(id, when, extra)
	require.NoError(t, err)
	return r
}

func remoteSnapshot(set record.CollectionSet) record.Snapshot {
	return record.NewSnapshot(set, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "other-device")
}
