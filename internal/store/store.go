// Package store provides the device-local key-value area that survives
// restarts.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// holding one row per named slot. Each slot value is a JSON document: the two
// domain collections, the cloud identity, the sync metadata and the last
// pushed backup snapshot.
//
// Architecture:
//   - Database file: <data_dir>/xsync.db
//   - WAL mode: concurrent readers during writes
//   - Schema: a single kv table keyed by slot name
//
// Reads of a missing slot never fail; collections come back empty. Writes
// that the medium rejects fail with *StorageError.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/xtreamgames/xsync/internal/record"
)

// Slot names used by the sync engine.
const (
	SlotPrimary       = "sync:collection:primary"
	SlotSecondary     = "sync:collection:secondary"
	SlotCloudIdentity = "sync:cloud-identity"
	SlotLastSyncAt    = "sync:last-sync-at"
	SlotBackup        = "sync:backup"
)

// DefaultMaxValueBytes caps a single slot value, mirroring the quota of a
// browser storage area.
const DefaultMaxValueBytes = 5 * 1024 * 1024

// Store wraps the SQLite connection that backs the local slots.
type Store struct {
	conn          *sql.DB
	path          string
	maxValueBytes int
	logger        *log.Logger
}

// Open creates a new store at the specified path.
//
// The caller MUST call Close() when done and InitSchema() before first use.
//
// Example:
//
//	st, err := store.Open("~/.xsync/xsync.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Key: path, Reason: ReasonIO, Err: err}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, &StorageError{Op: "open", Key: path, Reason: ReasonIO, Err: err}
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, &StorageError{Op: "open", Key: path, Reason: ReasonIO, Err: err}
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn:          conn,
		path:          path,
		maxValueBytes: DefaultMaxValueBytes,
		logger:        log.New(os.Stderr, "[store] ", log.LstdFlags),
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = st.Close()
			return nil, &StorageError{Op: "open", Key: path, Reason: ReasonIO, Err: fmt.Errorf("%s: %w", p, err)}
		}
	}

	return st, nil
}

// SetLogger replaces the store's logger. A nil logger is ignored.
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMaxValueBytes changes the per-slot quota. Zero or negative disables it.
func (s *Store) SetMaxValueBytes(n int) {
	s.maxValueBytes = n
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the kv table if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return &StorageError{Op: "init", Reason: ReasonIO, Err: err}
	}
	return nil
}

// Read returns the collection stored under name, or an empty collection if
// the slot is absent.
func (s *Store) Read(name string) (record.Collection, error) {
	return s.ReadContext(context.Background(), name)
}

// ReadContext reads a collection with context support.
func (s *Store) ReadContext(ctx context.Context, name string) (record.Collection, error) {
	data, ok, err := s.getRaw(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return record.Collection{}, nil
	}

	c, err := record.ParseCollection(data)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: name, Reason: ReasonDecode, Err: err}
	}
	return c, nil
}

// Write replaces the collection stored under name.
func (s *Store) Write(name string, c record.Collection) error {
	return s.WriteContext(context.Background(), name, c)
}

// WriteContext writes a collection with context support.
func (s *Store) WriteContext(ctx context.Context, name string, c record.Collection) error {
	return s.PutJSONContext(ctx, name, c)
}

// ReadSet reads both domain collections.
func (s *Store) ReadSet() (record.CollectionSet, error) {
	primary, err := s.Read(SlotPrimary)
	if err != nil {
		return record.CollectionSet{}, err
	}
	secondary, err := s.Read(SlotSecondary)
	if err != nil {
		return record.CollectionSet{}, err
	}
	return record.CollectionSet{Primary: primary, Secondary: secondary}, nil
}

// WriteSet writes both domain collections in one transaction.
func (s *Store) WriteSet(set record.CollectionSet) error {
	return s.WriteSetContext(context.Background(), set)
}

// WriteSetContext writes both domain collections with context support.
func (s *Store) WriteSetContext(ctx context.Context, set record.CollectionSet) error {
	primary, err := s.encode(SlotPrimary, set.Primary)
	if err != nil {
		return err
	}
	secondary, err := s.encode(SlotSecondary, set.Secondary)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "write", Key: SlotPrimary, Reason: ReasonIO, Err: err}
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, SlotPrimary, primary); err != nil {
		return err
	}
	if err := upsert(ctx, tx, SlotSecondary, secondary); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "write", Key: SlotPrimary, Reason: ReasonIO, Err: err}
	}
	return nil
}

// GetJSON decodes the value stored under name into v. It reports false if
// the slot is absent.
func (s *Store) GetJSON(name string, v any) (bool, error) {
	return s.GetJSONContext(context.Background(), name, v)
}

// GetJSONContext decodes a slot with context support.
func (s *Store) GetJSONContext(ctx context.Context, name string, v any) (bool, error) {
	data, ok, err := s.getRaw(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StorageError{Op: "read", Key: name, Reason: ReasonDecode, Err: err}
	}
	return true, nil
}

// PutJSON encodes v and stores it under name.
func (s *Store) PutJSON(name string, v any) error {
	return s.PutJSONContext(context.Background(), name, v)
}

// PutJSONContext stores a slot with context support.
func (s *Store) PutJSONContext(ctx context.Context, name string, v any) error {
	data, err := s.encode(name, v)
	if err != nil {
		return err
	}
	return upsert(ctx, s.conn, name, data)
}

// Delete removes a slot. Deleting an absent slot is not an error.
func (s *Store) Delete(name string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, name); err != nil {
		return &StorageError{Op: "delete", Key: name, Reason: ReasonIO, Err: err}
	}
	return nil
}

// Keys lists the slot names currently stored, sorted.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.conn.Query(`SELECT key FROM kv`)
	if err != nil {
		return nil, &StorageError{Op: "list", Reason: ReasonIO, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &StorageError{Op: "list", Reason: ReasonIO, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Reason: ReasonIO, Err: err}
	}

	sort.Strings(keys)
	return keys, nil
}

// UpdatedAt returns when a slot was last written, or the zero time if absent.
func (s *Store) UpdatedAt(name string) (time.Time, error) {
	var ts string
	err := s.conn.QueryRow(`SELECT updated_at FROM kv WHERE key = ?`, name).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &StorageError{Op: "read", Key: name, Reason: ReasonIO, Err: err}
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, &StorageError{Op: "read", Key: name, Reason: ReasonDecode, Err: err}
	}
	return t, nil
}

func (s *Store) getRaw(ctx context.Context, name string) ([]byte, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StorageError{Op: "read", Key: name, Reason: ReasonIO, Err: err}
	}
	return []byte(value), true, nil
}

func (s *Store) encode(name string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &StorageError{Op: "write", Key: name, Reason: ReasonEncode, Err: err}
	}
	if s.maxValueBytes > 0 && len(data) > s.maxValueBytes {
		return nil, &StorageError{
			Op:     "write",
			Key:    name,
			Reason: ReasonQuota,
			Err:    fmt.Errorf("value is %d bytes, limit is %d", len(data), s.maxValueBytes),
		}
	}
	return data, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, name string, data []byte) error {
	query := `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.ExecContext(ctx, query, name, string(data), now); err != nil {
		return &StorageError{Op: "write", Key: name, Reason: ReasonIO, Err: err}
	}
	return nil
}
