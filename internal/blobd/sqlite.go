package blobd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    name       TEXT    NOT NULL DEFAULT '',
    private    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    payload    BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blobs_name_seq ON blobs(name, seq);
`

// SQLiteBackend stores blobs in a SQLite database. Insertion order (seq)
// decides which blob is the latest.
type SQLiteBackend struct {
	conn *sql.DB
	path string
}

// OpenSQLiteBackend opens or creates the database at path.
func OpenSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=%s&_pragma=%s",
		path,
		url.QueryEscape("busy_timeout(5000)"),
		url.QueryEscape("journal_mode(wal)"))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open blob database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, blobSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create blob schema: %w", err)
	}

	return &SQLiteBackend{conn: conn, path: path}, nil
}

// Create implements Backend.
func (s *SQLiteBackend) Create(ctx context.Context, b Blob) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO blobs (id, name, private, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Private, b.CreatedAt.UnixMilli(), []byte(b.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert blob %s: %w", b.ID, err)
	}
	return nil
}

// Latest implements Backend.
func (s *SQLiteBackend) Latest(ctx context.Context, name string) (Blob, error) {
	if name == "" {
		return s.queryOne(ctx, `SELECT id, name, private, created_at, payload FROM blobs ORDER BY seq DESC LIMIT 1`)
	}
	return s.queryOne(ctx,
		`SELECT id, name, private, created_at, payload FROM blobs WHERE name = ? ORDER BY seq DESC LIMIT 1`, name)
}

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, id string) (Blob, error) {
	return s.queryOne(ctx, `SELECT id, name, private, created_at, payload FROM blobs WHERE id = ?`, id)
}

func (s *SQLiteBackend) queryOne(ctx context.Context, query string, args ...any) (Blob, error) {
	var (
		b       Blob
		created int64
		payload []byte
	)
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.Name, &b.Private, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("failed to query blob: %w", err)
	}
	b.CreatedAt = time.UnixMilli(created).UTC()
	b.Payload = payload
	return b, nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	return s.conn.Close()
}
