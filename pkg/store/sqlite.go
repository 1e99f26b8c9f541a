package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"slowburn/pkg/db"
)

// ErrUnavailable is returned by writes when the database cannot be opened.
var ErrUnavailable = errors.New("store: backend unavailable")

// SQLiteStore implements Store on top of pkg/db.
//
// The database is opened on first use. If opening fails (missing permissions,
// read-only media) reads report "absent" and writes return ErrUnavailable;
// the next call tries again.
type SQLiteStore struct {
	path string

	mu     sync.Mutex
	db     *db.DB
	warned bool
}

// NewSQLiteStore wraps an already opened database.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Open returns a store that opens path lazily.
func Open(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) conn() *db.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db
	}
	if s.path == "" {
		return nil
	}
	d, err := db.Init(s.path)
	if err != nil {
		if !s.warned {
			slog.Warn("Store: database unavailable, persistence disabled", "path", s.path, "error", err)
			s.warned = true
		}
		return nil
	}
	slog.Debug("Store: opened", "path", s.path)
	s.db = d
	s.warned = false
	return d
}

// Available reports whether the backend could be opened.
func (s *SQLiteStore) Available(_ context.Context) bool {
	return s.conn() != nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// --- Assets ---

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	d := s.conn()
	if d == nil {
		return nil, false
	}
	var val []byte
	err := d.QueryRowContext(ctx, "SELECT value FROM assets WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Debug("Store: asset read failed", "key", key, "error", err)
		return nil, false
	}

	// Transparent decompression
	if isGzip(val) {
		if raw, err := decompress(val); err == nil {
			return raw, true
		}
	}
	return val, true
}

func (s *SQLiteStore) HasCache(ctx context.Context, key string) (bool, error) {
	d := s.conn()
	if d == nil {
		return false, nil
	}
	var exists int
	err := d.QueryRowContext(ctx, "SELECT 1 FROM assets WHERE key = ?", key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	d := s.conn()
	if d == nil {
		return ErrUnavailable
	}

	// Only keep the compressed form when it actually saves space; most
	// speech payloads are already compressed.
	stored := val
	if packed, err := compress(val); err == nil && len(packed) < len(val) {
		stored = packed
	}

	_, err := d.ExecContext(ctx, `INSERT OR REPLACE INTO assets (key, value, created_at) VALUES (?, ?, ?)`, key, stored, time.Now())
	return err
}

func (s *SQLiteStore) DeleteCache(ctx context.Context, key string) error {
	d := s.conn()
	if d == nil {
		return ErrUnavailable
	}
	_, err := d.ExecContext(ctx, "DELETE FROM assets WHERE key = ?", key)
	return err
}

func (s *SQLiteStore) ListCacheKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.listKeys(ctx, "assets", prefix)
}

// --- User data ---

func (s *SQLiteStore) GetUserData(ctx context.Context, key string) ([]byte, bool) {
	d := s.conn()
	if d == nil {
		return nil, false
	}
	var val string
	err := d.QueryRowContext(ctx, "SELECT value FROM userdata WHERE key = ?", key).Scan(&val)
	if err != nil {
		return nil, false
	}
	return []byte(val), true
}

func (s *SQLiteStore) SetUserData(ctx context.Context, key string, doc []byte) error {
	d := s.conn()
	if d == nil {
		return ErrUnavailable
	}
	_, err := d.ExecContext(ctx, `INSERT OR REPLACE INTO userdata (key, value, updated_at) VALUES (?, ?, ?)`, key, string(doc), time.Now())
	return err
}

func (s *SQLiteStore) ListUserDataKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.listKeys(ctx, "userdata", prefix)
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	d := s.conn()
	if d == nil {
		return "", false
	}
	var val string
	err := d.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	d := s.conn()
	if d == nil {
		return ErrUnavailable
	}
	_, err := d.ExecContext(ctx, `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	d := s.conn()
	if d == nil {
		return ErrUnavailable
	}
	_, err := d.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// table is always one of our constants, never user input.
func (s *SQLiteStore) listKeys(ctx context.Context, table, prefix string) ([]string, error) {
	d := s.conn()
	if d == nil {
		return nil, nil
	}
	rows, err := d.QueryContext(ctx, "SELECT key FROM "+table+" WHERE key LIKE ? ORDER BY key", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Compression Pooling ---

var (
	gzipWriterPool = sync.Pool{
		New: func() any {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
)

func isGzip(b []byte) bool {
	return len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
