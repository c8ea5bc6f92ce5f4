package mapstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createMapConfigsTable = `
CREATE TABLE IF NOT EXISTS map_configs (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLBackend keeps map configurations in SQLite. SQLite has no native TTL,
// so every row carries an absolute deadline that Expire rewrites.
type SQLBackend struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLBackend opens (creating if needed) the database at path. Use
// ":memory:" for a private in-memory database.
func OpenSQLBackend(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout=5000", createMapConfigsTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to prepare database: %w", err)
		}
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?mode=rwc"
}

func (b *SQLBackend) deadline(ttl time.Duration) int64 {
	return b.now().Add(ttl).UnixMilli()
}

func (b *SQLBackend) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	// An expired row counts as absent and is overwritten in place.
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO map_configs (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE map_configs.expires_at <= ?`,
		key, val, b.deadline(ttl), b.now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM map_configs WHERE key = ? AND expires_at > ?`,
		key, b.now().UnixMilli()).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *SQLBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE map_configs SET expires_at = ? WHERE key = ? AND expires_at > ?`,
		b.deadline(ttl), key, b.now().UnixMilli())
	return err
}

func (b *SQLBackend) Del(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM map_configs WHERE key = ?`, key)
	return err
}

// PurgeExpired removes rows whose deadline has passed.
func (b *SQLBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM map_configs WHERE expires_at <= ?`, b.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
