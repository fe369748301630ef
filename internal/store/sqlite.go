package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the key-value layout in a local SQLite file, for running
// the ledger without a Redis server.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens dbPath and initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{conn: conn}

	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS kv_sets (
			key TEXT NOT NULL,
			member TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (key, member)
		)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Op: "get", Key: key, Err: err}
	}
	return value, nil
}

func (s *SQLiteStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		value, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return false, &Error{Op: "setnx", Key: key, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &Error{Op: "setnx", Key: key, Err: err}
	}
	return n == 1, nil
}

// Keys uses SQLite GLOB, which shares Redis' *, ? and [...] syntax.
func (s *SQLiteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM kv WHERE key GLOB ? ORDER BY key`, pattern)
	if err != nil {
		return nil, &Error{Op: "keys", Key: pattern, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &Error{Op: "keys", Key: pattern, Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "keys", Key: pattern, Err: err}
	}
	return keys, nil
}

func (s *SQLiteStore) SAdd(ctx context.Context, key string, members ...string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "sadd", Key: key, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO kv_sets (key, member) VALUES (?, ?)`)
	if err != nil {
		return &Error{Op: "sadd", Key: key, Err: err}
	}
	defer stmt.Close()

	for _, member := range members {
		if _, err := stmt.ExecContext(ctx, key, member); err != nil {
			return &Error{Op: "sadd", Key: key, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "sadd", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT member FROM kv_sets WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, &Error{Op: "smembers", Key: key, Err: err}
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, &Error{Op: "smembers", Key: key, Err: err}
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "smembers", Key: key, Err: err}
	}
	return members, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
