package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentsh/agentguard/internal/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			value BLOB,
			updated_ts_unix_ns INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Item, error) {
	var (
		value   []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, version FROM kv WHERE key = ?;`, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{Key: key}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{Key: key}, fmt.Errorf("select %s: %w", key, err)
	}
	return store.Item{Key: key, Value: value, Version: uint64(version)}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv(key, version, value, updated_ts_unix_ns) VALUES(?, 1, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = kv.version + 1,
			value = excluded.value,
			updated_ts_unix_ns = excluded.updated_ts_unix_ns
		RETURNING version;`,
		key, value, time.Now().UnixNano(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	return uint64(version), nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, expected uint64, value []byte) (bool, error) {
	now := time.Now().UnixNano()
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO kv(key, version, value, updated_ts_unix_ns) VALUES(?, 1, ?, ?) ON CONFLICT(key) DO NOTHING;`,
			key, value, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv SET version = version + 1, value = ?, updated_ts_unix_ns = ? WHERE key = ? AND version = ?;`,
			value, now, key, int64(expected))
	}
	if err != nil {
		return false, fmt.Errorf("cas %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, version FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key;`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []store.Item
	for rows.Next() {
		var (
			it      store.Item
			version int64
		)
		if err := rows.Scan(&it.Key, &it.Value, &version); err != nil {
			return nil, err
		}
		it.Version = uint64(version)
		out = append(out, it)
	}
	return out, rows.Err()
}
