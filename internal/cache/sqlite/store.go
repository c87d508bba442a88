// Package sqlite provides a SQLite-backed cache storage that survives
// process restarts.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"offlinegate/internal/cache"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Storage persists named cache stores in one SQLite database.
type Storage struct {
	sqlDB *sql.DB
}

var _ cache.Storage = (*Storage)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies the schema.
func Open(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Open(ctx context.Context, name string) (cache.Store, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("store name is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_stores (name, created_at) VALUES (?, ?)`,
		name, toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return &Store{sqlDB: s.sqlDB, name: name}, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE store_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return names, nil
}

// Store is a handle on one named store.
type Store struct {
	sqlDB *sql.DB
	name  string
}

var _ cache.Store = (*Store)(nil)

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Match(ctx context.Context, key string) (*cache.Response, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT status_code, header_json, body, stored_at
		   FROM cache_entries
		  WHERE store_name = ? AND request_key = ?`,
		s.name, key,
	)

	var (
		status     int
		headerJSON string
		body       []byte
		storedAt   int64
	)
	if err := row.Scan(&status, &headerJSON, &body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("match %s in %s: %w", key, s.name, err)
	}

	header := make(http.Header)
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return nil, false, fmt.Errorf("decode header of %s: %w", key, err)
	}
	if body == nil {
		body = []byte{}
	}
	return &cache.Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		StoredAt:   fromMillis(storedAt),
	}, true, nil
}

func (s *Store) Put(ctx context.Context, key string, resp *cache.Response) error {
	return s.PutAll(ctx, []cache.Entry{{Key: key, Response: resp}})
}

func (s *Store) PutAll(ctx context.Context, entries []cache.Entry) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM cache_stores WHERE name = ?`, s.name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("put into %s: %w", s.name, cache.ErrStoreNotFound)
	}
	if err != nil {
		return fmt.Errorf("check store %s: %w", s.name, err)
	}

	for _, e := range entries {
		headerJSON, err := json.Marshal(e.Response.Header)
		if err != nil {
			return fmt.Errorf("encode header of %s: %w", e.Key, err)
		}
		storedAt := e.Response.StoredAt
		if storedAt.IsZero() {
			storedAt = time.Now()
		}
		body := e.Response.Body
		if body == nil {
			body = []byte{}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cache_entries (store_name, request_key, status_code, header_json, body, stored_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (store_name, request_key) DO UPDATE SET
			   status_code = excluded.status_code,
			   header_json = excluded.header_json,
			   body = excluded.body,
			   stored_at = excluded.stored_at`,
			s.name, e.Key, e.Response.StatusCode, string(headerJSON), body, toMillis(storedAt),
		)
		if err != nil {
			return fmt.Errorf("put %s into %s: %w", e.Key, s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT request_key FROM cache_entries WHERE store_name = ? ORDER BY rowid`,
		s.name,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", s.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
