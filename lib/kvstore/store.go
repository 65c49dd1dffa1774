// Package kvstore is the persistent key-value collaborator: cookie jar
// blobs keyed by service and the small name/art/description caches.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database and applies the schema.
func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(schema)
	if err != nil {
		return Store{}, fmt.Errorf("apply kv schema: %w", err)
	}
	return Store{db: database}, nil
}

// Open opens (and creates if needed) the store at the given file path.
func Open(path string) (Store, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return Store{}, err
		}
	}
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	return NewStore(database)
}

func (s Store) Close() error {
	return s.db.Close()
}

// Get returns the value for (namespace, key), reporting absence
// explicitly instead of via an error.
func (s Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	var value []byte
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put replaces the value for (namespace, key). The upsert is a single
// statement so readers never observe a partial write.
func (s Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		     value = excluded.value,
		     updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().Unix(),
	)
	return err
}

func (s Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	return err
}

// GetString is a convenience for the text caches.
func (s Store) GetString(ctx context.Context, namespace, key string) (string, bool, error) {
	buff, ok, err := s.Get(ctx, namespace, key)
	return string(buff), ok, err
}

func (s Store) PutString(ctx context.Context, namespace, key, value string) error {
	return s.Put(ctx, namespace, key, []byte(value))
}
