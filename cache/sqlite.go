package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a Store persisting entries to a SQLite database.
// Entry values are serialized to JSON for the value column, so reads
// return entries whose Value is the raw serialized bytes.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		size INTEGER,
		inserted_at INTEGER,
		accessed_at INTEGER,
		value BLOB
	)`)
	if err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS accessed_idx ON cache (accessed_at)")
	if err != nil {
		return nil, fmt.Errorf("create cache index: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) (*Entry, error) {
	var (
		size       int64
		insertedAt int64
		accessedAt int64
		value      []byte
	)
	err := s.db.QueryRow("SELECT size, inserted_at, accessed_at, value FROM cache WHERE key = ?", key).
		Scan(&size, &insertedAt, &accessedAt, &value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Entry{
		Key:            key,
		Value:          value,
		Size:           size,
		InsertedAt:     time.Unix(0, insertedAt),
		LastAccessedAt: time.Unix(0, accessedAt),
	}, nil
}

func (s *SQLiteStore) Set(key string, e *Entry) error {
	value, err := valueBytes(e.Value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO cache (key, size, inserted_at, accessed_at, value) VALUES (?, ?, ?, ?, ?)",
		key, e.Size, e.InsertedAt.UnixNano(), e.LastAccessedAt.UnixNano(), value)
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s *SQLiteStore) Entries() ([]*Entry, error) {
	rows, err := s.db.Query("SELECT key, size, inserted_at, accessed_at FROM cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*Entry
	for rows.Next() {
		var (
			key        string
			size       int64
			insertedAt int64
			accessedAt int64
		)
		if err := rows.Scan(&key, &size, &insertedAt, &accessedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &Entry{
			Key:            key,
			Size:           size,
			InsertedAt:     time.Unix(0, insertedAt),
			LastAccessedAt: time.Unix(0, accessedAt),
		})
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec("DELETE FROM cache")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// valueBytes converts an entry value to the bytes stored in the value
// column. Already-serialized values pass through untouched.
func valueBytes(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return json.Marshal(v)
}
