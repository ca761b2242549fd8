package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

type SQLiteCache struct {
	filename   string
	state      *openState
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new private in-memory db is used.
// The db is not touched until Open is called.
func NewSQLiteCache(filename string) *SQLiteCache {
	return &SQLiteCache{
		filename:   filename,
		state:      &openState{},
		writeMutex: &sync.Mutex{},
	}
}

func (s *SQLiteCache) Open(ctx context.Context) error {
	return s.state.do(func() error {
		db, err := s.open(ctx)
		if err != nil {
			return fmt.Errorf("%w: sqlite %s: %w", ErrUnavailable, s.filename, err)
		}
		s.db = db
		return nil
	})
}

func (s *SQLiteCache) open(ctx context.Context) (*sql.DB, error) {
	memory := s.filename == ""
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, err
	}
	if memory {
		// a private memory db lives only as long as its connection
		db.SetMaxOpenConns(1)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if !memory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (s *SQLiteCache) dsn() string {
	if s.filename == "" {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	sep := "?"
	if strings.Contains(s.filename, "?") {
		sep = "&"
	}
	return s.filename + sep + "_pragma=busy_timeout(5000)"
}

// migrate brings the schema up to SchemaVersion, tracked in user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	if version == SchemaVersion {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+collectionName+` (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		digest TEXT NOT NULL DEFAULT '',
		stored_at INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", collectionName, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteCache) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := s.state.ready(); err != nil {
		return Record{}, false, err
	}
	rec := Record{Key: key}
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, content_type, digest, stored_at FROM "+collectionName+" WHERE key = ?", key,
	).Scan(&rec.Payload, &rec.ContentType, &rec.Digest, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.StoredAt = time.Unix(storedAt, 0).UTC()
	if err := verify(rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, key, contentType string, payload []byte) error {
	if err := s.state.ready(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	rec := newRecord(key, contentType, payload)
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO `+collectionName+`
		(key, payload, content_type, digest, stored_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Key, rec.Payload, rec.ContentType, rec.Digest, rec.StoredAt.Unix())
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteCache) Keys(ctx context.Context, cb func(string)) error {
	if err := s.state.ready(); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM "+collectionName+" ORDER BY key")
	if err != nil {
		return err
	}
	// collect first so cb may use the (possibly single) connection
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s *SQLiteCache) Close() error {
	if s.state.ready() != nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
