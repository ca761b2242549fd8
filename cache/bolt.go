package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	metaBucket       = "meta"
	schemaVersionKey = "schema_version"
)

// BoltCache stores records in a BoltDB file.
// Every record is one JSON document in the images bucket.
type BoltCache struct {
	path  string
	state *openState
	db    *bbolt.DB
}

func NewBoltCache(path string) *BoltCache {
	return &BoltCache{
		path:  path,
		state: &openState{},
	}
}

func (b *BoltCache) Open(ctx context.Context) error {
	return b.state.do(func() error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if strings.TrimSpace(b.path) == "" {
			return fmt.Errorf("%w: bolt path is required", ErrUnavailable)
		}
		db, err := bbolt.Open(filepath.Clean(b.path), 0o600, &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return fmt.Errorf("%w: bolt %s: %w", ErrUnavailable, b.path, err)
		}
		if err := db.Update(upgradeBolt); err != nil {
			db.Close()
			return fmt.Errorf("%w: bolt %s: %w", ErrUnavailable, b.path, err)
		}
		b.db = db
		return nil
	})
}

func upgradeBolt(tx *bbolt.Tx) error {
	meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
	if err != nil {
		return fmt.Errorf("create %s bucket: %w", metaBucket, err)
	}
	var version uint64
	if raw := meta.Get([]byte(schemaVersionKey)); len(raw) == 8 {
		version = binary.BigEndian.Uint64(raw)
	}
	if version > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, SchemaVersion)
	}
	if _, err := tx.CreateBucketIfNotExists([]byte(collectionName)); err != nil {
		return fmt.Errorf("create %s bucket: %w", collectionName, err)
	}
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, SchemaVersion)
	return meta.Put([]byte(schemaVersionKey), raw)
}

func (b *BoltCache) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := b.state.ready(); err != nil {
		return Record{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	var (
		rec   Record
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collectionName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", collectionName)
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		// raw is only valid inside the transaction; Unmarshal copies it
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, nil
	}
	if err := verify(rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (b *BoltCache) Put(ctx context.Context, key, contentType string, payload []byte) error {
	if err := b.state.ready(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	raw, err := json.Marshal(newRecord(key, contentType, payload))
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collectionName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", collectionName)
		}
		return bucket.Put([]byte(key), raw)
	})
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

func (b *BoltCache) Keys(ctx context.Context, cb func(string)) error {
	if err := b.state.ready(); err != nil {
		return err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collectionName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", collectionName)
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (b *BoltCache) Close() error {
	if b.state.ready() != nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
