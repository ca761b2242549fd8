package cache

import (
	"context"
	"sync"
	"time"
)

// SchemaVersion is the version of the store layout written by this package.
// Stores carrying a newer version fail to open.
const SchemaVersion = 1

// Name of the single keyed collection holding image records.
const collectionName = "images"

// Provider is a persistent, keyed store of image payloads.
// Each record is addressed by the URL it was fetched from.
//
// Every operation runs in its own transaction; nothing spans multiple keys.
// Implementations must be thread-safe!
type Provider interface {
	// Open establishes the store and creates or upgrades its schema.
	// It is idempotent: the first result (success or failure) is kept
	// for the lifetime of the provider.
	Open(ctx context.Context) error
	// Get returns the record stored under key.
	// The boolean is false on a miss, which is not an error.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Put creates or overwrites the record stored under key.
	Put(ctx context.Context, key, contentType string, payload []byte) error
	// Keys calls cb for every stored key.
	Keys(ctx context.Context, cb func(string)) error
	// Close releases the underlying store.
	Close() error
}

// Record is a single stored image.
type Record struct {
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	ContentType string    `json:"content_type"`
	Digest      string    `json:"digest"`
	StoredAt    time.Time `json:"stored_at"`
}

func newRecord(key, contentType string, payload []byte) Record {
	return Record{
		Key:         key,
		Payload:     payload,
		ContentType: contentType,
		Digest:      Digest(payload),
		StoredAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// openState keeps the sticky result of opening a provider.
type openState struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (o *openState) do(open func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return o.err
	}
	o.done = true
	o.err = open()
	return o.err
}

// ready reports whether the provider may serve requests.
func (o *openState) ready() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.done {
		return errNotOpened
	}
	return o.err
}

type MemCache struct {
	state *openState
	mutex *sync.RWMutex
	db    map[string]Record
}

func NewMemCache() MemCache {
	return MemCache{
		state: &openState{},
		mutex: &sync.RWMutex{},
		db:    make(map[string]Record),
	}
}

func (m MemCache) Open(ctx context.Context) error {
	return m.state.do(func() error { return nil })
}

func (m MemCache) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := m.state.ready(); err != nil {
		return Record{}, false, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rec, ok := m.db[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec, true, nil
}

func (m MemCache) Put(ctx context.Context, key, contentType string, payload []byte) error {
	if err := m.state.ready(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Key: key, Err: err}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = newRecord(key, contentType, append([]byte(nil), payload...))
	return nil
}

func (m MemCache) Keys(ctx context.Context, cb func(string)) error {
	if err := m.state.ready(); err != nil {
		return err
	}
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}
