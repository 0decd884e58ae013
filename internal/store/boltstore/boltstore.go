// Package boltstore is the durable persistence layer backing the
// artifact cache and the scheduler's resume-from-persisted-result map:
// go.etcd.io/bbolt buckets, JSON-encoded values, and a read-through
// in-memory hot cache guarded by a mutex.
package boltstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketCacheEntries = []byte("cache_entries")
	bucketFlowResults  = []byte("flow_results")
)

// Store is a bbolt-backed key/value store with a hot in-memory read
// cache.
type Store struct {
	db  *bbolt.DB
	mu  sync.RWMutex
	hot map[string][]byte
}

// Open opens (creating if absent) a bbolt database at dbPath/state.db
// and ensures the buckets this engine uses exist.
func Open(dbPath string) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(dbPath+"/state.db", 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCacheEntries, bucketFlowResults} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, hot: make(map[string][]byte)}, nil
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func hotKey(bucket string, key string) string {
	return bucket + "/" + key
}

// Put writes a JSON-serialized value to bucket under key, updating the
// hot cache. Overwriting is allowed and expected.
func (s *Store) Put(bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}

	s.hot[hotKey(string(bucket), key)] = data
	return nil
}

// Get reads a value from bucket under key into out, returning
// (found=false, nil) when absent.
func (s *Store) Get(bucket []byte, key string, out any) (bool, error) {
	s.mu.RLock()
	if data, ok := s.hot[hotKey(string(bucket), key)]; ok {
		s.mu.RUnlock()
		return true, json.Unmarshal(data, out)
	}
	s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	if data == nil {
		return false, nil
	}

	s.mu.Lock()
	s.hot[hotKey(string(bucket), key)] = data
	s.mu.Unlock()

	return true, json.Unmarshal(data, out)
}

// Delete removes a value from bucket under key.
func (s *Store) Delete(bucket []byte, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.hot, hotKey(string(bucket), key))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Delete([]byte(key))
	})
}

// CacheEntriesBucket names the bucket used by internal/cache.
func CacheEntriesBucket() []byte { return bucketCacheEntries }

// FlowResultsBucket names the bucket used by internal/scheduler's
// resume support.
func FlowResultsBucket() []byte { return bucketFlowResults }
