// Package cache is the artifact cache for external-provider responses:
// content-addressed by (mediaId, version, provider), validated by
// processor-version equality. Backed by internal/store/boltstore
// rather than an in-process TTL map — entries are valid until the
// processor version changes, not until a deadline, so a time-based
// eviction policy would be the wrong model.
package cache

import (
	"encoding/json"

	"github.com/dastron/mediaworker/internal/hashing"
	"github.com/dastron/mediaworker/internal/store/boltstore"
)

// Entry is one cached provider response.
type Entry struct {
	MediaID          string
	Version          int
	Provider         string
	ProcessorVersion string
	Features         []string
	Response         json.RawMessage
}

// Cache is the Artifact Cache, backed by a durable key/value store.
type Cache struct {
	store *boltstore.Store
}

// New wraps a boltstore.Store as an Artifact Cache.
func New(store *boltstore.Store) *Cache {
	return &Cache{store: store}
}

// Get looks up a cache entry by (mediaId, version, provider).
func (c *Cache) Get(mediaID string, version int, provider string) (Entry, bool, error) {
	key := hashing.CacheKey(mediaID, version, provider)
	var entry Entry
	found, err := c.store.Get(boltstore.CacheEntriesBucket(), key, &entry)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, found, nil
}

// Valid reports whether entry is usable given the processor's current
// version: strict equality, no staleness window. An older recorded
// version and a newer one are equally invalid.
func Valid(entry Entry, currentProcessorVersion string) bool {
	return entry.ProcessorVersion == currentProcessorVersion
}

// Put writes (overwrites) a cache entry. Idempotent: a newer attempt
// with the same processor version re-running the call simply
// overwrites the prior response.
func (c *Cache) Put(mediaID string, version int, provider, processorVersion string, features []string, response json.RawMessage) error {
	key := hashing.CacheKey(mediaID, version, provider)
	entry := Entry{
		MediaID:          mediaID,
		Version:          version,
		Provider:         provider,
		ProcessorVersion: processorVersion,
		Features:         features,
		Response:         response,
	}
	return c.store.Put(boltstore.CacheEntriesBucket(), key, entry)
}
