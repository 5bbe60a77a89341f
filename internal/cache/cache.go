// Package cache keeps the last derived result per address, persisted as one
// blob per namespace so it survives restarts.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/pkg/stringtools"
	"go.uber.org/zap"
)

const (
	NamespaceTransactions     = "transactions"
	NamespaceRoyalties        = "royalties"
	NamespaceCreatorRoyalties = "creator-royalties"
)

// Entry is the cached outcome of one successful build for one address.
type Entry[R any] struct {
	Records          []R                `json:"records"`
	Summary          royalty.Summary[R] `json:"summary"`
	LastFetchedAt    int64              `json:"lastFetchedAt"`
	LastScannedBlock uint64             `json:"lastScannedBlock"`
}

func (e Entry[R]) clone() Entry[R] {
	out := e
	out.Records = append(make([]R, 0, len(e.Records)), e.Records...)
	out.Summary.RecentRecords = append(make([]R, 0, len(e.Summary.RecentRecords)), e.Summary.RecentRecords...)
	if e.Summary.ActiveListings != nil {
		out.Summary.ActiveListings = append([]royalty.Listing(nil), e.Summary.ActiveListings...)
	}
	return out
}

// Cache holds every address of one namespace in memory and writes the whole
// map back to the store on each Put.
type Cache[R any] struct {
	mu        sync.RWMutex
	namespace string
	store     BlobStore
	entries   map[string]Entry[R]
}

// New loads the namespace once. An unreadable or corrupt blob starts an
// empty cache; the next Put overwrites it.
func New[R any](store BlobStore, namespace string) *Cache[R] {
	c := &Cache[R]{
		namespace: namespace,
		store:     store,
		entries:   make(map[string]Entry[R]),
	}

	payload, err := store.Get(namespace)
	if err != nil {
		zap.L().Warn("Cache unavailable, starting empty", zap.String("namespace", namespace), zap.Error(err))
		return c
	}
	if len(payload) == 0 {
		return c
	}
	var loaded map[string]Entry[R]
	if err := json.Unmarshal(payload, &loaded); err != nil {
		zap.L().Warn("Cache blob is corrupt, starting empty", zap.String("namespace", namespace), zap.Error(err))
		return c
	}
	for addr, e := range loaded {
		c.entries[stringtools.NormalizeAddress(addr)] = e
	}
	zap.L().Info("Loaded cache", zap.String("namespace", namespace), zap.Int("addresses", len(c.entries)))
	return c
}

func (c *Cache[R]) Namespace() string {
	return c.namespace
}

// Get returns a copy of the entry for address.
func (c *Cache[R]) Get(address string) (Entry[R], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[stringtools.NormalizeAddress(address)]
	if !ok {
		return Entry[R]{}, false
	}
	return e.clone(), true
}

// Put replaces the entry for address and persists the namespace. The entry is
// kept in memory even if persisting fails.
func (c *Cache[R]) Put(address string, e Entry[R]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stringtools.NormalizeAddress(address)] = e.clone()
	return c.flush()
}

func (c *Cache[R]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[R])
	return c.flush()
}

// Addresses lists cached addresses in lexical order.
func (c *Cache[R]) Addresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for addr := range c.entries {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (c *Cache[R]) flush() error {
	payload, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("failed to encode %s cache: %w", c.namespace, err)
	}
	if err := c.store.Set(c.namespace, payload); err != nil {
		zap.L().Warn("Failed to persist cache", zap.String("namespace", c.namespace), zap.Error(err))
		return err
	}
	return nil
}
