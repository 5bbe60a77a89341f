package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/6529-Collections/royaltynode/internal/db"
	"github.com/dgraph-io/badger/v4"
)

// BlobStore keeps one opaque payload per namespace. A missing namespace reads
// as a nil payload and no error.
type BlobStore interface {
	Get(namespace string) ([]byte, error)
	Set(namespace string, payload []byte) error
}

const (
	BackendBadger = "badger"
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
)

const blobPrefix = "royaltynode:cache:"

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Get(namespace string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobPrefix + namespace))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s blob: %w", namespace, err)
	}
	return payload, nil
}

func (s *BadgerStore) Set(namespace string, payload []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobPrefix+namespace), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s blob: %w", namespace, err)
	}
	return nil
}

type SqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSqliteStore(db *sql.DB) *SqliteStore {
	return &SqliteStore{db: db, now: time.Now}
}

func (s *SqliteStore) Get(namespace string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM cache_blobs WHERE namespace = ?`, namespace).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s blob: %w", namespace, err)
	}
	return payload, nil
}

func (s *SqliteStore) Set(namespace string, payload []byte) error {
	_, err := db.TxRunner(context.Background(), s.db, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`
			INSERT INTO cache_blobs (namespace, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(namespace) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
		`, namespace, payload, s.now().UnixMilli())
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return fmt.Errorf("failed to write %s blob: %w", namespace, err)
	}
	return nil
}

// MemoryStore keeps blobs for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(namespace string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.blobs[namespace]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), payload...), nil
}

func (s *MemoryStore) Set(namespace string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[namespace] = append([]byte(nil), payload...)
	return nil
}

// OpenStore opens the configured backend under path. The returned close
// function releases the underlying database.
func OpenStore(backend, path string) (BlobStore, func() error, error) {
	switch backend {
	case BackendBadger, "":
		bdb, err := db.OpenBadger(path)
		if err != nil {
			return nil, nil, err
		}
		return NewBadgerStore(bdb), bdb.Close, nil
	case BackendSqlite:
		sdb, err := db.OpenSqlite(filepath.Join(path, "cache.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return NewSqliteStore(sdb), sdb.Close, nil
	case BackendMemory:
		return NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
