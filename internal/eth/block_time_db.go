package eth

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BlockTimeDb persists block timestamps. Blocks inside the scan window are
// read over and over across refreshes and their timestamps never change.
type BlockTimeDb interface {
	GetTime(blockNumber uint64) (uint64, bool)
	SetTime(blockNumber uint64, timestamp uint64) error
	RevertFromBlock(fromBlock uint64) error
}

func NewBlockTimeDb(db *badger.DB) BlockTimeDb {
	return &BlockTimeDbImpl{db: db}
}

type BlockTimeDbImpl struct {
	mu sync.RWMutex
	db *badger.DB
}

const blockTimePrefix = "royaltynode:blockTime:"

func (b *BlockTimeDbImpl) GetTime(blockNumber uint64) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ts uint64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeBlockTimeKey(blockNumber))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return errors.New("malformed block time value")
			}
			ts = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err != nil {
		return 0, false
	}
	return ts, true
}

func (b *BlockTimeDbImpl) SetTime(blockNumber uint64, timestamp uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var val [8]byte
	binary.BigEndian.PutUint64(val[:], timestamp)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeBlockTimeKey(blockNumber), val[:])
	})
}

// RevertFromBlock drops every timestamp at or above fromBlock.
func (b *BlockTimeDbImpl) RevertFromBlock(fromBlock uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		var keysToDelete [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(blockTimePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(encodeBlockTimeKey(fromBlock)); it.ValidForPrefix(opts.Prefix); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}

		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeBlockTimeKey(blockNum uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], blockNum)
	return append([]byte(blockTimePrefix), buf[:]...)
}

func decodeBlockTimeKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(blockTimePrefix):])
}
