package storage

import (
	"errors"
	"fmt"
	"strings"

	klog "github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/dgraph-io/badger/v4"
)

// Wallet databases hold a few accounts, so tables and value logs stay small.
const (
	badgerMemTableSize    = 8 << 20
	badgerValueLogSize    = 16 << 20
	badgerGCDiscardRatio  = 0.5
	badgerMaxGCIterations = 4
)

// BadgerDB implements DB using Badger. Writes are synced to disk before they
// return, so a saved account survives a crash right after Save.
type BadgerDB struct {
	db    *badger.DB
	where string
}

// NewBadger opens a Badger database at path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithMemTableSize(badgerMemTableSize).
		WithValueLogFileSize(badgerValueLogSize).
		WithNumVersionsToKeep(1)
	return openBadger(opts, path)
}

// NewBadgerInMemory opens a Badger database that keeps everything in memory.
func NewBadgerInMemory() (*BadgerDB, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), "memory")
}

func openBadger(opts badger.Options, where string) (*BadgerDB, error) {
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot acquire directory lock") ||
			strings.Contains(msg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("wallet database at %s is in use (is tanglewalletd running?): %w", where, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", where, err)
	}
	klog.Storage.Debug().Str("path", where).Bool("in_memory", opts.InMemory).Msg("Badger opened")
	return &BadgerDB{db: db, where: where}, nil
}

// lookup reads key inside txn. A missing key yields ErrNotFound.
func lookup(txn *badger.Txn, key []byte) (*badger.Item, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return item, err
}

// Get returns a copy of the value at key or ErrNotFound.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := lookup(txn, key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Put stores value at key.
func (b *BadgerDB) Put(key, value []byte) error {
	return b.update("put", func(txn *badger.Txn) error { return txn.Set(key, value) })
}

// Delete removes key. Deleting a missing key is not an error.
func (b *BadgerDB) Delete(key []byte) error {
	return b.update("delete", func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (b *BadgerDB) update(op string, fn func(txn *badger.Txn) error) error {
	if err := b.db.Update(fn); err != nil {
		return fmt.Errorf("badger %s: %w", op, err)
	}
	return nil
}

// Has reports whether key exists without reading its value.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := lookup(txn, key)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("badger has: %w", err)
	}
	return true, nil
}

// ForEach calls fn in key order for every key with prefix. fn gets copies
// and must not write to the database.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close reclaims value log space left by rewritten account records and
// closes the database.
func (b *BadgerDB) Close() error {
	if !b.db.Opts().InMemory {
		for i := 0; i < badgerMaxGCIterations; i++ {
			if err := b.db.RunValueLogGC(badgerGCDiscardRatio); err != nil {
				break
			}
		}
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close database at %s: %w", b.where, err)
	}
	return nil
}

// NewBatch returns a batch committed as one Badger transaction.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{db: b}
}

type badgerBatch struct {
	db  *BadgerDB
	ops []batchOp
}

func (bb *badgerBatch) Put(key, value []byte) error {
	bb.ops = append(bb.ops, batchOp{key: clone(key), value: append([]byte{}, value...)})
	return nil
}

func (bb *badgerBatch) Delete(key []byte) error {
	bb.ops = append(bb.ops, batchOp{key: clone(key)})
	return nil
}

// Commit applies all operations atomically. A batch too large for one
// transaction fails with badger.ErrTxnTooBig and leaves the database unchanged.
func (bb *badgerBatch) Commit() error {
	err := bb.db.update("batch commit", func(txn *badger.Txn) error {
		for _, op := range bb.ops {
			var err error
			if op.value == nil {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	bb.ops = nil
	return nil
}
