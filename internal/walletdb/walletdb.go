// Package walletdb persists account records and account manager data on top
// of a storage.DB.
package walletdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/tangle-wallet/internal/log"
	"github.com/Klingon-tech/tangle-wallet/internal/storage"
)

// SchemaVersion is written next to the data and checked on open.
const SchemaVersion = 1

// ErrWrongSchema is returned by Open for data written by another schema version.
var ErrWrongSchema = errors.New("unsupported wallet database schema")

var (
	accountPrefix = []byte("a/")
	managerKey    = []byte("m")
	schemaKey     = []byte("v")
)

// Store is the persistence capability of the account manager. Records are
// opaque JSON documents owned by the caller.
type Store interface {
	SaveAccount(index uint32, record []byte) error
	// Accounts returns all account records ordered by index.
	Accounts() ([]Record, error)
	RemoveAccount(index uint32) error
	SaveManagerData(record []byte) error
	// ManagerData returns nil when nothing was saved yet.
	ManagerData() ([]byte, error)
}

// Record is one persisted account.
type Record struct {
	Index uint32
	Data  []byte
}

// DB implements Store in a namespace of a storage.DB.
type DB struct {
	db storage.DB
}

// Open wraps db, writing the schema version on first use.
func Open(db storage.DB, namespace string) (*DB, error) {
	var inner storage.DB = db
	if namespace != "" {
		inner = storage.NewPrefixDB(db, []byte(namespace+"/"))
	}
	w := &DB{db: inner}

	v, err := inner.Get(schemaKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := inner.Put(schemaKey, []byte{SchemaVersion}); err != nil {
			return nil, fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case len(v) != 1 || v[0] != SchemaVersion:
		return nil, fmt.Errorf("%w: %v", ErrWrongSchema, v)
	}
	return w, nil
}

func accountKey(index uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte{}, accountPrefix...), index)
}

// SaveAccount stores the record of account index.
func (w *DB) SaveAccount(index uint32, record []byte) error {
	if err := w.db.Put(accountKey(index), record); err != nil {
		return fmt.Errorf("save account %d: %w", index, err)
	}
	log.Storage.Trace().Uint32("account", index).Int("bytes", len(record)).Msg("Account saved")
	return nil
}

// Accounts returns every stored account record ordered by index.
func (w *DB) Accounts() ([]Record, error) {
	var records []Record
	err := w.db.ForEach(accountPrefix, func(key, value []byte) error {
		if len(key) != len(accountPrefix)+4 {
			return fmt.Errorf("malformed account key %x", key)
		}
		records = append(records, Record{
			Index: binary.BigEndian.Uint32(key[len(accountPrefix):]),
			Data:  value,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// RemoveAccount deletes the record of account index.
func (w *DB) RemoveAccount(index uint32) error {
	if err := w.db.Delete(accountKey(index)); err != nil {
		return fmt.Errorf("remove account %d: %w", index, err)
	}
	return nil
}

// SaveManagerData stores the account manager record.
func (w *DB) SaveManagerData(record []byte) error {
	if err := w.db.Put(managerKey, record); err != nil {
		return fmt.Errorf("save manager data: %w", err)
	}
	return nil
}

// ManagerData returns the account manager record or nil.
func (w *DB) ManagerData() ([]byte, error) {
	data, err := w.db.Get(managerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load manager data: %w", err)
	}
	return data, nil
}

// SaveAll writes account records and the manager record in one batch.
func (w *DB) SaveAll(accounts []Record, manager []byte) error {
	b := storage.NewBatch(w.db)
	for _, r := range accounts {
		if err := b.Put(accountKey(r.Index), r.Data); err != nil {
			return err
		}
	}
	if manager != nil {
		if err := b.Put(managerKey, manager); err != nil {
			return err
		}
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("save wallet data: %w", err)
	}
	return nil
}
