package storage

// PrefixDB is a namespace inside another DB. Several wallets can share one
// Badger directory, each under its own prefix.
type PrefixDB struct {
	inner DB
	ns    []byte
}

// NewPrefixDB returns the namespace ns of inner.
func NewPrefixDB(inner DB, ns []byte) *PrefixDB {
	return &PrefixDB{inner: inner, ns: clone(ns)}
}

func (p *PrefixDB) key(k []byte) []byte {
	return append(append(make([]byte, 0, len(p.ns)+len(k)), p.ns...), k...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }
func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.key(key), value) }
func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }
func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

// ForEach visits keys under prefix in the namespace. fn sees keys relative
// to the namespace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.ns)
	return p.inner.ForEach(p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Close leaves the inner DB open. Its owner closes it.
func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch of the inner DB with namespaced keys. It is atomic
// when the inner DB's batches are.
func (p *PrefixDB) NewBatch() Batch {
	return prefixBatch{Batch: NewBatch(p.inner), p: p}
}

type prefixBatch struct {
	Batch
	p *PrefixDB
}

func (b prefixBatch) Put(key, value []byte) error { return b.Batch.Put(b.p.key(key), value) }
func (b prefixBatch) Delete(key []byte) error { return b.Batch.Delete(b.p.key(key)) }
