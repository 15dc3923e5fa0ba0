package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("key1"), []byte("value1")))
		val, err := db.Get([]byte("key1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		_, err := db.Get([]byte("nonexistent"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Has", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("exists"), []byte("yes")))
		ok, err := db.Has([]byte("exists"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.Has([]byte("missing"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("ow"), []byte("first")))
		require.NoError(t, db.Put([]byte("ow"), []byte("second")))
		val, err := db.Get([]byte("ow"))
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), val)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("del"), []byte("value")))
		require.NoError(t, db.Delete([]byte("del")))
		ok, _ := db.Has([]byte("del"))
		assert.False(t, ok)
		_, err := db.Get([]byte("del"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		assert.NoError(t, db.Delete([]byte("never-existed")))
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		v := []byte("abc")
		require.NoError(t, db.Put([]byte("copy"), v))
		v[0] = 'z'
		got, err := db.Get([]byte("copy"))
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("ForEach", func(t *testing.T) {
		for _, k := range []string{"prefix/a", "prefix/b", "prefix/c", "other/x"} {
			require.NoError(t, db.Put([]byte(k), []byte("v")))
		}
		var keys []string
		err := db.ForEach([]byte("prefix/"), func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"prefix/a", "prefix/b", "prefix/c"}, keys)
	})

	t.Run("ForEachStop", func(t *testing.T) {
		stop := errors.New("stop")
		count := 0
		err := db.ForEach([]byte("prefix/"), func(_, _ []byte) error {
			count++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, count)
	})

	t.Run("Batch", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("batch/gone"), []byte("x")))
		b := NewBatch(db)
		require.NoError(t, b.Put([]byte("batch/a"), []byte("1")))
		require.NoError(t, b.Put([]byte("batch/b"), []byte("2")))
		require.NoError(t, b.Delete([]byte("batch/gone")))

		ok, _ := db.Has([]byte("batch/a"))
		assert.False(t, ok, "batch writes visible before commit")

		require.NoError(t, b.Commit())
		got, err := db.Get([]byte("batch/b"))
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), got)
		ok, _ = db.Has([]byte("batch/gone"))
		assert.False(t, ok)
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestMemoryDB_Concurrent(t *testing.T) {
	db := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := []byte(fmt.Sprintf("k/%d/%d", i, j))
				_ = db.Put(k, k)
				_, _ = db.Get(k)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	require.NoError(t, db.ForEach([]byte("k/"), func(_, _ []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 800, count)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_InMemory(t *testing.T) {
	db, err := NewBadgerInMemory()
	require.NoError(t, err)
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_Persistence(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewBadger(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("persist"), []byte("data")))
	require.NoError(t, db1.Close())

	db2, err := NewBadger(dir)
	require.NoError(t, err)
	defer db2.Close()

	val, err := db2.Get([]byte("persist"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), val)
}

func TestBadgerDB_Locked(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewBadger(dir)
	require.NoError(t, err)
	defer db1.Close()

	_, err = NewBadger(dir)
	assert.Error(t, err)
}
