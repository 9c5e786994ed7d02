package bitcask

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Tuanzi-bug/tuankv/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var indexTypes = map[string]index.IndexType{
	"btree":  index.Btree,
	"art":    index.Art,
	"bptree": index.BPTree,
}

func testOptions(t *testing.T, typ index.IndexType) Options {
	opts := DefaultOptions
	// merge 目录和数据目录同级，放在单独的子目录下
	opts.DirPath = filepath.Join(t.TempDir(), "db")
	opts.DataFileSize = 64 * 1024
	opts.IndexType = typ
	return opts
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("tuankv-key-%09d", i))
}

func testValue(i int) []byte {
	return []byte(fmt.Sprintf("tuankv-value-%09d-%s", i, "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"))
}

func TestDB_PutGetDelete(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			db, err := Open(testOptions(t, typ))
			require.NoError(t, err)
			defer db.Close()

			require.NoError(t, db.Put([]byte("a"), []byte("1")))
			val, err := db.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), val)

			// 覆盖写
			require.NoError(t, db.Put([]byte("a"), []byte("2")))
			val, err = db.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), val)

			// 空值
			require.NoError(t, db.Put([]byte("empty"), nil))
			val, err = db.Get([]byte("empty"))
			require.NoError(t, err)
			assert.Len(t, val, 0)

			existed, err := db.Delete([]byte("a"))
			require.NoError(t, err)
			assert.True(t, existed)
			_, err = db.Get([]byte("a"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			existed, err = db.Delete([]byte("a"))
			require.NoError(t, err)
			assert.False(t, existed)

			assert.ErrorIs(t, db.Put(nil, []byte("x")), ErrKeyIsEmpty)
			_, err = db.Get(nil)
			assert.ErrorIs(t, err, ErrKeyIsEmpty)
		})
	}
}

func TestDB_Reopen(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t, typ)
			db, err := Open(opts)
			require.NoError(t, err)

			// 写满多个数据文件
			for i := 0; i < 2000; i++ {
				require.NoError(t, db.Put(testKey(i), testValue(i)))
			}
			for i := 0; i < 500; i++ {
				_, err := db.Delete(testKey(i))
				require.NoError(t, err)
			}
			stat, err := db.Stat()
			require.NoError(t, err)
			assert.Greater(t, stat.DataFileNum, uint(1))
			assert.Equal(t, uint(1500), stat.KeyNum)
			require.NoError(t, db.Close())

			db2, err := Open(opts)
			require.NoError(t, err)
			defer db2.Close()

			_, err = db2.Get(testKey(10))
			assert.ErrorIs(t, err, ErrKeyNotFound)
			val, err := db2.Get(testKey(1999))
			require.NoError(t, err)
			assert.Equal(t, testValue(1999), val)

			// 重启后可以继续写入
			require.NoError(t, db2.Put([]byte("after"), []byte("reopen")))
			val, err = db2.Get([]byte("after"))
			require.NoError(t, err)
			assert.Equal(t, []byte("reopen"), val)
		})
	}
}

func TestDB_FileLock(t *testing.T) {
	opts := testOptions(t, index.Btree)
	db, err := Open(opts)
	require.NoError(t, err)

	_, err = Open(opts)
	assert.ErrorIs(t, err, ErrDatabaseIsUsing)

	require.NoError(t, db.Close())
	// 重复关闭不报错
	require.NoError(t, db.Close())

	_, err = db.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	assert.ErrorIs(t, db.Put([]byte("a"), []byte("b")), ErrDatabaseClosed)

	db2, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestDB_ConcurrentPut(t *testing.T) {
	db, err := Open(testOptions(t, index.Btree))
	require.NoError(t, err)
	defer db.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.NoError(t, db.Put(testKey(g*1000+i), testValue(i)))
			}
		}(g)
	}
	wg.Wait()

	stat, err := db.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint(1600), stat.KeyNum)
}

func TestDB_Iterator(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			db, err := Open(testOptions(t, typ))
			require.NoError(t, err)
			defer db.Close()

			for _, k := range []string{"user:2", "user:1", "order:1", "user:10", "usex", "a"} {
				require.NoError(t, db.Put([]byte(k), []byte("v-"+k)))
			}

			it := db.NewIterator(IteratorOptions{Prefix: []byte("user:")})
			var keys []string
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, string(it.Key()))
				val, err := it.Value()
				require.NoError(t, err)
				assert.Equal(t, "v-"+string(it.Key()), string(val))
			}
			it.Close()
			assert.Equal(t, []string{"user:1", "user:10", "user:2"}, keys)

			it = db.NewIterator(IteratorOptions{Prefix: []byte("user:"), Reverse: true})
			keys = keys[:0]
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, string(it.Key()))
			}
			it.Close()
			assert.Equal(t, []string{"user:2", "user:10", "user:1"}, keys)

			it = db.NewIterator(IteratorOptions{Prefix: []byte("none")})
			assert.False(t, it.Valid())
			it.Close()

			all := db.ListKeys()
			assert.Len(t, all, 6)
			assert.Equal(t, []byte("a"), all[0])
		})
	}
}

func TestDB_Fold(t *testing.T) {
	db, err := Open(testOptions(t, index.Btree))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, db.Put(testKey(i), testValue(i)))
	}
	var n int
	require.NoError(t, db.Fold(func(key, value []byte) bool {
		n++
		return n < 5
	}))
	assert.Equal(t, 5, n)
}

func TestWriteBatch(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t, typ)
			db, err := Open(opts)
			require.NoError(t, err)

			require.NoError(t, db.Put([]byte("old"), []byte("v")))

			wb, err := db.NewWriteBatch(DefaultWriteBatchOptions)
			require.NoError(t, err)
			require.NoError(t, wb.Put([]byte("k1"), []byte("v1")))
			require.NoError(t, wb.Delete([]byte("old")))

			// 提交前不可见
			_, err = db.Get([]byte("k1"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, wb.Commit())
			val, err := db.Get([]byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), val)
			_, err = db.Get([]byte("old"))
			assert.ErrorIs(t, err, ErrKeyNotFound)
			require.NoError(t, db.Close())

			// 重启之后事务数据依然有效
			db2, err := Open(opts)
			require.NoError(t, err)
			defer db2.Close()
			val, err = db2.Get([]byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), val)
			_, err = db2.Get([]byte("old"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			wb2, err := db2.NewWriteBatch(WriteBatchOptions{MaxBatchNum: 1, SyncWrites: false})
			require.NoError(t, err)
			require.NoError(t, wb2.Put([]byte("x"), []byte("1")))
			require.NoError(t, wb2.Put([]byte("y"), []byte("2")))
			assert.ErrorIs(t, wb2.Commit(), ErrExceedMaxBatchNum)
		})
	}
}

func TestDB_Merge(t *testing.T) {
	for name, typ := range indexTypes {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t, typ)
			opts.DataFileMergeRatio = 0
			db, err := Open(opts)
			require.NoError(t, err)

			for i := 0; i < 2000; i++ {
				require.NoError(t, db.Put(testKey(i), testValue(i)))
			}
			for i := 0; i < 1000; i++ {
				_, err := db.Delete(testKey(i))
				require.NoError(t, err)
			}
			// 覆盖写一部分
			for i := 1000; i < 1100; i++ {
				require.NoError(t, db.Put(testKey(i), []byte("new")))
			}
			require.NoError(t, db.Merge())

			// merge 期间之后的写入
			require.NoError(t, db.Put(testKey(1999), []byte("after-merge")))
			_, err = db.Delete(testKey(1998))
			require.NoError(t, err)
			require.NoError(t, db.Close())

			db2, err := Open(opts)
			require.NoError(t, err)
			defer db2.Close()

			stat, err := db2.Stat()
			require.NoError(t, err)
			assert.Equal(t, uint(999), stat.KeyNum)

			_, err = db2.Get(testKey(1))
			assert.ErrorIs(t, err, ErrKeyNotFound)
			val, err := db2.Get(testKey(1050))
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), val)
			val, err = db2.Get(testKey(1500))
			require.NoError(t, err)
			assert.Equal(t, testValue(1500), val)
			val, err = db2.Get(testKey(1999))
			require.NoError(t, err)
			assert.Equal(t, []byte("after-merge"), val)
			_, err = db2.Get(testKey(1998))
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestDB_MergeRatioUnreached(t *testing.T) {
	opts := testOptions(t, index.Btree)
	opts.DataFileMergeRatio = 0.9
	db, err := Open(opts)
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put(testKey(i), testValue(i)))
	}
	assert.ErrorIs(t, db.Merge(), ErrMergeRatioUnreached)
}
