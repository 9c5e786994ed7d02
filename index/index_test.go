package index

import (
	"fmt"
	"testing"

	"github.com/Tuanzi-bug/tuankv/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndexers(t *testing.T) map[string]Indexer {
	bpt := NewBPlusTree(t.TempDir(), false)
	t.Cleanup(func() { _ = bpt.Close() })
	return map[string]Indexer{
		"btree":  NewBTree(),
		"art":    NewART(),
		"bptree": bpt,
	}
}

func TestIndexer_PutGet(t *testing.T) {
	for name, idx := range newIndexers(t) {
		t.Run(name, func(t *testing.T) {
			res1 := idx.Put([]byte("a"), &data.LogRecordPos{Fid: 1, Offset: 100, Size: 10})
			assert.Nil(t, res1)

			res2 := idx.Put([]byte("a"), &data.LogRecordPos{Fid: 1, Offset: 200, Size: 11})
			require.NotNil(t, res2)
			assert.Equal(t, int64(100), res2.Offset)

			pos := idx.Get([]byte("a"))
			require.NotNil(t, pos)
			assert.Equal(t, uint32(1), pos.Fid)
			assert.Equal(t, int64(200), pos.Offset)

			assert.Nil(t, idx.Get([]byte("missing")))
			assert.Equal(t, 1, idx.Size())
		})
	}
}

func TestIndexer_Delete(t *testing.T) {
	for name, idx := range newIndexers(t) {
		t.Run(name, func(t *testing.T) {
			idx.Put([]byte("hello world"), &data.LogRecordPos{Fid: 1, Offset: 2, Size: 3})

			old, ok := idx.Delete([]byte("hello world"))
			assert.True(t, ok)
			require.NotNil(t, old)
			assert.Equal(t, int64(2), old.Offset)

			old, ok = idx.Delete([]byte("hello world"))
			assert.False(t, ok)
			assert.Nil(t, old)
			assert.Equal(t, 0, idx.Size())
		})
	}
}

func TestIndexer_Iterator(t *testing.T) {
	keys := []string{"b", "ab", "a", "c", "abc"}
	for name, idx := range newIndexers(t) {
		t.Run(name, func(t *testing.T) {
			for i, k := range keys {
				idx.Put([]byte(k), &data.LogRecordPos{Fid: 1, Offset: int64(i)})
			}

			it := idx.Iterator(false)
			var got []string
			for it.Rewind(); it.Valid(); it.Next() {
				got = append(got, string(it.Key()))
				assert.NotNil(t, it.Value())
			}
			it.Close()
			assert.Equal(t, []string{"a", "ab", "abc", "b", "c"}, got)

			it = idx.Iterator(true)
			got = got[:0]
			for it.Rewind(); it.Valid(); it.Next() {
				got = append(got, string(it.Key()))
			}
			it.Close()
			assert.Equal(t, []string{"c", "b", "abc", "ab", "a"}, got)

			it = idx.Iterator(false)
			it.Seek([]byte("abb"))
			require.True(t, it.Valid())
			assert.Equal(t, "abc", string(it.Key()))
			it.Close()

			it = idx.Iterator(true)
			it.Seek([]byte("abb"))
			require.True(t, it.Valid())
			assert.Equal(t, "ab", string(it.Key()))
			it.Close()
		})
	}
}

func TestBTreeIterator_Snapshot(t *testing.T) {
	bt := NewBTree()
	for i := 0; i < 10; i++ {
		bt.Put([]byte(fmt.Sprintf("key-%02d", i)), &data.LogRecordPos{Fid: 1, Offset: int64(i)})
	}
	it := bt.Iterator(false)
	defer it.Close()

	// 迭代器创建之后的写入不影响遍历结果
	bt.Put([]byte("key-99"), &data.LogRecordPos{Fid: 1})
	bt.Delete([]byte("key-00"))

	var n int
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	assert.Equal(t, 10, n)
}
