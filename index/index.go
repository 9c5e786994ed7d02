package index

import (
	"bytes"

	"github.com/Tuanzi-bug/tuankv/data"
	"github.com/google/btree"
)

// Indexer is an interface that represents the index of the data records.
type Indexer interface {
	Put(key []byte, pos *data.LogRecordPos) *data.LogRecordPos // Put stores the position of key and returns the previous one, if any.
	Get(key []byte) *data.LogRecordPos                         // Get returns the position of key, nil if absent.
	Delete(key []byte) (*data.LogRecordPos, bool)              // Delete removes key and returns the previous position and whether it existed.
	Iterator(reverse bool) Iterator                            // Iterator returns an iterator over a point-in-time view of the index.
	Size() int                                                 // Size returns the number of keys in the index.
	Close() error                                              // Close releases the resources held by the index.
}

type Item struct {
	key []byte
	pos *data.LogRecordPos
}

type IndexType = int8

const (
	Btree IndexType = iota + 1
	Art
	BPTree
)

// NewIndexer 根据配置返回对应的索引对象
func NewIndexer(indexType IndexType, dirPath string, sync bool) Indexer {
	switch indexType {
	case Btree:
		return NewBTree()
	case Art:
		return NewART()
	case BPTree:
		return NewBPlusTree(dirPath, sync)
	default:
		panic("unsupported index type")
	}
}

func (ai *Item) Less(bi btree.Item) bool {
	return bytes.Compare(ai.key, bi.(*Item).key) == -1
}

type Iterator interface {
	Rewind()                   // 重新回到迭代器的起点
	Seek(key []byte)           // 根据传入的key从此开始遍历
	Next()                     // 跳转下一个key
	Valid() bool               // 是否已经遍历完所有key
	Key() []byte               // 当前遍历位置的key数据
	Value() *data.LogRecordPos // 当前遍历位置的Value数据
	Close()                    // 关闭迭代器，释放相应资源
}
