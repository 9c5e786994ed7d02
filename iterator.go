package bitcask

import (
	"bytes"

	"github.com/Tuanzi-bug/tuankv/index"
)

// Iterator 面向用户的迭代器
type Iterator struct {
	indexIter index.Iterator // 索引迭代器
	db        *DB
	options   IteratorOptions
	exhausted bool // 已经越过前缀范围
}

// NewIterator 初始化迭代器，索引迭代器持有的是创建时刻的快照
func (db *DB) NewIterator(opts IteratorOptions) *Iterator {
	db.mu.RLock()
	indexIter := db.index.Iterator(opts.Reverse)
	db.mu.RUnlock()
	it := &Iterator{
		indexIter: indexIter,
		db:        db,
		options:   opts,
	}
	it.Rewind()
	return it
}

// Rewind 重新回到迭代器的起点，即第一个数据
func (it *Iterator) Rewind() {
	it.exhausted = false
	it.indexIter.Rewind()
	// 正向遍历时直接定位到前缀开始的位置
	if len(it.options.Prefix) > 0 && !it.options.Reverse {
		it.indexIter.Seek(it.options.Prefix)
	}
	it.skipToNext()
}

// Seek 根据传入的 key 查找到第一个大于（或小于）等于的目标 key，从这个 key 开始遍历
func (it *Iterator) Seek(key []byte) {
	it.exhausted = false
	it.indexIter.Seek(key)
	it.skipToNext()
}

// Next 跳转到下一个 key
func (it *Iterator) Next() {
	it.indexIter.Next()
	it.skipToNext()
}

// Valid 是否有效，即是否已经遍历完了所有的 key，用于退出遍历
func (it *Iterator) Valid() bool {
	return !it.exhausted && it.indexIter.Valid()
}

// Key 当前遍历位置的 Key 数据
func (it *Iterator) Key() []byte {
	return it.indexIter.Key()
}

// Value 当前遍历位置的 Value 数据
func (it *Iterator) Value() ([]byte, error) {
	pos := it.indexIter.Value()
	it.db.mu.RLock()
	defer it.db.mu.RUnlock()
	if it.db.closed {
		return nil, ErrDatabaseClosed
	}
	return it.db.getValueByPosition(pos)
}

// Close 关闭迭代器，释放相应资源
func (it *Iterator) Close() {
	it.indexIter.Close()
}

func (it *Iterator) skipToNext() {
	prefix := it.options.Prefix
	if len(prefix) == 0 {
		return
	}
	for ; it.indexIter.Valid(); it.indexIter.Next() {
		key := it.indexIter.Key()
		if bytes.HasPrefix(key, prefix) {
			return
		}
		// 正向遍历时 key 已经大于前缀，后面不会再有匹配的 key
		if !it.options.Reverse && bytes.Compare(key, prefix) > 0 {
			it.exhausted = true
			return
		}
	}
}
