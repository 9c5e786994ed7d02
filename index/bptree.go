package index

import (
	"bytes"
	"path/filepath"

	"github.com/Tuanzi-bug/tuankv/data"
	"go.etcd.io/bbolt"
)

const (
	BPlusTreeIndexFileName = "bptree-index"
)

var indexBucketName = []byte("bitcask-index")

// BPlusTree 基于 bbolt 的持久化索引，启动时不需要从数据文件重建
type BPlusTree struct {
	tree *bbolt.DB
}

func NewBPlusTree(dirPath string, syncWrites bool) *BPlusTree {
	opts := *bbolt.DefaultOptions
	opts.NoSync = !syncWrites
	bpTree, err := bbolt.Open(filepath.Join(dirPath, BPlusTreeIndexFileName), 0644, &opts)
	if err != nil {
		panic("failed to open bpTree")
	}

	if err := bpTree.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketName)
		return err
	}); err != nil {
		panic("failed to create bucket in bpTree")
	}

	return &BPlusTree{tree: bpTree}
}

func (bpt *BPlusTree) Put(key []byte, pos *data.LogRecordPos) *data.LogRecordPos {
	var oldVal []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		oldVal = bytes.Clone(b.Get(key))
		return b.Put(key, data.EncodeLogRecordPos(pos))
	}); err != nil {
		panic("failed to put value in bpTree")
	}

	return data.DecodeLogRecordPos(oldVal)
}

func (bpt *BPlusTree) Get(key []byte) *data.LogRecordPos {
	var pos *data.LogRecordPos
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		v := b.Get(key)
		if len(v) != 0 {
			pos = data.DecodeLogRecordPos(v)
		}
		return nil
	}); err != nil {
		panic("failed to get value in bpTree")
	}
	return pos
}

func (bpt *BPlusTree) Delete(key []byte) (*data.LogRecordPos, bool) {
	var ok bool
	var oldValue []byte
	if err := bpt.tree.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		if v := b.Get(key); len(v) != 0 {
			oldValue = bytes.Clone(v)
			ok = true
			return b.Delete(key)
		}
		return nil
	}); err != nil {
		panic("failed to delete value in bpTree")
	}
	return data.DecodeLogRecordPos(oldValue), ok
}

func (bpt *BPlusTree) Size() int {
	var size int
	if err := bpt.tree.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		size = b.Stats().KeyN
		return nil
	}); err != nil {
		panic("failed to get size in bpTree")
	}
	return size
}

func (bpt *BPlusTree) Close() error {
	return bpt.tree.Close()
}

func (bpt *BPlusTree) Iterator(reverse bool) Iterator {
	return newBPlusTreeIterator(bpt.tree, reverse)
}

// bPlusTreeIterator 持有一个只读事务，Close 之前看到的都是同一个快照
type bPlusTreeIterator struct {
	reverse  bool
	tx       *bbolt.Tx
	cursor   *bbolt.Cursor
	curKey   []byte
	curValue []byte
}

func newBPlusTreeIterator(tree *bbolt.DB, reverse bool) *bPlusTreeIterator {
	tx, err := tree.Begin(false)
	if err != nil {
		panic("failed to begin a transaction")
	}
	bpi := &bPlusTreeIterator{
		reverse: reverse,
		tx:      tx,
		cursor:  tx.Bucket(indexBucketName).Cursor(),
	}
	bpi.Rewind()
	return bpi
}

func (bpi *bPlusTreeIterator) Rewind() {
	if bpi.reverse {
		bpi.curKey, bpi.curValue = bpi.cursor.Last()
	} else {
		bpi.curKey, bpi.curValue = bpi.cursor.First()
	}
}

func (bpi *bPlusTreeIterator) Seek(key []byte) {
	bpi.curKey, bpi.curValue = bpi.cursor.Seek(key)
	if bpi.reverse {
		// Seek 定位到第一个 >= key 的位置，反向遍历需要回退到 <= key
		if bpi.curKey == nil {
			bpi.curKey, bpi.curValue = bpi.cursor.Last()
		} else if bytes.Compare(bpi.curKey, key) > 0 {
			bpi.curKey, bpi.curValue = bpi.cursor.Prev()
		}
	}
}

func (bpi *bPlusTreeIterator) Next() {
	if bpi.reverse {
		bpi.curKey, bpi.curValue = bpi.cursor.Prev()
	} else {
		bpi.curKey, bpi.curValue = bpi.cursor.Next()
	}
}

func (bpi *bPlusTreeIterator) Valid() bool {
	return len(bpi.curKey) != 0
}

func (bpi *bPlusTreeIterator) Key() []byte {
	return bytes.Clone(bpi.curKey)
}

func (bpi *bPlusTreeIterator) Value() *data.LogRecordPos {
	return data.DecodeLogRecordPos(bpi.curValue)
}

func (bpi *bPlusTreeIterator) Close() {
	_ = bpi.tx.Rollback()
}
