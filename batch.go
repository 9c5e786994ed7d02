package bitcask

import (
	"encoding/binary"
	"sync"

	"github.com/Tuanzi-bug/tuankv/data"
	"github.com/Tuanzi-bug/tuankv/index"
)

const nonTransactionSeqNo uint64 = 0

var txnFinKey = []byte("txn-fin")

// WriteBatch 原子批量写，提交时所有记录共享同一个序列号
type WriteBatch struct {
	options      WriteBatchOptions
	mu           *sync.Mutex
	db           *DB
	pendingWrite map[string]*data.LogRecord // 暂存用户写入的数据
}

// NewWriteBatch 初始化 WriteBatch
func (db *DB) NewWriteBatch(options WriteBatchOptions) (*WriteBatch, error) {
	// B+ 树索引需要依赖 seq-no 文件恢复序列号
	if db.options.IndexType == index.BPTree && !db.seqNoFileExists && !db.isInitial {
		return nil, ErrBatchUnavailable
	}
	return &WriteBatch{
		options:      options,
		mu:           new(sync.Mutex),
		db:           db,
		pendingWrite: make(map[string]*data.LogRecord),
	}, nil
}

// Put 批量写数据
func (wb *WriteBatch) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()

	wb.pendingWrite[string(key)] = &data.LogRecord{
		Key:   key,
		Value: value,
	}
	return nil
}

// Delete 删除数据
func (wb *WriteBatch) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}
	wb.mu.Lock()
	defer wb.mu.Unlock()

	// 数据不存在则直接返回
	wb.db.mu.RLock()
	logRecordPos := wb.db.index.Get(key)
	wb.db.mu.RUnlock()
	if logRecordPos == nil {
		delete(wb.pendingWrite, string(key))
		return nil
	}

	wb.pendingWrite[string(key)] = &data.LogRecord{
		Key:  key,
		Type: data.LogRecordDeleted,
	}
	return nil
}

// Commit 提交事务，将暂存的数据全部写到数据文件，并更新内存索引
func (wb *WriteBatch) Commit() error {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if len(wb.pendingWrite) == 0 {
		return nil
	}
	if len(wb.pendingWrite) > wb.options.MaxBatchNum {
		return ErrExceedMaxBatchNum
	}

	// 加锁保证事务提交串行化
	wb.db.mu.Lock()
	defer wb.db.mu.Unlock()
	if wb.db.closed {
		return ErrDatabaseClosed
	}

	wb.db.seqNo++
	seqNo := wb.db.seqNo
	positions := make(map[string]*data.LogRecordPos)
	for _, record := range wb.pendingWrite {
		pos, err := wb.db.appendLogRecord(&data.LogRecord{
			Key:   logRecordKeyWithSeq(record.Key, seqNo),
			Value: record.Value,
			Type:  record.Type,
		})
		if err != nil {
			return err
		}
		positions[string(record.Key)] = pos
	}
	// 写一条标识事务完成的数据
	if _, err := wb.db.appendLogRecord(&data.LogRecord{
		Key:  logRecordKeyWithSeq(txnFinKey, seqNo),
		Type: data.LogRecordFinished,
	}); err != nil {
		return err
	}

	if wb.options.SyncWrites && wb.db.activeFile != nil {
		if err := wb.db.activeFile.Sync(); err != nil {
			return err
		}
	}

	// 更新内存索引
	for _, record := range wb.pendingWrite {
		pos := positions[string(record.Key)]
		var oldPos *data.LogRecordPos
		switch record.Type {
		case data.LogRecordNormal:
			oldPos = wb.db.index.Put(record.Key, pos)
		case data.LogRecordDeleted:
			oldPos, _ = wb.db.index.Delete(record.Key)
			wb.db.reclaimSize += int64(pos.Size)
		}
		if oldPos != nil {
			wb.db.reclaimSize += int64(oldPos.Size)
		}
	}

	// 清空暂存数据
	wb.pendingWrite = make(map[string]*data.LogRecord)
	return nil
}

// logRecordKeyWithSeq key+Seq Number 编码
func logRecordKeyWithSeq(key []byte, seqNo uint64) []byte {
	seq := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(seq[:], seqNo)

	encKey := make([]byte, n+len(key))
	copy(encKey[:n], seq[:n])
	copy(encKey[n:], key)
	return encKey
}

// parseLogRecordKey 解析 LogRecord 的 key，获取实际的 key 和事务序列号
func parseLogRecordKey(encKey []byte) ([]byte, uint64) {
	seqNo, n := binary.Uvarint(encKey)
	return encKey[n:], seqNo
}
