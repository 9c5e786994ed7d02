package bitcask

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Tuanzi-bug/tuankv/data"
	"github.com/Tuanzi-bug/tuankv/fio"
	"github.com/Tuanzi-bug/tuankv/index"
	"github.com/Tuanzi-bug/tuankv/utils"
	"github.com/gofrs/flock"
)

const (
	seqNoKey     = "seq-no"
	fileLockName = "flock"
)

// DB is Storage engine instance of bitcask
type DB struct {
	options         Options                   // 用户的配置项
	fileIds         []uint32                  // 文件对应的ID，只在启动加载时使用
	mu              *sync.RWMutex             // 锁
	activeFile      *data.DataFile            // 当前正在写入的文件
	olderFiles      map[uint32]*data.DataFile // 历史文件
	index           index.Indexer             // 索引
	seqNo           uint64                    // 事务序列号
	isMerging       bool
	seqNoFileExists bool
	isInitial       bool
	closed          bool
	fileLock        *flock.Flock
	bytesWrite      uint  // 上次持久化之后累计写入的字节数
	reclaimSize     int64 // 可以被 merge 回收的字节数
}

// Stat 存储引擎的统计信息
type Stat struct {
	KeyNum          uint
	DataFileNum     uint
	ReclaimableSize int64
	DiskSize        int64
}

// Open 打开存储引擎实例
func Open(options Options) (*DB, error) {
	// 配置项校验
	if err := checkOptions(options); err != nil {
		return nil, err
	}

	var isInitial bool

	// 判断目录地址是否存在
	if _, err := os.Stat(options.DirPath); err != nil {
		isInitial = true
		if err := os.MkdirAll(options.DirPath, os.ModePerm); err != nil {
			return nil, err
		}
	}

	// 同一个目录只允许一个进程使用
	fileLock := flock.New(filepath.Join(options.DirPath, fileLockName))
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrDatabaseIsUsing
	}

	entries, err := os.ReadDir(options.DirPath)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, err
	}
	if len(entries) <= 1 {
		isInitial = true
	}

	db := &DB{
		options:    options,
		mu:         new(sync.RWMutex),
		olderFiles: make(map[uint32]*data.DataFile),
		index:      index.NewIndexer(options.IndexType, options.DirPath, options.SyncWrites),
		isInitial:  isInitial,
		fileLock:   fileLock,
	}
	if err := db.load(); err != nil {
		_ = db.index.Close()
		_ = fileLock.Unlock()
		return nil, err
	}
	return db, nil
}

func (db *DB) load() error {
	// 先处理上一次 merge 留下的文件
	merged, err := db.loadMergeFiles()
	if err != nil {
		return err
	}

	// 加载数据文件信息
	if err := db.loadDataFile(); err != nil {
		return err
	}

	// B+ 树索引已经持久化，不需要从数据文件中重建
	if db.options.IndexType == index.BPTree {
		if err := db.loadSeqNo(); err != nil {
			return err
		}
		// merge 之后旧文件已经被替换，需要用 hint 文件修正持久化的索引
		if merged {
			if err := db.loadIndexFromHintFile(); err != nil {
				return err
			}
		}
		if db.activeFile != nil {
			size, err := db.activeFile.IoManager.Size()
			if err != nil {
				return err
			}
			db.activeFile.WriteOff = size
		}
		if db.options.MMapAtStartup {
			return db.resetIOType()
		}
		return nil
	}

	if err := db.loadIndexFromHintFile(); err != nil {
		return err
	}
	// 加载索引信息（和文件信息对应）
	if err := db.loadIndexFromDataFiles(); err != nil {
		return err
	}
	if db.options.MMapAtStartup {
		return db.resetIOType()
	}
	return nil
}

// Put is a method to store the key-value pair in the storage engine
func (db *DB) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return ErrKeyIsEmpty
	}
	// 构建一条记录
	logRecord := &data.LogRecord{
		Key:   logRecordKeyWithSeq(key, nonTransactionSeqNo),
		Value: value,
		Type:  data.LogRecordNormal,
	}

	// 日志追加和索引更新在同一把锁内完成，保证单个 key 的写入是原子的
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	pos, err := db.appendLogRecord(logRecord)
	if err != nil {
		return err
	}
	if oldPos := db.index.Put(key, pos); oldPos != nil {
		db.reclaimSize += int64(oldPos.Size)
	}
	return nil
}

// Get 根据 key 读取数据，key 不存在时返回 ErrKeyNotFound
func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyIsEmpty
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	// 获取key对应的文件ID以及偏置
	logRecordPos := db.index.Get(key)
	if logRecordPos == nil {
		return nil, ErrKeyNotFound
	}
	return db.getValueByPosition(logRecordPos)
}

// Delete 删除 key，返回删除前 key 是否存在
func (db *DB) Delete(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrKeyIsEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, ErrDatabaseClosed
	}
	// 先获取key对应的位置信息，不存在则无需写入
	if db.index.Get(key) == nil {
		return false, nil
	}
	// 删除只追加一条墓碑记录，旧数据在 merge 时清理
	logRecord := &data.LogRecord{
		Key:  logRecordKeyWithSeq(key, nonTransactionSeqNo),
		Type: data.LogRecordDeleted,
	}
	pos, err := db.appendLogRecord(logRecord)
	if err != nil {
		return false, err
	}
	db.reclaimSize += int64(pos.Size)
	// 删除索引 -- 对用户来说该key已经删除了
	oldPos, ok := db.index.Delete(key)
	if !ok {
		return false, ErrIndexUpdateFailed
	}
	if oldPos != nil {
		db.reclaimSize += int64(oldPos.Size)
	}
	return true, nil
}

// ListKeys 返回所有的 key，按字典序
func (db *DB) ListKeys() [][]byte {
	iterator := db.index.Iterator(false)
	defer iterator.Close()
	keys := make([][]byte, 0, db.index.Size())
	for iterator.Rewind(); iterator.Valid(); iterator.Next() {
		keys = append(keys, iterator.Key())
	}
	return keys
}

// Fold 按 key 的顺序遍历所有数据，fn 返回 false 时终止
func (db *DB) Fold(fn func(key, value []byte) bool) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	iterator := db.index.Iterator(false)
	defer iterator.Close()
	for iterator.Rewind(); iterator.Valid(); iterator.Next() {
		value, err := db.getValueByPosition(iterator.Value())
		if err != nil {
			return err
		}
		if !fn(iterator.Key(), value) {
			break
		}
	}
	return nil
}

// Close 关闭数据库，释放文件锁
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if err := db.closeFiles(); err != nil {
		errs = append(errs, err)
	}
	if err := db.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close index: %w", err))
	}
	if err := db.fileLock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock the directory: %w", err))
	}
	return errors.Join(errs...)
}

func (db *DB) closeFiles() error {
	if db.activeFile == nil {
		return nil
	}
	// B+ 树模式下需要保存事务序列号
	seqDataFile, err := data.OpenSeqNoFile(db.options.DirPath)
	if err != nil {
		return err
	}
	record := &data.LogRecord{
		Key:   []byte(seqNoKey),
		Value: []byte(strconv.FormatUint(db.seqNo, 10)),
	}
	encRecord, _ := data.EncodeLogRecord(record)
	if err := seqDataFile.Write(encRecord); err != nil {
		return err
	}
	if err := seqDataFile.Sync(); err != nil {
		return err
	}
	if err := seqDataFile.Close(); err != nil {
		return err
	}

	if err := db.activeFile.Sync(); err != nil {
		return err
	}
	if err := db.activeFile.Close(); err != nil {
		return err
	}
	for _, item := range db.olderFiles {
		if err := item.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Sync 持久化当前活跃文件
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.activeFile == nil || db.closed {
		return nil
	}
	return db.activeFile.Sync()
}

// Stat 返回存储引擎的统计信息
func (db *DB) Stat() (*Stat, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	dataFileNum := uint(len(db.olderFiles))
	if db.activeFile != nil {
		dataFileNum += 1
	}
	dirSize, err := utils.DirSize(db.options.DirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get dir size: %w", err)
	}
	return &Stat{
		KeyNum:          uint(db.index.Size()),
		DataFileNum:     dataFileNum,
		ReclaimableSize: db.reclaimSize,
		DiskSize:        dirSize,
	}, nil
}

func (db *DB) getValueByPosition(pos *data.LogRecordPos) ([]byte, error) {
	var dataFile *data.DataFile
	// 根据ID寻找对应文件对象
	if db.activeFile != nil && db.activeFile.FileId == pos.Fid {
		dataFile = db.activeFile
	} else {
		dataFile = db.olderFiles[pos.Fid]
	}
	if dataFile == nil {
		return nil, ErrDataFileNotFound
	}

	// 从文件中读取内容
	logRecord, _, err := dataFile.GetLogRecord(pos.Offset)
	if err != nil {
		return nil, err
	}
	if logRecord.Type == data.LogRecordDeleted {
		return nil, ErrKeyNotFound
	}
	return logRecord.Value, nil
}

func (db *DB) appendLogRecordWithLock(logRecord *data.LogRecord) (*data.LogRecordPos, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.appendLogRecord(logRecord)
}

// appendLogRecord 调用方需要持有 db.mu
func (db *DB) appendLogRecord(logRecord *data.LogRecord) (*data.LogRecordPos, error) {
	if db.activeFile == nil {
		if err := db.setActiveDataFile(); err != nil {
			return nil, err
		}
	}
	// 一条记录写入文件中，需要对该记录先进行编码操作
	encRecord, size := data.EncodeLogRecord(logRecord)

	// 该记录写入当前文件大于配置文件大小，需要重新生成一个新的文件
	if db.activeFile.WriteOff+size > db.options.DataFileSize {
		if err := db.activeFile.Sync(); err != nil {
			return nil, err
		}
		db.olderFiles[db.activeFile.FileId] = db.activeFile
		if err := db.setActiveDataFile(); err != nil {
			return nil, err
		}
	}
	// 当前文件的偏移值开始写
	writeOff := db.activeFile.WriteOff
	if err := db.activeFile.Write(encRecord); err != nil {
		return nil, err
	}

	db.bytesWrite += uint(size)
	var needSync = db.options.SyncWrites
	if !needSync && db.options.BytesPerSync > 0 && db.bytesWrite >= db.options.BytesPerSync {
		needSync = true
	}
	if needSync {
		if err := db.activeFile.Sync(); err != nil {
			return nil, err
		}
		db.bytesWrite = 0
	}
	// 返回记录所对应的文件信息
	pos := &data.LogRecordPos{Fid: db.activeFile.FileId, Offset: writeOff, Size: uint32(size)}
	return pos, nil
}

func (db *DB) setActiveDataFile() error {
	var initialFileId uint32 = 0
	// 如果存在正在写入文件，那么新建文件id需要在基础上+1
	if db.activeFile != nil {
		initialFileId = db.activeFile.FileId + 1
	}
	dataFile, err := data.OpenDataFile(db.options.DirPath, initialFileId, fio.StandardFIO)
	if err != nil {
		return err
	}
	db.activeFile = dataFile
	return nil
}

func (db *DB) loadDataFile() error {
	// 读取对应目录下的文件集
	dirEntries, err := os.ReadDir(db.options.DirPath)
	if err != nil {
		return err
	}

	var fileIds []uint32
	for _, entry := range dirEntries {
		// 判断每个文件是否后缀是否符合要求
		if strings.HasSuffix(entry.Name(), data.DataFileNameSuffix) {
			splitNames := strings.Split(entry.Name(), ".")
			fileId, err := strconv.Atoi(splitNames[0])
			if err != nil {
				return ErrDataDirectoryCorrupted
			}
			fileIds = append(fileIds, uint32(fileId))
		}
	}
	// 对id进行排序，最后一个id是正在写入文件
	sort.Slice(fileIds, func(i, j int) bool {
		return fileIds[i] < fileIds[j]
	})
	db.fileIds = fileIds

	for i, fid := range fileIds {
		ioType := fio.StandardFIO
		if db.options.MMapAtStartup {
			ioType = fio.MemoryMap
		}
		dataFile, err := data.OpenDataFile(db.options.DirPath, fid, ioType)
		if err != nil {
			return err
		}
		if i == len(fileIds)-1 {
			db.activeFile = dataFile
		} else {
			db.olderFiles[fid] = dataFile
		}
	}
	return nil
}

func (db *DB) loadIndexFromDataFiles() error {
	if len(db.fileIds) == 0 {
		return nil
	}

	// 已经 merge 过的文件从 hint 文件中加载
	hasMerge, nonMergeFileId := false, uint32(0)
	mergeFileName := filepath.Join(db.options.DirPath, data.MergeFinishedFileName)
	if _, err := os.Stat(mergeFileName); err == nil {
		fid, err := db.getNonMergeFileId(db.options.DirPath)
		if err != nil {
			return err
		}
		nonMergeFileId = fid
		hasMerge = true
	}

	updateIndex := func(key []byte, typ data.LogRecordType, pos *data.LogRecordPos) {
		var oldPos *data.LogRecordPos
		if typ == data.LogRecordDeleted {
			oldPos, _ = db.index.Delete(key)
			db.reclaimSize += int64(pos.Size)
		} else {
			oldPos = db.index.Put(key, pos)
		}
		if oldPos != nil {
			db.reclaimSize += int64(oldPos.Size)
		}
	}

	transactionRecords := make(map[uint64][]*data.TransactionRecord)
	var currentSeqNo = nonTransactionSeqNo
	for i, fid := range db.fileIds {
		if hasMerge && fid < nonMergeFileId {
			continue
		}
		var dataFile *data.DataFile
		if fid == db.activeFile.FileId {
			dataFile = db.activeFile
		} else {
			dataFile = db.olderFiles[fid]
		}

		var offset int64 = 0
		for {
			logRecord, size, err := dataFile.GetLogRecord(offset)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			logRecordPos := &data.LogRecordPos{
				Fid:    fid,
				Offset: offset,
				Size:   uint32(size),
			}

			realKey, seqNo := parseLogRecordKey(logRecord.Key)
			if seqNo == nonTransactionSeqNo {
				updateIndex(realKey, logRecord.Type, logRecordPos)
			} else {
				// 事务记录等到完成标记出现后才生效
				if logRecord.Type == data.LogRecordFinished {
					for _, txnRecord := range transactionRecords[seqNo] {
						updateIndex(txnRecord.Record.Key, txnRecord.Record.Type, txnRecord.Pos)
					}
					delete(transactionRecords, seqNo)
				} else {
					logRecord.Key = realKey
					transactionRecords[seqNo] = append(transactionRecords[seqNo], &data.TransactionRecord{
						Record: logRecord,
						Pos:    logRecordPos,
					})
				}
			}
			if seqNo > currentSeqNo {
				currentSeqNo = seqNo
			}
			offset += size
		}
		if i == len(db.fileIds)-1 {
			db.activeFile.WriteOff = offset
		}
	}
	db.seqNo = currentSeqNo
	return nil
}

func (db *DB) loadSeqNo() error {
	fileName := filepath.Join(db.options.DirPath, data.SeqNoFileName)
	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		return nil
	}
	file, err := data.OpenSeqNoFile(db.options.DirPath)
	if err != nil {
		return err
	}
	defer file.Close()
	// 每次关闭都会追加一条记录，取最后一条
	var offset int64
	var last *data.LogRecord
	for {
		record, size, err := file.GetLogRecord(offset)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		last = record
		offset += size
	}
	if last == nil {
		return nil
	}
	seqNo, err := strconv.ParseUint(string(last.Value), 10, 64)
	if err != nil {
		return err
	}
	db.seqNoFileExists = true
	db.seqNo = seqNo
	return nil
}

// resetIOType 启动加载完成后将 mmap 切换回标准 IO
func (db *DB) resetIOType() error {
	if db.activeFile == nil {
		return nil
	}
	if err := db.activeFile.SetIOManager(db.options.DirPath, fio.StandardFIO); err != nil {
		return err
	}
	for _, dataFile := range db.olderFiles {
		if err := dataFile.SetIOManager(db.options.DirPath, fio.StandardFIO); err != nil {
			return err
		}
	}
	return nil
}
