package bitcask

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Tuanzi-bug/tuankv/data"
	"github.com/Tuanzi-bug/tuankv/index"
	"github.com/Tuanzi-bug/tuankv/utils"
)

const (
	mergeDirName   = "-merge"
	mergeFinishKey = "merge.finish"
)

// Merge 清理无效数据，生成 hint 文件；合并结果在下一次 Open 时生效
func (db *DB) Merge() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	if db.activeFile == nil {
		db.mu.Unlock()
		return nil
	}
	// 如果正在 merge，不能重复进行merge
	if db.isMerging {
		db.mu.Unlock()
		return ErrMergeIsProgress
	}
	// 查询merge的数据量
	totalSize, err := utils.DirSize(db.options.DirPath)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	// 判断当前无效数据量满足merge的阈值
	if totalSize == 0 || float32(db.reclaimSize)/float32(totalSize) < db.options.DataFileMergeRatio {
		db.mu.Unlock()
		return ErrMergeRatioUnreached
	}
	// 剩余磁盘空间需要能容纳 merge 之后的数据
	availableDiskSize, err := utils.AvailableDiskSize(db.options.DirPath)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	if uint64(totalSize-db.reclaimSize) >= availableDiskSize {
		db.mu.Unlock()
		return ErrNoEnoughSpaceForMerge
	}

	db.isMerging = true
	defer func() {
		db.mu.Lock()
		db.isMerging = false
		db.mu.Unlock()
	}()

	// 持久化当前活跃文件
	if err := db.activeFile.Sync(); err != nil {
		db.mu.Unlock()
		return err
	}
	// 将活跃文件转换为旧文件，打开新的活跃文件，写入不受 merge 影响
	db.olderFiles[db.activeFile.FileId] = db.activeFile
	if err := db.setActiveDataFile(); err != nil {
		db.mu.Unlock()
		return err
	}
	// 记录没有参加merge的id
	nonMergeFileId := db.activeFile.FileId

	mergeFiles := make([]*data.DataFile, 0, len(db.olderFiles))
	for _, file := range db.olderFiles {
		mergeFiles = append(mergeFiles, file)
	}
	// 旧文件只读，后续处理不需要持有锁
	db.mu.Unlock()

	sort.Slice(mergeFiles, func(i, j int) bool {
		return mergeFiles[i].FileId < mergeFiles[j].FileId
	})

	// 如果发生过merge，将其删除
	mergePath := db.getMergePath()
	if _, err := os.Stat(mergePath); err == nil {
		if err := os.RemoveAll(mergePath); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(mergePath, os.ModePerm); err != nil {
		return err
	}

	// 打开一个新的实例
	mergeOptions := db.options
	mergeOptions.DirPath = mergePath
	mergeOptions.SyncWrites = false
	mergeOptions.MMapAtStartup = false
	mergeDB, err := Open(mergeOptions)
	if err != nil {
		return err
	}
	defer mergeDB.Close()

	// 创建 hint 文件储存索引
	hintFile, err := data.OpenHintFile(mergePath)
	if err != nil {
		return err
	}
	defer hintFile.Close()

	for _, mergeFile := range mergeFiles {
		var offset int64 = 0
		for {
			logRecord, size, err := mergeFile.GetLogRecord(offset)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
			realKey, _ := parseLogRecordKey(logRecord.Key)
			logRecordPos := db.index.Get(realKey)
			// 只保留索引仍指向的记录，事务标记在这里被清除
			if logRecordPos != nil &&
				logRecordPos.Fid == mergeFile.FileId &&
				logRecordPos.Offset == offset {
				logRecord.Key = logRecordKeyWithSeq(realKey, nonTransactionSeqNo)
				pos, err := mergeDB.appendLogRecordWithLock(logRecord)
				if err != nil {
					return err
				}
				if err := hintFile.WriteHintRecord(realKey, pos); err != nil {
					return err
				}
			}
			offset += size
		}
	}
	if err := hintFile.Sync(); err != nil {
		return err
	}
	if err := mergeDB.Sync(); err != nil {
		return err
	}

	// 写入 merge 完成标识
	mergeFinishedFile, err := data.OpenMergeFinishedFile(mergePath)
	if err != nil {
		return err
	}
	defer mergeFinishedFile.Close()
	mergeFinRecord := &data.LogRecord{
		Key:   []byte(mergeFinishKey),
		Value: []byte(strconv.Itoa(int(nonMergeFileId))),
	}
	encRecord, _ := data.EncodeLogRecord(mergeFinRecord)
	if err := mergeFinishedFile.Write(encRecord); err != nil {
		return err
	}
	return mergeFinishedFile.Sync()
}

// getMergePath merge 目录与数据目录同级
func (db *DB) getMergePath() string {
	dir := filepath.Dir(filepath.Clean(db.options.DirPath))
	base := filepath.Base(db.options.DirPath)
	return filepath.Join(dir, base+mergeDirName)
}

// loadMergeFiles 加载 merge 数据目录，返回是否应用了一次完成的 merge
func (db *DB) loadMergeFiles() (bool, error) {
	mergePath := db.getMergePath()
	if _, err := os.Stat(mergePath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	defer func() {
		_ = os.RemoveAll(mergePath)
	}()

	dirEntries, err := os.ReadDir(mergePath)
	if err != nil {
		return false, err
	}
	// 查找标识 merge 完成的文件，判断 merge 是否处理完了
	var mergeFinished bool
	var mergeFileNames []string
	for _, entry := range dirEntries {
		if entry.Name() == data.MergeFinishedFileName {
			mergeFinished = true
		}
		if entry.Name() == data.SeqNoFileName || entry.Name() == fileLockName {
			continue
		}
		if entry.Name() == index.BPlusTreeIndexFileName {
			continue
		}
		mergeFileNames = append(mergeFileNames, entry.Name())
	}
	// 没有 merge 完成则直接返回
	if !mergeFinished {
		return false, nil
	}

	nonMergeFileId, err := db.getNonMergeFileId(mergePath)
	if err != nil {
		return false, err
	}
	// 删除旧的数据文件
	for fileId := uint32(0); fileId < nonMergeFileId; fileId++ {
		fileName := data.GetDataFileName(db.options.DirPath, fileId)
		if _, err := os.Stat(fileName); err == nil {
			if err := os.Remove(fileName); err != nil {
				return false, err
			}
		}
	}

	// 将新的数据文件移动到数据目录中
	for _, fileName := range mergeFileNames {
		srcPath := filepath.Join(mergePath, fileName)
		destPath := filepath.Join(db.options.DirPath, fileName)
		if err := os.Rename(srcPath, destPath); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (db *DB) getNonMergeFileId(dirPath string) (uint32, error) {
	mergeFinishedFile, err := data.OpenMergeFinishedFile(dirPath)
	if err != nil {
		return 0, err
	}
	defer mergeFinishedFile.Close()
	record, _, err := mergeFinishedFile.GetLogRecord(0)
	if err != nil {
		return 0, err
	}
	nonMergeFileId, err := strconv.Atoi(string(record.Value))
	if err != nil {
		return 0, err
	}
	return uint32(nonMergeFileId), nil
}

// loadIndexFromHintFile 从 hint 文件中加载索引
func (db *DB) loadIndexFromHintFile() error {
	hintFileName := filepath.Join(db.options.DirPath, data.HintFileName)
	if _, err := os.Stat(hintFileName); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	hintFile, err := data.OpenHintFile(db.options.DirPath)
	if err != nil {
		return err
	}
	defer hintFile.Close()

	nonMergeFileId, err := db.getNonMergeFileId(db.options.DirPath)
	if err != nil {
		return err
	}

	var offset int64 = 0
	for {
		record, size, err := hintFile.GetLogRecord(offset)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		offset += size
		// 持久化的索引只修正仍然指向旧文件的 key，merge 之后的写入和删除以索引为准
		if db.options.IndexType == index.BPTree {
			cur := db.index.Get(record.Key)
			if cur == nil || cur.Fid >= nonMergeFileId {
				continue
			}
		}
		db.index.Put(record.Key, data.DecodeLogRecordPos(record.Value))
	}
	return nil
}
