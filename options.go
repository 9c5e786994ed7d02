package bitcask

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/Tuanzi-bug/tuankv/index"
)

type Options struct {
	DirPath string // Database file address

	DataFileSize int64 // 单个数据文件的最大字节数

	SyncWrites bool // 每次写入后都持久化

	IndexType index.IndexType

	BytesPerSync uint // 累计写入多少字节后持久化，0 表示不开启

	MMapAtStartup bool // 启动时使用 mmap 加载数据文件

	DataFileMergeRatio float32 // 无效数据占比达到该阈值才进行 merge
}

type IteratorOptions struct {
	Prefix  []byte
	Reverse bool
}

type WriteBatchOptions struct {
	MaxBatchNum int
	SyncWrites  bool
}

func checkOptions(options Options) error {
	if len(options.DirPath) == 0 {
		return errors.New("database dir path is empty")
	}
	if options.DataFileSize <= 0 {
		return errors.New("database data file size must be greater than 0")
	}
	if options.DataFileMergeRatio < 0 || options.DataFileMergeRatio > 1 {
		return errors.New("invalid merge ratio, must between 0 and 1")
	}
	return nil
}

var DefaultOptions = Options{
	DirPath:            filepath.Join(os.TempDir(), "tuankv"),
	DataFileSize:       256 * 1024 * 1024, // 256MB
	SyncWrites:         false,
	IndexType:          index.Btree,
	BytesPerSync:       0,
	MMapAtStartup:      true,
	DataFileMergeRatio: 0.5,
}

var DefaultIteratorOptions = IteratorOptions{
	Prefix:  nil,
	Reverse: false,
}

var DefaultWriteBatchOptions = WriteBatchOptions{
	MaxBatchNum: 10000,
	SyncWrites:  true,
}
