package fio

const DataFilePerm = 0644

type FileIOType = byte

const (
	// StandardFIO is the regular os.File based IO
	StandardFIO FileIOType = iota
	// MemoryMap maps the file into memory, read only, used to speed up startup
	MemoryMap
)

// IOManager is an interface that represents the file I/O operations.
type IOManager interface {
	Read([]byte, int64) (int, error)
	Write([]byte) (int, error)
	// Sync can persist data to the disk
	Sync() error
	Close() error
	Size() (int64, error)
}

// NewIOManager 根据类型打开对应的 IO 实现
func NewIOManager(filename string, ioType FileIOType) (IOManager, error) {
	switch ioType {
	case StandardFIO:
		return NewFileIOManager(filename)
	case MemoryMap:
		return NewMMapIOManager(filename)
	default:
		panic("unsupported io type")
	}
}
