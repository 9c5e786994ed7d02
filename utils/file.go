package utils

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// DirSize 获取一个目录的大小
func DirSize(dirPath string) (int64, error) {
	var size int64
	err := filepath.Walk(dirPath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// AvailableDiskSize 获取 dirPath 所在磁盘的剩余可用空间大小
func AvailableDiskSize(dirPath string) (uint64, error) {
	if dirPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return 0, err
		}
		dirPath = wd
	}
	info, err := disk.Usage(dirPath)
	if err != nil {
		return 0, err
	}
	return info.Free, nil
}
