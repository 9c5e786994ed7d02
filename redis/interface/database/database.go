package database

import (
	"time"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
)

// CmdLine is alias for [][]byte, represents a command line  CmdLine是[][]byte的别名，表示一行命令
type CmdLine = [][]byte

// DB is the interface for redis style storage engine  DB是redis风格存储引擎的接口
type DB interface {
	Exec(client redis.Connection, cmdLine [][]byte) redis.Reply
	AfterClientClose(c redis.Connection)
	Close() error
}

// Storage 命令层访问存储引擎的接口，单个 key 的读写由引擎保证原子性
type Storage interface {
	// Get 返回 key 对应的值，ok 为 false 表示 key 不存在或已过期
	Get(key []byte) (value []byte, ok bool, err error)
	// Set ttl 为 0 表示永不过期
	Set(key, value []byte, ttl time.Duration) error
	// Delete 返回删除之前 key 是否存在
	Delete(key []byte) (existed bool, err error)
	// Scan 按 key 升序遍历前缀匹配的数据，fn 返回 false 时终止
	Scan(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}
