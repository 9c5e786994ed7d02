package database

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Tuanzi-bug/tuankv/lib/metrics"
	dbinterface "github.com/Tuanzi-bug/tuankv/redis/interface/database"
	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
	"github.com/hdt3213/godis/lib/logger"
)

// DB 把命令分发到对应的执行函数，数据全部交给 Storage。
// 不同连接的命令可以并发执行，DB 本身不加锁，依赖存储引擎的单 key 原子性。
type DB struct {
	store dbinterface.Storage
}

// ExecFunc is interface for command executor
// args don't include cmd line
type ExecFunc func(db *DB, args [][]byte) redis.Reply

// CmdLine is alias for [][]byte, represents a command line
type CmdLine = [][]byte

// NewDB creates a command dispatcher over store
func NewDB(store dbinterface.Storage) *DB {
	return &DB{store: store}
}

// Exec executes command within one database
func (db *DB) Exec(c redis.Connection, cmdLine CmdLine) (result redis.Reply) {
	if len(cmdLine) == 0 {
		return protocol.MakeErrReply("ERR empty command")
	}
	cmdName := strings.ToLower(string(cmdLine[0]))
	cmd, ok := cmdTable[cmdName]
	if !ok {
		metrics.Commands.WithLabelValues("unknown", "error").Inc()
		return protocol.MakeUnknownCommandErrReply(string(cmdLine[0]))
	}
	if !validateArity(cmd.arity, cmdLine) {
		metrics.Commands.WithLabelValues(cmdName, "error").Inc()
		return protocol.MakeArgNumErrReply(cmdName)
	}

	start := time.Now()
	defer func() {
		// 单条命令的 panic 不能影响连接和进程
		if err := recover(); err != nil {
			logger.Error(fmt.Sprintf("panic while executing %s: %v\n%s", cmdName, err, debug.Stack()))
			result = &protocol.InternalErrReply{}
		}
		outcome := "ok"
		if _, isErr := result.(protocol.ErrorReply); isErr {
			outcome = "error"
		}
		metrics.Commands.WithLabelValues(cmdName, outcome).Inc()
		metrics.CommandDuration.WithLabelValues(cmdName).Observe(time.Since(start).Seconds())
	}()
	return cmd.executor(db, cmdLine[1:])
}

// AfterClientClose does some clean after client close connection
func (db *DB) AfterClientClose(c redis.Connection) {
	logger.Debug("client closed: " + c.Name())
}

// Close 关闭存储
func (db *DB) Close() error {
	return db.store.Close()
}

// storageErr 存储层的错误转换成错误回复，连接保持打开
func storageErr(cmd string, err error) redis.Reply {
	logger.Warn(fmt.Sprintf("%s failed: %v", cmd, err))
	return protocol.MakeStorageErrReply(err)
}

func validateArity(arity int, cmdArgs [][]byte) bool {
	argNum := len(cmdArgs)
	if arity >= 0 {
		return argNum == arity
	}
	return argNum >= -arity
}
