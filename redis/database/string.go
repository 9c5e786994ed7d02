package database

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
)

// execGet returns string value bound to the given key
func execGet(db *DB, args [][]byte) redis.Reply {
	value, ok, err := db.store.Get(args[0])
	if err != nil {
		return storageErr("get", err)
	}
	if !ok {
		return protocol.MakeNullBulkReply()
	}
	if value == nil {
		value = []byte{}
	}
	return protocol.MakeBulkReply(value)
}

// execSet sets string value and time to live to the given key
// SET key value [EX seconds | PX milliseconds]
func execSet(db *DB, args [][]byte) redis.Reply {
	key, value := args[0], args[1]
	if len(key) == 0 {
		return protocol.MakeErrReply("ERR empty key")
	}
	var ttl time.Duration
	expireSeen := false
	for i := 2; i < len(args); i++ {
		// EX 和 PX 只能出现一次，且需要一个正整数
		if expireSeen || i+1 >= len(args) {
			return protocol.MakeSyntaxErrReply()
		}
		expireSeen = true
		var unit time.Duration
		switch strings.ToUpper(string(args[i])) {
		case "EX":
			unit = time.Second
		case "PX":
			unit = time.Millisecond
		default:
			return protocol.MakeSyntaxErrReply()
		}
		n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
		if err != nil || n <= 0 {
			return protocol.MakeSyntaxErrReply()
		}
		// 超过 time.Duration 的表示范围
		if n > math.MaxInt64/int64(unit) {
			return protocol.MakeErrReply("ERR invalid expire time in 'set' command")
		}
		ttl = time.Duration(n) * unit
		i++
	}
	if err := db.store.Set(key, value, ttl); err != nil {
		return storageErr("set", err)
	}
	return protocol.MakeOkReply()
}

// execDel removes a key from db
func execDel(db *DB, args [][]byte) redis.Reply {
	existed, err := db.store.Delete(args[0])
	if err != nil {
		return storageErr("del", err)
	}
	if existed {
		return protocol.MakeIntReply(1)
	}
	return protocol.MakeIntReply(0)
}

// execExists checks if the given key exists in db
func execExists(db *DB, args [][]byte) redis.Reply {
	_, ok, err := db.store.Get(args[0])
	if err != nil {
		return storageErr("exists", err)
	}
	if ok {
		return protocol.MakeIntReply(1)
	}
	return protocol.MakeIntReply(0)
}
