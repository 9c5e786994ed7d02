package database

import (
	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
)

// execScan returns key, value pairs whose key starts with the given prefix, in ascending key order
func execScan(db *DB, args [][]byte) redis.Reply {
	var result [][]byte
	err := db.store.Scan(args[0], func(key, value []byte) bool {
		if value == nil {
			value = []byte{}
		}
		result = append(result, key, value)
		return true
	})
	if err != nil {
		return storageErr("scan", err)
	}
	if len(result) == 0 {
		return protocol.MakeEmptyMultiBulkReply()
	}
	return protocol.MakeMultiBulkReply(result)
}
