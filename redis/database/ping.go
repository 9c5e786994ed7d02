package database

import (
	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
)

// Ping the server
func Ping(db *DB, args [][]byte) redis.Reply {
	switch len(args) {
	case 0:
		return protocol.MakePongReply()
	case 1:
		return protocol.MakeBulkReply(args[0])
	}
	return protocol.MakeArgNumErrReply("ping")
}
