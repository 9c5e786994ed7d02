package redis

import (
	"encoding/binary"
	"errors"
	"time"
)

var ErrWrongTypeOperation = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// ErrEmptyKey 引擎不允许写入空 key
var ErrEmptyKey = errors.New("ERR empty key")

var errCorruptedValue = errors.New("corrupted value")

type DataType = byte

const (
	String DataType = iota + 1
)

const maxValueHeaderSize = 1 + binary.MaxVarintLen64

// valueHeader 存储在引擎中的值的头部
//
//	+------+--------------------+---------+
//	| type | expire(varint ns)  | payload |
//	+------+--------------------+---------+
//	   1         0 表示永不过期
type valueHeader struct {
	dataType DataType
	expire   int64
}

func (h valueHeader) expired(now time.Time) bool {
	return h.expire > 0 && h.expire <= now.UnixNano()
}

// encodeValue 编码后的值 = 头部 + 原始数据
func encodeValue(h valueHeader, payload []byte) []byte {
	buf := make([]byte, maxValueHeaderSize+len(payload))
	buf[0] = h.dataType
	index := 1
	index += binary.PutVarint(buf[index:], h.expire)
	index += copy(buf[index:], payload)
	return buf[:index]
}

func decodeValue(buf []byte) (valueHeader, []byte, error) {
	if len(buf) < 2 {
		return valueHeader{}, nil, errCorruptedValue
	}
	h := valueHeader{dataType: buf[0]}
	expire, n := binary.Varint(buf[1:])
	if n <= 0 {
		return valueHeader{}, nil, errCorruptedValue
	}
	h.expire = expire
	return h, buf[1+n:], nil
}
