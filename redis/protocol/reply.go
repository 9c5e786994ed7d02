package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
)

var (
	// CRLF is the line separator of redis serialization protocol
	CRLF = "\r\n"
)

// BulkReply stores a binary-safe string
type BulkReply struct {
	Arg []byte
}

func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

// ToBytes marshal redis.Reply 例子：
// 简单字符串：以"+" 开始， 如："+OK\r\n"
// 错误：以"-" 开始，如："-ERR Invalid Synatx\r\n"
// 整数：以":"开始，如：":1\r\n"
func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return nullBulkBytes
	}
	buf := make([]byte, 0, 1+20+2+len(r.Arg)+2)
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(r.Arg)), 10)
	buf = append(buf, CRLF...)
	buf = append(buf, r.Arg...)
	return append(buf, CRLF...)
}

// MultiBulkReply stores a list of string
type MultiBulkReply struct {
	Args [][]byte
}

func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

func (r *MultiBulkReply) ToBytes() []byte {
	var buf bytes.Buffer

	argLen := len(r.Args)
	bufLen := 1 + len(strconv.Itoa(argLen)) + 2 // 类型+长度+crlf
	for _, arg := range r.Args {
		if arg == nil {
			bufLen += 3 + 2 // $-1 + crlf
		} else {
			bufLen += 1 + len(strconv.Itoa(len(arg))) + 2 + len(arg) + 2 // $+正文长度+crlf+实际内容+crlf。
		}
	}

	buf.Grow(bufLen)
	buf.WriteString("*")
	buf.WriteString(strconv.Itoa(argLen))
	buf.WriteString(CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.WriteString("$-1")
			buf.WriteString(CRLF)
		} else {
			buf.WriteString("$")
			buf.WriteString(strconv.Itoa(len(arg)))
			buf.WriteString(CRLF)
			buf.Write(arg)
			buf.WriteString(CRLF)
		}
	}
	return buf.Bytes()
}

// MultiRawReply store complex list structure, for example GeoPos command
type MultiRawReply struct {
	Replies []redis.Reply
}

// MakeMultiRawReply creates MultiRawReply
func MakeMultiRawReply(replies []redis.Reply) *MultiRawReply {
	return &MultiRawReply{
		Replies: replies,
	}
}

// ToBytes marshal redis.Reply
func (r *MultiRawReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*")
	buf.WriteString(strconv.Itoa(len(r.Replies)))
	buf.WriteString(CRLF)
	for _, arg := range r.Replies {
		buf.Write(arg.ToBytes())
	}
	return buf.Bytes()
}

// StatusReply 回复状态：以"+" 开始， 如："+OK\r\n"
type StatusReply struct {
	Status string
}

func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{Status: status}
}

func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + sanitize(r.Status) + CRLF)
}

// IntReply 整数：以":"开始，如：":1\r\n"
type IntReply struct {
	Code int64
}

func MakeIntReply(code int64) *IntReply {
	return &IntReply{Code: code}
}

func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

// ErrorReply is an error which is also a redis.Reply
type ErrorReply interface {
	Error() string
	ToBytes() []byte
}

// StandardErrReply 标准的错误：以"-" 开始，如："-ERR Invalid Synatx\r\n"
type StandardErrReply struct {
	Status string
}

// MakeErrReply 错误信息中的换行会被替换成空格，保证错误只占一行
func MakeErrReply(status string) *StandardErrReply {
	return &StandardErrReply{
		Status: sanitize(status),
	}
}

func (r *StandardErrReply) ToBytes() []byte {
	return []byte("-" + sanitize(r.Status) + CRLF)
}

func (r *StandardErrReply) Error() string {
	return r.Status
}

// IsErrorReply returns true if the given protocol is error
func IsErrorReply(reply redis.Reply) bool {
	b := reply.ToBytes()
	return len(b) > 0 && b[0] == '-'
}

var lineBreakReplacer = strings.NewReplacer("\r", " ", "\n", " ")

// sanitize 简单字符串和错误不能包含 \r \n
func sanitize(s string) string {
	if strings.ContainsAny(s, "\r\n") {
		return lineBreakReplacer.Replace(s)
	}
	return s
}
