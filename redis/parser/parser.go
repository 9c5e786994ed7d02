package parser

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
)

const (
	// MaxBulkLen 单个 bulk string 的最大长度
	MaxBulkLen = 512 * 1024
	// MaxArrayLen 单条命令最多的参数个数
	MaxArrayLen = 1024
	// MaxInlineLen inline 命令以及长度头的最大长度
	MaxInlineLen = 64 * 1024
	// MaxCommandLen 单条命令编码后的最大长度
	MaxCommandLen = 4 * 1024 * 1024
)

// ErrProtocol 所有协议错误都可以用 errors.Is 匹配
var ErrProtocol = errors.New("protocol error")

// ProtocolError 输入无法按照 RESP 解析，连接上的后续数据已经无法对齐
type ProtocolError struct {
	Msg    string
	Offset int // 出错位置在输入中的偏移
}

func (e *ProtocolError) Error() string {
	return "Protocol error: " + e.Msg
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func protocolError(offset int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Offset: offset}
}

/*
	RESP 通过第一个字符来表示格式.
		简单字符串：以"+" 开始， 如："+OK\r\n"
		错误：以"-" 开始，如："-ERR Invalid Synatx\r\n"
		整数：以":"开始，如：":1\r\n"
		字符串：以 $ 开始
		数组：以 * 开始
	客户端发送的命令是由 bulk string 组成的数组，或者是以空格分隔的 inline 命令。
*/

// ParseCommands 从 buf 中解析出所有完整的命令。
// 只依赖 buf 的内容：末尾不完整的命令不会被返回，也不计入 consumed，
// 下一次调用时带上后续数据即可继续解析。
// 遇到非法数据时返回之前已经解析的命令、对应的 consumed 以及 *ProtocolError。
// 返回的参数是 buf 的拷贝，调用方可以复用 buf。
func ParseCommands(buf []byte) (cmds [][][]byte, consumed int, err error) {
	for consumed < len(buf) {
		cmd, next, ok, err := parseCommand(buf, consumed)
		if err != nil {
			return cmds, consumed, err
		}
		if !ok {
			break
		}
		consumed = next
		// 空数组和空行只消费数据，不产生命令
		if len(cmd) > 0 {
			cmds = append(cmds, cmd)
		}
	}
	return cmds, consumed, nil
}

func parseCommand(buf []byte, pos int) ([][]byte, int, bool, error) {
	if buf[pos] != '*' {
		return parseInline(buf, pos)
	}
	// Array 格式第一行为 "*"+数组长度，其后是相应数量的 Bulk String
	// 例子：*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n
	header, next, ok, err := readLine(buf, pos)
	if !ok || err != nil {
		return nil, 0, false, err
	}
	arrayLen, err := parseLength(header[1:])
	if err != nil || arrayLen < -1 {
		return nil, 0, false, protocolError(pos, "invalid multibulk length")
	}
	if arrayLen > MaxArrayLen {
		return nil, 0, false, protocolError(pos, "multibulk length %d exceeds %d", arrayLen, MaxArrayLen)
	}
	if arrayLen <= 0 {
		return nil, next, true, nil
	}

	args := make([][]byte, 0, arrayLen)
	// 根据长度头就能判断命令是否过长，不需要等数据读完
	limit := pos + MaxCommandLen
	for i := 0; i < arrayLen; i++ {
		arg, end, ok, err := readBulk(buf, next, limit, false)
		if !ok || err != nil {
			return nil, 0, false, err
		}
		args = append(args, bytes.Clone(arg))
		next = end
	}
	return args, next, true, nil
}

// parseInline 例子：SET key value\r\n
func parseInline(buf []byte, pos int) ([][]byte, int, bool, error) {
	idx := bytes.IndexByte(buf[pos:], '\n')
	if idx < 0 {
		// 最后一个字节可能是 \r
		if len(buf)-pos > MaxInlineLen+1 {
			return nil, 0, false, protocolError(pos, "too big inline request")
		}
		return nil, 0, false, nil
	}
	line := bytes.TrimSuffix(buf[pos:pos+idx], []byte{'\r'})
	if len(line) > MaxInlineLen {
		return nil, 0, false, protocolError(pos, "too big inline request")
	}
	fields := bytes.Fields(line)
	args := make([][]byte, len(fields))
	for i, f := range fields {
		args[i] = bytes.Clone(f)
	}
	return args, pos + idx + 1, true, nil
}

// readLine 读取以 \r\n 结尾的一行，返回不包含 \r\n 的内容
func readLine(buf []byte, pos int) ([]byte, int, bool, error) {
	idx := bytes.IndexByte(buf[pos:], '\n')
	if idx < 0 {
		if len(buf)-pos > MaxInlineLen+1 {
			return nil, 0, false, protocolError(pos, "too big header line")
		}
		return nil, 0, false, nil
	}
	if idx == 0 || buf[pos+idx-1] != '\r' {
		return nil, 0, false, protocolError(pos, "expected CRLF line terminator")
	}
	if idx-1 > MaxInlineLen {
		return nil, 0, false, protocolError(pos, "too big header line")
	}
	return buf[pos : pos+idx-1], pos + idx + 1, true, nil
}

// readBulk 解析 bulk string 格式，例子： $3\r\nSET\r\n
// allowNull 为 false 时 $-1 视为协议错误，数据结束位置超过 limit 时也是协议错误
func readBulk(buf []byte, pos, limit int, allowNull bool) ([]byte, int, bool, error) {
	if pos >= len(buf) {
		return nil, 0, false, nil
	}
	if buf[pos] != '$' {
		return nil, 0, false, protocolError(pos, "expected '$', got '%c'", buf[pos])
	}
	header, next, ok, err := readLine(buf, pos)
	if !ok || err != nil {
		return nil, 0, false, err
	}
	// 第一行为 $+正文长度，第二行为实际内容。
	strLen, err := parseLength(header[1:])
	if err != nil || strLen < -1 {
		return nil, 0, false, protocolError(pos, "invalid bulk length")
	}
	if strLen == -1 {
		if !allowNull {
			return nil, 0, false, protocolError(pos, "null bulk string in command")
		}
		return nil, next, true, nil
	}
	if strLen > MaxBulkLen {
		return nil, 0, false, protocolError(pos, "bulk length %d exceeds %d", strLen, MaxBulkLen)
	}
	// +2 是因为末尾\r\n
	end := next + strLen + 2
	if end > limit {
		return nil, 0, false, protocolError(pos, "command length exceeds %d", MaxCommandLen)
	}
	if end > len(buf) {
		return nil, 0, false, nil
	}
	if buf[end-2] != '\r' || buf[end-1] != '\n' {
		return nil, 0, false, protocolError(end-2, "bulk string not terminated by CRLF")
	}
	return buf[next : end-2], end, true, nil
}

// parseLength 只接受十进制数字，可以带负号
func parseLength(b []byte) (int, error) {
	if len(b) == 0 || len(b) > 20 {
		return 0, errors.New("illegal length")
	}
	for i, c := range b {
		if (c < '0' || c > '9') && !(i == 0 && c == '-' && len(b) > 1) {
			return 0, errors.New("illegal length")
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || n > int64(^uint32(0)>>1) {
		return 0, errors.New("illegal length")
	}
	return int(n), nil
}

// ParseReplies 解析服务端的回复，语义与 ParseCommands 相同，支持嵌套数组
func ParseReplies(buf []byte) (replies []redis.Reply, consumed int, err error) {
	for consumed < len(buf) {
		reply, next, ok, err := parseReply(buf, consumed)
		if err != nil {
			return replies, consumed, err
		}
		if !ok {
			break
		}
		replies = append(replies, reply)
		consumed = next
	}
	return replies, consumed, nil
}

func parseReply(buf []byte, pos int) (redis.Reply, int, bool, error) {
	switch buf[pos] {
	case '$':
		arg, next, ok, err := readBulk(buf, pos, math.MaxInt, true)
		if !ok || err != nil {
			return nil, 0, false, err
		}
		if arg == nil {
			return protocol.MakeNullBulkReply(), next, true, nil
		}
		return protocol.MakeBulkReply(bytes.Clone(arg)), next, true, nil
	case '+', '-', ':', '*':
	default:
		return nil, 0, false, protocolError(pos, "unexpected reply type '%c'", buf[pos])
	}

	line, next, ok, err := readLine(buf, pos)
	if !ok || err != nil {
		return nil, 0, false, err
	}
	switch line[0] {
	case '+':
		if string(line[1:]) == "OK" {
			return protocol.MakeOkReply(), next, true, nil
		}
		return protocol.MakeStatusReply(string(line[1:])), next, true, nil
	case '-':
		return protocol.MakeErrReply(string(line[1:])), next, true, nil
	case ':':
		value, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return nil, 0, false, protocolError(pos, "illegal number %q", line[1:])
		}
		return protocol.MakeIntReply(value), next, true, nil
	}

	// '*'
	arrayLen, err := parseLength(line[1:])
	if err != nil || arrayLen < -1 {
		return nil, 0, false, protocolError(pos, "invalid multibulk length")
	}
	switch arrayLen {
	case -1:
		return protocol.MakeNullBulkReply(), next, true, nil
	case 0:
		return protocol.MakeEmptyMultiBulkReply(), next, true, nil
	}
	replies := make([]redis.Reply, 0, min(arrayLen, MaxArrayLen))
	for i := 0; i < arrayLen; i++ {
		if next >= len(buf) {
			return nil, 0, false, nil
		}
		reply, end, ok, err := parseReply(buf, next)
		if !ok || err != nil {
			return nil, 0, false, err
		}
		replies = append(replies, reply)
		next = end
	}
	return protocol.MakeMultiRawReply(replies), next, true, nil
}
