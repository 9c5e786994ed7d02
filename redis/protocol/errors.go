package protocol

// UnknownErrReply represents UnknownErr
type UnknownErrReply struct{}

var unknownErrBytes = []byte("-ERR unknown\r\n")

// ToBytes marshals redis.Reply
func (r *UnknownErrReply) ToBytes() []byte {
	return unknownErrBytes
}

func (r *UnknownErrReply) Error() string {
	return "ERR unknown"
}

// UnknownCommandErrReply 命令不在命令表中
type UnknownCommandErrReply struct {
	Cmd string
}

// MakeUnknownCommandErrReply creates UnknownCommandErrReply
func MakeUnknownCommandErrReply(cmd string) *UnknownCommandErrReply {
	return &UnknownCommandErrReply{Cmd: cmd}
}

// ToBytes marshals redis.Reply
func (r *UnknownCommandErrReply) ToBytes() []byte {
	return []byte("-" + r.Error() + CRLF)
}

func (r *UnknownCommandErrReply) Error() string {
	return "ERR unknown command '" + sanitize(r.Cmd) + "'"
}

// ArgNumErrReply represents wrong number of arguments for command
type ArgNumErrReply struct {
	Cmd string
}

// MakeArgNumErrReply represents wrong number of arguments for command
func MakeArgNumErrReply(cmd string) *ArgNumErrReply {
	return &ArgNumErrReply{
		Cmd: cmd,
	}
}

// ToBytes marshals redis.Reply
func (r *ArgNumErrReply) ToBytes() []byte {
	return []byte("-" + r.Error() + CRLF)
}

func (r *ArgNumErrReply) Error() string {
	return "ERR wrong number of arguments for '" + sanitize(r.Cmd) + "' command"
}

// SyntaxErrReply represents meeting unexpected arguments
type SyntaxErrReply struct{}

var syntaxErrBytes = []byte("-ERR syntax error\r\n")
var theSyntaxErrReply = &SyntaxErrReply{}

// MakeSyntaxErrReply creates syntax error
func MakeSyntaxErrReply() *SyntaxErrReply {
	return theSyntaxErrReply
}

// ToBytes marshals redis.Reply
func (r *SyntaxErrReply) ToBytes() []byte {
	return syntaxErrBytes
}

func (r *SyntaxErrReply) Error() string {
	return "ERR syntax error"
}

// ProtocolErrReply represents meeting unexpected byte during parse requests
type ProtocolErrReply struct {
	Msg string
}

// ToBytes marshals redis.Reply
func (r *ProtocolErrReply) ToBytes() []byte {
	return []byte("-" + r.Error() + CRLF)
}

func (r *ProtocolErrReply) Error() string {
	return "ERR Protocol error: " + sanitize(r.Msg)
}

// StorageErrReply 存储引擎读写失败，连接保持打开
type StorageErrReply struct {
	Msg string
}

// MakeStorageErrReply creates StorageErrReply from the engine error
func MakeStorageErrReply(err error) *StorageErrReply {
	return &StorageErrReply{Msg: err.Error()}
}

// ToBytes marshals redis.Reply
func (r *StorageErrReply) ToBytes() []byte {
	return []byte("-" + r.Error() + CRLF)
}

func (r *StorageErrReply) Error() string {
	return "STORAGE " + sanitize(r.Msg)
}

// MaxClientsErrReply 连接数达到上限时返回给新连接
type MaxClientsErrReply struct{}

var maxClientsErrBytes = []byte("-ERR max number of clients reached\r\n")

// ToBytes marshals redis.Reply
func (r *MaxClientsErrReply) ToBytes() []byte {
	return maxClientsErrBytes
}

func (r *MaxClientsErrReply) Error() string {
	return "ERR max number of clients reached"
}

// InternalErrReply 命令执行过程中发生 panic
type InternalErrReply struct{}

var internalErrBytes = []byte("-ERR internal error\r\n")

// ToBytes marshals redis.Reply
func (r *InternalErrReply) ToBytes() []byte {
	return internalErrBytes
}

func (r *InternalErrReply) Error() string {
	return "ERR internal error"
}
