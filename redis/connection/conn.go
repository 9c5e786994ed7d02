package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/Tuanzi-bug/tuankv/lib/metrics"
	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/parser"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
	"github.com/hdt3213/godis/lib/logger"
	"github.com/hdt3213/godis/lib/sync/wait"
	"golang.org/x/time/rate"
)

// Status 连接的生命周期 Active -> Draining -> Closed
type Status int32

const (
	// Active 正常读取、执行、回写
	Active Status = iota
	// Draining 不再执行新的命令，只把已有的回复写回
	Draining
	// Closed socket 已释放
	Closed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	readChunkSize = 16 * 1024
	// 关闭时等待正在写的数据
	closeWaitTimeout = 10 * time.Second
)

// ExecFunc 执行一条命令并返回回复
type ExecFunc func(cmdLine [][]byte) redis.Reply

// Option configures a Connection
type Option func(c *Connection)

// WithRateLimit 限制每秒执行的命令数，<= 0 表示不限制
func WithRateLimit(perSecond int) Option {
	return func(c *Connection) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithIdleTimeout 超过该时间没有收到数据则关闭连接
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.idleTimeout = d
	}
}

// WithWriteTimeout 单次回写的超时时间
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.writeTimeout = d
	}
}

// Connection represents a connection with a redis-cli
// 读写缓冲区只由 Serve 所在的 goroutine 访问
type Connection struct {
	conn net.Conn
	// 等待数据发送完成，用于正常关机
	sendingData wait.Wait

	status atomic.Int32

	readBuf  []byte // 尚未解析成命令的数据
	writeBuf []byte // 尚未写回的回复

	limiter      *rate.Limiter
	idleTimeout  time.Duration
	writeTimeout time.Duration

	// Drain 时取消，打断限流等待
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn creates Connection instance
func NewConn(conn net.Conn, opts ...Option) *Connection {
	c := &Connection{
		conn: conn,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the lifecycle state
func (c *Connection) Status() Status {
	return Status(c.status.Load())
}

// Serve 驱动连接的读取、解析、执行、回写循环，直到连接进入 Closed。
// 同一个连接上的命令按收到的顺序逐条执行，回复也按相同顺序写回。
// ctx 取消等同于调用 Drain。
func (c *Connection) Serve(ctx context.Context, exec ExecFunc) {
	stop := context.AfterFunc(ctx, c.Drain)
	defer stop()
	defer c.cancel()

	chunk := make([]byte, readChunkSize)
	for c.Status() == Active {
		if c.idleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
			// Drain 可能在设置 deadline 之前发生，需要重新检查
			if c.Status() != Active {
				break
			}
		}
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.readBuf = append(c.readBuf, chunk[:n]...)
			c.process(exec)
		}
		if err != nil {
			c.onReadError(err)
		}
		if err := c.flush(); err != nil {
			logger.Warn(fmt.Sprintf("write to %s failed: %v", c.RemoteAddr(), err))
			c.status.CompareAndSwap(int32(Active), int32(Draining))
			break
		}
	}

	// Draining: 写回剩余的回复后释放连接
	if err := c.flush(); err != nil {
		logger.Warn(fmt.Sprintf("flush to %s failed: %v", c.RemoteAddr(), err))
	}
	_ = c.Close()
}

// process 解析读缓冲区中的完整命令并依次执行
func (c *Connection) process(exec ExecFunc) {
	cmds, consumed, err := parser.ParseCommands(c.readBuf)
	for _, cmdLine := range cmds {
		// 进入 Draining 之后不再执行新的命令
		if c.Status() != Active {
			break
		}
		if c.limiter != nil {
			if werr := c.limiter.Wait(c.ctx); werr != nil {
				break
			}
		}
		reply := exec(cmdLine)
		if reply == nil {
			reply = &protocol.UnknownErrReply{}
		}
		c.writeBuf = append(c.writeBuf, reply.ToBytes()...)
	}
	c.readBuf = append(c.readBuf[:0], c.readBuf[consumed:]...)

	if err != nil {
		// 数据已经无法对齐，回复一次协议错误后关闭连接
		var perr *parser.ProtocolError
		msg := err.Error()
		if errors.As(err, &perr) {
			msg = perr.Msg
		}
		logger.Info(fmt.Sprintf("protocol error from %s: %s", c.RemoteAddr(), msg))
		metrics.ProtocolErrors.Inc()
		errReply := &protocol.ProtocolErrReply{Msg: msg}
		c.writeBuf = append(c.writeBuf, errReply.ToBytes()...)
		c.readBuf = nil
		c.status.CompareAndSwap(int32(Active), int32(Draining))
	}
}

func (c *Connection) onReadError(err error) {
	if c.Status() != Active {
		// Drain 通过 read deadline 打断了读取
		return
	}
	switch {
	case errors.Is(err, io.EOF):
		if len(c.readBuf) > 0 {
			logger.Info(fmt.Sprintf("connection %s closed with incomplete command", c.RemoteAddr()))
		}
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.Info(fmt.Sprintf("connection %s idle timeout", c.RemoteAddr()))
	case errors.Is(err, net.ErrClosed):
	default:
		logger.Warn(fmt.Sprintf("read from %s failed: %v", c.RemoteAddr(), err))
	}
	c.status.CompareAndSwap(int32(Active), int32(Draining))
}

// flush 把写缓冲区全部写到 socket
func (c *Connection) flush() error {
	if len(c.writeBuf) == 0 {
		return nil
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.Write(c.writeBuf)
	if err != nil {
		// 保留未写出的部分
		c.writeBuf = append(c.writeBuf[:0], c.writeBuf[n:]...)
		return err
	}
	c.writeBuf = c.writeBuf[:0]
	return nil
}

// Drain 通知连接停止执行新命令，可以在其他 goroutine 中调用
func (c *Connection) Drain() {
	if c.status.CompareAndSwap(int32(Active), int32(Draining)) {
		c.cancel()
		// 打断阻塞中的读取
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

// Write sends response to client over tcp connection
func (c *Connection) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.sendingData.Add(1)
	defer c.sendingData.Done()
	return c.conn.Write(b)
}

// Close closes the connection
func (c *Connection) Close() error {
	if Status(c.status.Swap(int32(Closed))) == Closed {
		return nil
	}
	c.cancel()
	// 超时等待数据发送完成
	c.sendingData.WaitWithTimeout(closeWaitTimeout)
	return c.conn.Close()
}

// Abort 立即释放 socket，不等待正在进行的写，阻塞中的读写都会返回错误
func (c *Connection) Abort() error {
	if Status(c.status.Swap(int32(Closed))) == Closed {
		return nil
	}
	c.cancel()
	return c.conn.Close()
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() string {
	if c.conn == nil || c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Name returns the name of the connection
func (c *Connection) Name() string {
	return c.RemoteAddr()
}
