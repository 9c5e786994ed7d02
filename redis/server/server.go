package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Tuanzi-bug/tuankv/lib/metrics"
	"github.com/Tuanzi-bug/tuankv/redis/connection"
	"github.com/Tuanzi-bug/tuankv/redis/interface/database"
	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/hdt3213/godis/lib/logger"
	"github.com/hdt3213/godis/lib/sync/atomic"
	"github.com/hdt3213/godis/lib/sync/wait"
	"github.com/puzpuzpuz/xsync/v3"
)

// 关机时等待连接写回剩余回复的时间，超时后强制关闭
const defaultDrainTimeout = 10 * time.Second

// Handler implements tcp.Handler and serves as a redis server
type Handler struct {
	activeConn *xsync.MapOf[*connection.Connection, struct{}]
	db         database.DB
	closing    atomic.Boolean // refusing new client and new request
	// 所有 Serve 返回之后才能关闭存储
	connWait wait.Wait

	connOpts     []connection.Option
	drainTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// HandlerOption configures a Handler
type HandlerOption func(h *Handler)

// WithConnOptions 应用到每一个新连接
func WithConnOptions(opts ...connection.Option) HandlerOption {
	return func(h *Handler) {
		h.connOpts = append(h.connOpts, opts...)
	}
}

// WithDrainTimeout 设置关机时等待连接的时间
func WithDrainTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.drainTimeout = d
		}
	}
}

// MakeHandler creates a Handler instance over db, db is closed by Handler.Close
func MakeHandler(db database.DB, opts ...HandlerOption) *Handler {
	h := &Handler{
		activeConn:   xsync.NewMapOf[*connection.Connection, struct{}](),
		db:           db,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle receives and executes redis commands until the connection is closed
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	// Add 在检查 closing 之前，保证 Close 一定能等到这个连接
	h.connWait.Add(1)
	defer h.connWait.Done()
	if h.closing.Get() {
		// closing handler refuse new connection
		_ = conn.Close()
		return
	}

	client := connection.NewConn(conn, h.connOpts...)
	h.activeConn.Store(client, struct{}{})
	metrics.ActiveConnections.Inc()
	defer func() {
		h.activeConn.Delete(client)
		metrics.ActiveConnections.Dec()
		h.db.AfterClientClose(client)
		logger.Info("connection closed: " + client.RemoteAddr())
	}()
	// Close 可能已经遍历过 activeConn
	if h.closing.Get() {
		client.Drain()
	}

	client.Serve(ctx, func(cmdLine [][]byte) redis.Reply {
		return h.db.Exec(client, cmdLine)
	})
}

// ActiveCount returns the number of connections being served
func (h *Handler) ActiveCount() int {
	return h.activeConn.Size()
}

// Close stops handler: drains every connection, waits for them, then closes db exactly once
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		logger.Info("handler shutting down...")
		h.closing.Set(true)
		h.activeConn.Range(func(client *connection.Connection, _ struct{}) bool {
			client.Drain()
			return true
		})
		if timeout := h.connWait.WaitWithTimeout(h.drainTimeout); timeout {
			logger.Warn(fmt.Sprintf("%d connections still busy after %s, force closing", h.activeConn.Size(), h.drainTimeout))
			h.activeConn.Range(func(client *connection.Connection, _ struct{}) bool {
				_ = client.Abort()
				return true
			})
			// 被强制关闭的连接可能还在执行命令
			h.connWait.WaitWithTimeout(h.drainTimeout)
		}
		h.closeErr = h.db.Close()
	})
	return h.closeErr
}
