package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Tuanzi-bug/tuankv/lib/metrics"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
	"github.com/hdt3213/godis/lib/logger"
)

// Handler represents application server over tcp
type Handler interface {
	// Handle 服务一个连接，返回前需要关闭 conn
	Handle(ctx context.Context, conn net.Conn)
	// Close 停止接收新连接，排空已有连接并释放资源
	Close() error
}

// Config stores tcp server properties
type Config struct {
	Address string `yaml:"address"`
	// MaxConnect 同时服务的连接数上限，0 表示不限制
	MaxConnect uint32 `yaml:"max-connect"`
	// Counter 记录当前的连接数，为 nil 时由服务器自己创建
	Counter *atomic.Int32 `yaml:"-"`
}

// accept 出错之后的重试间隔，从 5ms 开始翻倍，最多 1s
const (
	minAcceptRetryDelay = 5 * time.Millisecond
	maxAcceptRetryDelay = time.Second
)

var maxClientsReply = (&protocol.MaxClientsErrReply{}).ToBytes()

// ListenAndServeWithSignal binds port and handle requests, blocking until receive stop signal
func ListenAndServeWithSignal(cfg *Config, handler Handler) error {
	closeChan := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	// 监听系统指定信号 SIGHUP：终端挂起或者控制进程终止，SIGQUIT：终端退出，SIGTERM：终止信号，SIGINT：中断信号
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	returned := make(chan struct{})
	defer close(returned)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info(fmt.Sprintf("receive signal: %s", sig))
			close(closeChan) // 发送关闭信号
		case <-returned:
		}
	}()
	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		// 没有监听成功也需要释放 handler 持有的存储
		_ = handler.Close()
		return fmt.Errorf("bind %s: %w", cfg.Address, err)
	}
	logger.Info(fmt.Sprintf("bind: %s, start listening...", listener.Addr()))
	// 开启监听
	ListenAndServe(listener, handler, cfg, closeChan)
	return nil
}

// ListenAndServe binds port and handle requests, blocking until close
func ListenAndServe(listener net.Listener, handler Handler, cfg *Config, closeChan <-chan struct{}) {
	counter := cfg.Counter
	if counter == nil {
		counter = new(atomic.Int32)
	}

	// 收到关闭信号后关闭 listener，让 Accept 返回
	stopped := make(chan struct{})
	var shutdown sync.Once
	stop := func(reason string) {
		shutdown.Do(func() {
			logger.Info(reason + ", shutting down...")
			close(stopped)
			_ = listener.Close()
		})
	}
	go func() {
		select {
		case <-closeChan:
			stop("get exit signal")
		case <-stopped:
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var waitDone sync.WaitGroup
	var retryDelay time.Duration
	for {
		//  Accept 会一直阻塞直到有新的连接建立或者listen中断才会返回
		conn, err := listener.Accept()
		if err != nil {
			if isStopped(stopped) {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				stop(fmt.Sprintf("listener closed: %v", err))
				break
			}
			// 其他错误（例如 EMFILE）不影响已有连接，退避之后重试
			retryDelay = nextRetryDelay(retryDelay)
			logger.Warn(fmt.Sprintf("accept occurs error: %v, retry in %s", err, retryDelay))
			timer := time.NewTimer(retryDelay)
			select {
			case <-timer.C:
			case <-stopped:
				timer.Stop()
			}
			continue
		}
		retryDelay = 0

		// 连接数达到上限，直接拒绝
		if cfg.MaxConnect > 0 && int64(counter.Add(1)) > int64(cfg.MaxConnect) {
			counter.Add(-1)
			metrics.RejectedConnections.Inc()
			logger.Warn(fmt.Sprintf("max clients reached, reject %s", conn.RemoteAddr()))
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write(maxClientsReply)
			_ = conn.Close()
			continue
		}
		if cfg.MaxConnect == 0 {
			counter.Add(1)
		}
		metrics.AcceptedConnections.Inc()
		logger.Info("accept link: " + conn.RemoteAddr().String())
		waitDone.Add(1)
		// 开启新的 goroutine 处理该连接
		go func() {
			defer func() {
				waitDone.Done()
				counter.Add(-1)
			}()
			handler.Handle(ctx, conn)
		}()
	}

	// 排空所有连接，然后等待处理连接的 goroutine 结束
	if err := handler.Close(); err != nil {
		logger.Error(fmt.Sprintf("close handler failed: %v", err))
	}
	waitDone.Wait()
}

func isStopped(stopped <-chan struct{}) bool {
	select {
	case <-stopped:
		return true
	default:
		return false
	}
}

func nextRetryDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptRetryDelay
	}
	return min(d*2, maxAcceptRetryDelay)
}
