package client

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/parser"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
	"github.com/edwingeng/deque/v2"
	"github.com/hdt3213/godis/lib/logger"
	"github.com/hdt3213/godis/lib/sync/wait"
)

const (
	created = iota
	running
	closed
)

var errConnClosed = errors.New("connection closed")

// Client is a pipeline mode redis client
type Client struct {
	addr        string
	pendingReqs chan *request // wait to send
	ticker      *time.Ticker

	// mu 保护 conn 和 waitingReqs，写出请求和入队在同一把锁内，保证顺序与回复一致
	mu          sync.Mutex
	conn        net.Conn
	waitingReqs *deque.Deque[*request] // waiting response

	status  atomic.Int32
	working *sync.WaitGroup // its counter presents unfinished requests(pending and waiting)
}

// request is a message sends to redis server
type request struct {
	args      [][]byte
	reply     redis.Reply
	heartbeat bool
	waiting   *wait.Wait
	err       error
}

const (
	chanSize          = 256
	maxWait           = 3 * time.Second
	heartbeatInterval = 10 * time.Second
)

// MakeClient creates a new client
func MakeClient(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		addr:        addr,
		conn:        conn,
		pendingReqs: make(chan *request, chanSize),
		waitingReqs: deque.NewDeque[*request](),
		working:     &sync.WaitGroup{},
	}, nil
}

// Start starts asynchronous goroutines
func (client *Client) Start() {
	client.ticker = time.NewTicker(heartbeatInterval)
	client.status.Store(running)
	go client.handleWrite()
	go client.handleRead(client.conn)
	go client.heartbeat()
}

// Close stops asynchronous goroutines and close connection
func (client *Client) Close() {
	if !client.status.CompareAndSwap(running, closed) {
		return
	}
	client.ticker.Stop()
	// wait stop process
	client.working.Wait()
	// stop new request
	close(client.pendingReqs)

	// clean
	client.mu.Lock()
	_ = client.conn.Close()
	client.failWaiting(errConnClosed)
	client.mu.Unlock()
}

// failWaiting 通知所有等待回复的请求，调用方持有 mu
func (client *Client) failWaiting(err error) {
	for client.waitingReqs.Len() > 0 {
		req := client.waitingReqs.PopFront()
		req.err = err
		req.waiting.Done()
	}
}

func (client *Client) reconnect(broken net.Conn) {
	logger.Info("reconnect with: " + client.addr)
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.conn != broken || client.status.Load() != running {
		return
	}
	_ = client.conn.Close() // ignore possible errors from repeated closes
	// 旧连接上的请求已经拿不到回复
	client.failWaiting(errConnClosed)

	var conn net.Conn
	// retry 3 times
	for i := 0; i < 3; i++ {
		var err error
		conn, err = net.DialTimeout("tcp", client.addr, time.Second)
		if err == nil {
			break
		}
		logger.Error("reconnect error: " + err.Error())
		time.Sleep(100 * time.Millisecond)
	}
	if conn == nil { // reach max retry, abort
		logger.Error(fmt.Sprintf("give up reconnecting %s", client.addr))
		return
	}
	client.conn = conn
	// restart handle read
	go client.handleRead(conn)
}

func (client *Client) heartbeat() {
	// send a PING request
	for range client.ticker.C {
		client.doHeartbeat()
	}
}

func (client *Client) handleWrite() {
	for req := range client.pendingReqs {
		client.doRequest(req)
	}
}

func (client *Client) doRequest(req *request) {
	if req == nil || len(req.args) == 0 {
		return
	}
	// parse request
	re := protocol.MakeMultiBulkReply(req.args)
	b := re.ToBytes()

	client.mu.Lock()
	defer client.mu.Unlock()
	client.waitingReqs.PushBack(req)
	if _, err := client.conn.Write(b); err != nil {
		// 写失败之后连接上的数据已经无法对齐，读协程会发现并重连
		_ = client.conn.Close()
		client.failWaiting(err)
	}
}

func (client *Client) doHeartbeat() {
	reply := client.send([][]byte{[]byte("PING")}, true)
	if protocol.IsErrorReply(reply) {
		logger.Warn(fmt.Sprintf("heartbeat to %s failed: %s", client.addr, reply.ToBytes()))
	}
}

// Send sends a request to redis server
func (client *Client) Send(args [][]byte) redis.Reply {
	return client.send(args, false)
}

func (client *Client) send(args [][]byte, heartbeat bool) redis.Reply {
	client.working.Add(1)
	defer client.working.Done()
	// check status
	if client.status.Load() != running {
		return protocol.MakeErrReply("client closed")
	}
	req := &request{
		args:      args,
		heartbeat: heartbeat,
		waiting:   &wait.Wait{},
	}
	req.waiting.Add(1)
	client.pendingReqs <- req
	// wait for response
	timeout := req.waiting.WaitWithTimeout(maxWait)
	if timeout {
		return protocol.MakeErrReply("server time out")
	}
	if req.err != nil {
		return protocol.MakeErrReply("request failed " + req.err.Error())
	}
	return req.reply
}

// finishRequest finishes a request
func (client *Client) finishRequest(reply redis.Reply) {
	// 捕获和处理运行时的panic。
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	// 从等待队列中取出一个请求
	client.mu.Lock()
	if client.waitingReqs.Len() == 0 {
		client.mu.Unlock()
		logger.Warn("unexpected reply: " + string(reply.ToBytes()))
		return
	}
	request := client.waitingReqs.PopFront()
	client.mu.Unlock()
	// 将响应结果赋值给请求
	request.reply = reply
	request.waiting.Done()
}

func (client *Client) handleRead(conn net.Conn) {
	// 解析从Redis服务器接收到的数据流
	ch := parser.ParseStream(conn)
	// 从通道中读取数据
	for payload := range ch {
		// 如果接收到的数据流中包含错误信息，则重新连接
		if payload.Err != nil {
			// 如果客户端已关闭，则直接返回
			if client.status.Load() == closed {
				return
			}
			client.reconnect(conn)
			return
		}
		// 完成请求
		client.finishRequest(payload.Data)
	}
}
