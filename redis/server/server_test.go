package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/Tuanzi-bug/tuankv/redis/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB 把命令名原样返回，并记录关闭次数
type fakeDB struct {
	closed   atomic.Int32
	released atomic.Int32
	mu       sync.Mutex
	executed []string
}

func (db *fakeDB) Exec(client redis.Connection, cmdLine [][]byte) redis.Reply {
	db.mu.Lock()
	db.executed = append(db.executed, string(cmdLine[0]))
	db.mu.Unlock()
	return protocol.MakeBulkReply(cmdLine[0])
}

func (db *fakeDB) AfterClientClose(c redis.Connection) {
	db.released.Add(1)
}

func (db *fakeDB) Close() error {
	db.closed.Add(1)
	return nil
}

func serve(t *testing.T, h *Handler) (net.Conn, chan struct{}) {
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Handle(context.Background(), server)
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, done
}

func waitClosed(t *testing.T, done chan struct{}) {
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestHandler_Exec(t *testing.T) {
	db := &fakeDB{}
	h := MakeHandler(db)
	client, done := serve(t, h)

	_, err := client.Write([]byte("*1\r\n$4\r\nPING\r\nECHO\r\n"))
	require.NoError(t, err)
	reader := bufio.NewReader(client)
	for _, want := range []string{"$4\r\n", "PING\r\n", "$4\r\n", "ECHO\r\n"} {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	assert.Equal(t, 1, h.ActiveCount())

	_ = client.Close()
	waitClosed(t, done)
	assert.Equal(t, 0, h.ActiveCount())
	assert.EqualValues(t, 1, db.released.Load())
	assert.EqualValues(t, 0, db.closed.Load())
}

func TestHandler_CloseDrainsConnections(t *testing.T) {
	db := &fakeDB{}
	h := MakeHandler(db)
	client1, done1 := serve(t, h)
	client2, done2 := serve(t, h)
	require.Eventually(t, func() bool { return h.ActiveCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Close())
	waitClosed(t, done1)
	waitClosed(t, done2)

	// 连接已经被服务端关闭
	for _, c := range []net.Conn{client1, client2} {
		_, err := c.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.EqualValues(t, 1, db.closed.Load())
	assert.Equal(t, 0, h.ActiveCount())

	// 重复关闭不会再次关闭存储
	require.NoError(t, h.Close())
	assert.EqualValues(t, 1, db.closed.Load())
}

func TestHandler_RefuseAfterClose(t *testing.T) {
	db := &fakeDB{}
	h := MakeHandler(db)
	require.NoError(t, h.Close())

	client, done := serve(t, h)
	waitClosed(t, done)
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 0, db.released.Load())
}

func TestHandler_ForceCloseAfterTimeout(t *testing.T) {
	db := &fakeDB{}
	h := MakeHandler(db, WithDrainTimeout(50*time.Millisecond))
	client, done := serve(t, h)

	// 客户端不读取回复，回写一直阻塞
	_, err := client.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return len(db.executed) == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, h.Close())
	waitClosed(t, done)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.EqualValues(t, 1, db.closed.Load())
}
