package parser

import (
	"errors"
	"io"
	"runtime/debug"

	"github.com/Tuanzi-bug/tuankv/redis/interface/redis"
	"github.com/hdt3213/godis/lib/logger"
)

const readChunkSize = 4096

// Payload stores redis.Reply or error
type Payload struct {
	Data redis.Reply
	Err  error
}

// ParseStream reads data from io.Reader and send payloads through channel
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	go parse0(reader, ch)
	return ch
}

// ParseBytes reads data from []byte and return all replies
func ParseBytes(data []byte) ([]redis.Reply, error) {
	replies, consumed, err := ParseReplies(data)
	if err != nil {
		return nil, err
	}
	if consumed < len(data) {
		return nil, io.ErrUnexpectedEOF
	}
	return replies, nil
}

// ParseOne reads data from []byte and return the first payload
func ParseOne(data []byte) (redis.Reply, error) {
	replies, _, err := ParseReplies(data)
	if len(replies) > 0 {
		return replies[0], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, errors.New("no protocol")
}

func parse0(rawReader io.Reader, ch chan<- *Payload) {
	// 保证程序不会因为 panic 而退出
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
		}
	}()
	defer close(ch)

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := rawReader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			replies, consumed, perr := ParseReplies(buf)
			for _, reply := range replies {
				ch <- &Payload{Data: reply}
			}
			buf = append(buf[:0], buf[consumed:]...)
			if perr != nil {
				ch <- &Payload{Err: perr}
				return
			}
		}
		if err != nil {
			// 连接在回复中途断开
			if err == io.EOF && len(buf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			ch <- &Payload{Err: err}
			return
		}
	}
}
