package data

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeLogRecord(t *testing.T) {
	// 正确情况
	lr1 := &LogRecord{
		Key:   []byte("tuan"),
		Value: []byte("t"),
		Type:  LogRecordNormal,
	}
	res1, n1 := EncodeLogRecord(lr1)
	assert.NotNil(t, res1)
	assert.Equal(t, int64(len(res1)), n1)
	assert.Equal(t, int64(7+4+1), n1)

	// value 为空
	lr2 := &LogRecord{
		Key:  []byte("tuan"),
		Type: LogRecordNormal,
	}
	res2, n2 := EncodeLogRecord(lr2)
	assert.NotNil(t, res2)
	assert.Equal(t, int64(7+4), n2)

	// 对 deleted 情况
	lr3 := &LogRecord{
		Key:   []byte("tuan"),
		Value: []byte("tuan"),
		Type:  LogRecordDeleted,
	}
	res3, n3 := EncodeLogRecord(lr3)
	assert.NotNil(t, res3)
	assert.Equal(t, int64(7+8), n3)
	assert.Equal(t, LogRecordDeleted, res3[4])
}

func TestDecodeLogRecord(t *testing.T) {
	headerBuf1 := []byte{252, 173, 227, 208, 0, 8, 8}
	des1, size1 := decodeLogRecordHeader(headerBuf1)
	assert.NotNil(t, des1)
	assert.Equal(t, int64(7), size1)
	assert.Equal(t, uint32(3504582140), des1.crc)
	assert.Equal(t, LogRecordNormal, des1.recordType)
	assert.Equal(t, uint32(4), des1.keySize)
	assert.Equal(t, uint32(4), des1.valueSize)

	// value 为空
	headerBuf2 := []byte{218, 214, 180, 17, 0, 8, 0}
	des2, size2 := decodeLogRecordHeader(headerBuf2)
	assert.NotNil(t, des2)
	assert.Equal(t, int64(7), size2)
	assert.Equal(t, uint32(297064154), des2.crc)
	assert.Equal(t, uint32(4), des2.keySize)
	assert.Equal(t, uint32(0), des2.valueSize)

	// 对 deleted 情况
	headerBuf3 := []byte{60, 114, 109, 17, 1, 8, 8}
	des3, size3 := decodeLogRecordHeader(headerBuf3)
	assert.NotNil(t, des3)
	assert.Equal(t, int64(7), size3)
	assert.Equal(t, LogRecordDeleted, des3.recordType)

	// 头部不完整
	des4, size4 := decodeLogRecordHeader([]byte{1, 2, 3})
	assert.Nil(t, des4)
	assert.Equal(t, int64(0), size4)
}

func TestGetLogRecordCRC(t *testing.T) {
	records := []*LogRecord{
		{Key: []byte("tuan"), Value: []byte("tuan"), Type: LogRecordNormal},
		{Key: []byte("tuan"), Value: []byte(""), Type: LogRecordNormal},
		{Key: []byte("tuan"), Value: []byte("tuan"), Type: LogRecordDeleted},
	}
	for _, lr := range records {
		res, _ := EncodeLogRecord(lr)
		header, headerSize := decodeLogRecordHeader(res)
		assert.NotNil(t, header)
		crc := getLogRecordCRC(lr, res[crc32.Size:headerSize])
		assert.Equal(t, binary.LittleEndian.Uint32(res[:crc32.Size]), crc)
	}
	assert.Equal(t, uint32(0), getLogRecordCRC(nil, nil))
}

func TestLogRecordPos_EncodeDecode(t *testing.T) {
	pos := &LogRecordPos{Fid: 3, Offset: 1024, Size: 77}
	assert.Equal(t, pos, DecodeLogRecordPos(EncodeLogRecordPos(pos)))
	assert.Nil(t, DecodeLogRecordPos(nil))
}
