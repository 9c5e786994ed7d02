package data

import (
	"io"
	"testing"

	"github.com/Tuanzi-bug/tuankv/fio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDataFile(t *testing.T) {
	dir := t.TempDir()
	file1, err := OpenDataFile(dir, 0, fio.StandardFIO)
	assert.Nil(t, err)
	assert.NotNil(t, file1)

	file2, err := OpenDataFile(dir, 2, fio.StandardFIO)
	assert.Nil(t, err)
	assert.NotNil(t, file2)
	assert.Equal(t, uint32(2), file2.FileId)

	assert.Nil(t, file1.Close())
	assert.Nil(t, file2.Close())
}

func TestDataFile_WriteAndGetLogRecord(t *testing.T) {
	file, err := OpenDataFile(t.TempDir(), 0, fio.StandardFIO)
	require.Nil(t, err)
	defer file.Close()

	rec1 := &LogRecord{Key: []byte("name"), Value: []byte("tuan")}
	enc1, size1 := EncodeLogRecord(rec1)
	require.Nil(t, file.Write(enc1))
	assert.Equal(t, size1, file.WriteOff)

	rec2 := &LogRecord{Key: []byte("name"), Type: LogRecordDeleted}
	enc2, size2 := EncodeLogRecord(rec2)
	require.Nil(t, file.Write(enc2))

	got1, n1, err := file.GetLogRecord(0)
	assert.Nil(t, err)
	assert.Equal(t, size1, n1)
	assert.Equal(t, rec1.Key, got1.Key)
	assert.Equal(t, rec1.Value, got1.Value)

	got2, n2, err := file.GetLogRecord(size1)
	assert.Nil(t, err)
	assert.Equal(t, size2, n2)
	assert.Equal(t, LogRecordDeleted, got2.Type)

	_, _, err = file.GetLogRecord(size1 + size2)
	assert.Equal(t, io.EOF, err)

	value, err := file.Read(0)
	assert.Nil(t, err)
	assert.Equal(t, []byte("tuan"), value)
}

func TestDataFile_HintRecord(t *testing.T) {
	hint, err := OpenHintFile(t.TempDir())
	require.Nil(t, err)
	defer hint.Close()

	pos := &LogRecordPos{Fid: 1, Offset: 20, Size: 30}
	require.Nil(t, hint.WriteHintRecord([]byte("k"), pos))
	require.Nil(t, hint.Sync())

	rec, _, err := hint.GetLogRecord(0)
	assert.Nil(t, err)
	assert.Equal(t, []byte("k"), rec.Key)
	assert.Equal(t, pos, DecodeLogRecordPos(rec.Value))
}

func TestDataFile_SetIOManager(t *testing.T) {
	dir := t.TempDir()
	file, err := OpenDataFile(dir, 0, fio.StandardFIO)
	require.Nil(t, err)
	enc, _ := EncodeLogRecord(&LogRecord{Key: []byte("a"), Value: []byte("b")})
	require.Nil(t, file.Write(enc))

	require.Nil(t, file.SetIOManager(dir, fio.MemoryMap))
	value, err := file.Read(0)
	assert.Nil(t, err)
	assert.Equal(t, []byte("b"), value)

	require.Nil(t, file.SetIOManager(dir, fio.StandardFIO))
	assert.Nil(t, file.Close())
}
