package fio

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "a.data")
}

func TestNewFileIOManager(t *testing.T) {
	fio, err := NewFileIOManager(tempFile(t))
	assert.Nil(t, err)
	assert.NotNil(t, fio)
	assert.Nil(t, fio.Close())
}

func TestFileIO_Write(t *testing.T) {
	fio, err := NewFileIOManager(tempFile(t))
	require.Nil(t, err)
	defer fio.Close()

	n, err := fio.Write([]byte(""))
	assert.Equal(t, 0, n)
	assert.Nil(t, err)
	n, err = fio.Write([]byte("123"))
	assert.Equal(t, 3, n)
	assert.Nil(t, err)
	n, err = fio.Write([]byte("4"))
	assert.Equal(t, 1, n)
	assert.Nil(t, err)
}

func TestFileIO_Read(t *testing.T) {
	fio, err := NewFileIOManager(tempFile(t))
	require.Nil(t, err)
	defer fio.Close()

	_, err = fio.Write([]byte("123456"))
	require.Nil(t, err)

	b := make([]byte, 6)
	n, err := fio.Read(b, 0)
	assert.Equal(t, "123456", string(b))
	assert.Equal(t, 6, n)
	assert.Nil(t, err)

	b2 := make([]byte, 3)
	n, err = fio.Read(b2, 2)
	assert.Equal(t, "345", string(b2))
	assert.Equal(t, 3, n)
	assert.Nil(t, err)

	size, err := fio.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(6), size)
}

func TestFileIO_Sync(t *testing.T) {
	fio, err := NewFileIOManager(tempFile(t))
	require.Nil(t, err)
	defer fio.Close()

	assert.Nil(t, fio.Sync())
}

func TestMMap_Read(t *testing.T) {
	name := tempFile(t)

	// 空文件
	mmapIO, err := NewMMapIOManager(name)
	require.Nil(t, err)
	size, err := mmapIO.Size()
	assert.Nil(t, err)
	assert.Equal(t, int64(0), size)
	_, err = mmapIO.Read(make([]byte, 1), 0)
	assert.Equal(t, io.EOF, err)
	assert.Nil(t, mmapIO.Close())

	fio, err := NewFileIOManager(name)
	require.Nil(t, err)
	_, err = fio.Write([]byte("aabbcc"))
	require.Nil(t, err)
	require.Nil(t, fio.Close())

	mmapIO, err = NewMMapIOManager(name)
	require.Nil(t, err)
	defer mmapIO.Close()
	b := make([]byte, 2)
	n, err := mmapIO.Read(b, 2)
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "bb", string(b))

	_, err = mmapIO.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrReadOnly)
}
