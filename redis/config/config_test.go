package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tuanzi-bug/tuankv/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := `
# tuankv config
bind 0.0.0.0
port 6380
maxclients 2
dir /tmp/tuankv
  # indented comment
datafilesize 1048576
syncwrites yes
indextype bptree
mmapatstartup no
mergeratio 0.3
mergeinterval 10m
ratelimit 100
idletimeout 30
writetimeout 500ms
databases 16
`
	props, err := parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", props.Bind)
	assert.Equal(t, 6380, props.Port)
	assert.Equal(t, 2, props.MaxClients)
	assert.Equal(t, "/tmp/tuankv", props.Dir)
	assert.EqualValues(t, 1048576, props.DataFileSize)
	assert.True(t, props.SyncWrites)
	assert.Equal(t, "bptree", props.IndexType)
	assert.False(t, props.MMapAtStartup)
	assert.InDelta(t, 0.3, props.MergeRatio, 1e-9)
	assert.Equal(t, 10*time.Minute, props.MergeInterval)
	assert.Equal(t, 100, props.RateLimit)
	assert.Equal(t, 30*time.Second, props.IdleTimeout)
	assert.Equal(t, 500*time.Millisecond, props.WriteTimeout)
	assert.Equal(t, "0.0.0.0:6380", props.Address())

	opts, err := props.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, index.BPTree, opts.IndexType)
	assert.Equal(t, "/tmp/tuankv", opts.DirPath)
	assert.True(t, opts.SyncWrites)
	assert.False(t, opts.MMapAtStartup)
	assert.InDelta(t, 0.3, opts.DataFileMergeRatio, 1e-6)
}

func TestParse_Defaults(t *testing.T) {
	props, err := parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6379", props.Address())
	opts, err := props.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, index.Btree, opts.IndexType)
}

func TestParse_Invalid(t *testing.T) {
	for _, src := range []string{
		"port abc",
		"syncwrites maybe",
		"idletimeout soon",
		"bind",
	} {
		_, err := parse(strings.NewReader(src))
		assert.Error(t, err, src)
	}
}

func TestSet(t *testing.T) {
	props := defaultProperties()
	require.NoError(t, props.Set("PORT", "7000"))
	assert.Equal(t, 7000, props.Port)
	assert.ErrorIs(t, props.Set("nope", "1"), ErrUnknownConfig)

	props.IndexType = "hash"
	_, err := props.EngineOptions()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "bind")
	assert.Contains(t, keys, "maxclients")
	assert.Contains(t, keys, "metricsaddr")
	assert.Contains(t, keys, "cf")
}

func TestSetupConfig(t *testing.T) {
	old := Properties
	t.Cleanup(func() { Properties = old })

	path := filepath.Join(t.TempDir(), "redis.conf")
	require.NoError(t, os.WriteFile(path, []byte("port 7001\n"), 0644))
	require.NoError(t, SetupConfig(path))
	assert.Equal(t, 7001, Properties.Port)
	assert.Equal(t, path, Properties.CfPath)

	assert.Error(t, SetupConfig(filepath.Join(t.TempDir(), "missing.conf")))
}
