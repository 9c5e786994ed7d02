package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tuanzi-bug/tuankv/redis/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "tuankv v"+Version+"\n", out.String())
}

func TestLoadProperties(t *testing.T) {
	old := config.Properties
	t.Cleanup(func() { config.Properties = old })

	path := filepath.Join(t.TempDir(), "redis.conf")
	require.NoError(t, os.WriteFile(path, []byte("port 7000\nmaxclients 5\nidletimeout 1m\nindextype art\n"), 0644))
	t.Setenv("TUANKV_MAXCLIENTS", "7")
	initConfig()

	require.NoError(t, serveCmd.Flags().Set(configFlag, path))
	require.NoError(t, serveCmd.Flags().Set("port", "7100"))
	require.NoError(t, loadProperties(serveCmd, nil))

	props := config.Properties
	// flag > env > 配置文件
	assert.Equal(t, 7100, props.Port)
	assert.Equal(t, 7, props.MaxClients)
	assert.Equal(t, time.Minute, props.IdleTimeout)
	assert.Equal(t, "art", props.IndexType)
	assert.Equal(t, "127.0.0.1", props.Bind)
}

func TestFlagsCoverProperties(t *testing.T) {
	for key := range flagUsage {
		assert.NotNil(t, serveCmd.Flags().Lookup(key), key)
	}
}
