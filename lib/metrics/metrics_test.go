package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	bitcask "github.com/Tuanzi-bug/tuankv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineCollector(t *testing.T) {
	c := NewEngineCollector(func() (*bitcask.Stat, error) {
		return &bitcask.Stat{KeyNum: 3, DataFileNum: 2, ReclaimableSize: 10, DiskSize: 100}, nil
	})
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP tuankv_engine_keys Number of live keys in the index
# TYPE tuankv_engine_keys gauge
tuankv_engine_keys 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tuankv_engine_keys"))
	assert.Equal(t, 4, testutil.CollectAndCount(c))

	failing := NewEngineCollector(func() (*bitcask.Stat, error) {
		return nil, errors.New("closed")
	})
	assert.Equal(t, 0, testutil.CollectAndCount(failing))
}

func TestHandler(t *testing.T) {
	Commands.WithLabelValues("get", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `tuankv_commands_total{command="get",result="ok"}`)
}
