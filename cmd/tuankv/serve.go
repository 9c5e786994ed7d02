package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	bitcask "github.com/Tuanzi-bug/tuankv"
	"github.com/Tuanzi-bug/tuankv/lib/metrics"
	"github.com/Tuanzi-bug/tuankv/redis"
	"github.com/Tuanzi-bug/tuankv/redis/config"
	"github.com/Tuanzi-bug/tuankv/redis/connection"
	"github.com/Tuanzi-bug/tuankv/redis/database"
	"github.com/Tuanzi-bug/tuankv/redis/server"
	"github.com/Tuanzi-bug/tuankv/tcp"
	"github.com/hdt3213/godis/lib/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFlag = "config"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tuankv server",
	Long: `Start the tuankv server. Settings are read from the config file (redis.conf style),
then overridden by environment variables TUANKV_<NAME> and finally by command line flags.`,
	PreRunE: loadProperties,
	RunE:    runServe,
}

var flagUsage = map[string]string{
	"bind":          "address to listen on",
	"port":          "port to listen on",
	"maxclients":    "max number of concurrent clients, 0 means unlimited",
	"dir":           "data directory of the storage engine",
	"datafilesize":  "max bytes of a single data file",
	"syncwrites":    "fsync after every write (yes|no)",
	"bytespersync":  "fsync after this many bytes are written, 0 disables",
	"indextype":     "in-memory index of the engine (btree|art|bptree)",
	"mmapatstartup": "load data files with mmap at startup (yes|no)",
	"mergeratio":    "reclaimable ratio that triggers a merge",
	"mergeinterval": "interval of background merge, 0 disables",
	"ratelimit":     "max commands per second per connection, 0 means unlimited",
	"idletimeout":   "close connections idle for this long, 0 disables",
	"writetimeout":  "timeout of a single reply write, 0 disables",
	"logdir":        "write logs into this directory instead of stdout",
	"metricsaddr":   "serve prometheus metrics on this address",
}

func init() {
	serveCmd.Flags().String(configFlag, "", "config file path, defaults to $CONFIG or ./redis.conf")
	for _, key := range config.Keys() {
		usage, ok := flagUsage[key]
		if !ok {
			continue
		}
		serveCmd.Flags().String(key, "", usage)
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// loadProperties 优先级：flag > 环境变量 > 配置文件 > 默认值
func loadProperties(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	configFilename := viper.GetString(configFlag)
	if configFilename == "" {
		configFilename = os.Getenv("CONFIG")
	}
	if configFilename == "" && fileExists("redis.conf") {
		configFilename = "redis.conf"
	}
	if configFilename != "" {
		if err := config.SetupConfig(configFilename); err != nil {
			return err
		}
	}
	for key := range flagUsage {
		if !viper.IsSet(key) {
			continue
		}
		if err := config.Properties.Set(key, viper.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	props := config.Properties
	if props.LogDir != "" {
		logger.Setup(&logger.Settings{
			Path:       props.LogDir,
			Name:       "tuankv",
			Ext:        "log",
			TimeFormat: "2006-01-02",
		})
	}

	opts, err := props.EngineOptions()
	if err != nil {
		return err
	}
	store, err := redis.NewStore(opts)
	if err != nil {
		logger.Error(fmt.Sprintf("open storage engine at %s failed: %v", opts.DirPath, err))
		return err
	}
	logger.Info(fmt.Sprintf("storage engine opened at %s", opts.DirPath))

	done := make(chan struct{})
	defer close(done)
	if props.MergeInterval > 0 {
		go mergeLoop(store.DB(), props.MergeInterval, done)
	}
	if props.MetricsAddr != "" {
		serveMetrics(props.MetricsAddr, store.DB())
	}

	handler := server.MakeHandler(database.NewDB(store), server.WithConnOptions(
		connection.WithRateLimit(props.RateLimit),
		connection.WithIdleTimeout(props.IdleTimeout),
		connection.WithWriteTimeout(props.WriteTimeout),
	))
	maxClients := props.MaxClients
	if maxClients < 0 {
		maxClients = 0
	}
	err = tcp.ListenAndServeWithSignal(&tcp.Config{
		Address:    props.Address(),
		MaxConnect: uint32(maxClients),
		Counter:    new(atomic.Int32),
	}, handler)
	if err != nil {
		logger.Error(err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

// mergeLoop 定时清理无效数据
func mergeLoop(db *bitcask.DB, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			start := time.Now()
			err := db.Merge()
			switch {
			case err == nil:
				logger.Info(fmt.Sprintf("merge finished in %s", time.Since(start)))
			case errors.Is(err, bitcask.ErrMergeRatioUnreached), errors.Is(err, bitcask.ErrMergeIsProgress):
			case errors.Is(err, bitcask.ErrDatabaseClosed):
				return
			default:
				logger.Warn(fmt.Sprintf("merge failed: %v", err))
			}
		}
	}
}

func serveMetrics(addr string, db *bitcask.DB) {
	metrics.Registry.MustRegister(metrics.NewEngineCollector(db.Stat))
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info(fmt.Sprintf("metrics listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("metrics server stopped: %v", err))
		}
	}()
}
