// Package metrics 暴露服务端的 prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tuankv"

var (
	// ActiveConnections 当前正在服务的连接数
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "active_connections",
		Help:      "Number of client connections being served",
	})
	// AcceptedConnections 累计接受的连接数
	AcceptedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "accepted_connections_total",
		Help:      "Total number of accepted client connections",
	})
	// RejectedConnections 因为连接数达到上限被拒绝的连接数
	RejectedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "rejected_connections_total",
		Help:      "Connections rejected because max clients was reached",
	})
	// ProtocolErrors 因为协议错误关闭的连接数
	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "protocol_errors_total",
		Help:      "Connections closed because of malformed input",
	})
	// Commands 按命令名和结果统计的执行次数
	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "commands",
		Name:      "total",
		Help:      "Executed commands by name and result",
	}, []string{"command", "result"})
	// CommandDuration 命令执行耗时
	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "commands",
		Name:      "duration_seconds",
		Help:      "Command execution latency",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .5},
	}, []string{"command"})
)

// Registry 服务端指标注册表，包含进程和 Go 运行时指标
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		ActiveConnections,
		AcceptedConnections,
		RejectedConnections,
		ProtocolErrors,
		Commands,
		CommandDuration,
	)
	return reg
}

// Handler returns the /metrics handler of Registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
