package metrics

import (
	bitcask "github.com/Tuanzi-bug/tuankv"
	"github.com/hdt3213/godis/lib/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// StatFunc 返回存储引擎当前的统计信息
type StatFunc func() (*bitcask.Stat, error)

// EngineCollector 在每次抓取时读取存储引擎的 Stat
type EngineCollector struct {
	stat StatFunc

	keys        *prometheus.Desc
	dataFiles   *prometheus.Desc
	reclaimable *prometheus.Desc
	diskSize    *prometheus.Desc
}

// NewEngineCollector creates a collector over the given stat source
func NewEngineCollector(stat StatFunc) *EngineCollector {
	return &EngineCollector{
		stat: stat,
		keys: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "keys"),
			"Number of live keys in the index", nil, nil),
		dataFiles: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "data_files"),
			"Number of data files", nil, nil),
		reclaimable: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "reclaimable_bytes"),
			"Bytes that a merge could reclaim", nil, nil),
		diskSize: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "disk_size_bytes"),
			"Size of the data directory", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.dataFiles
	ch <- c.reclaimable
	ch <- c.diskSize
}

// Collect implements prometheus.Collector.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	stat, err := c.stat()
	if err != nil {
		logger.Warn("collect engine stat failed: " + err.Error())
		return
	}
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(stat.KeyNum))
	ch <- prometheus.MustNewConstMetric(c.dataFiles, prometheus.GaugeValue, float64(stat.DataFileNum))
	ch <- prometheus.MustNewConstMetric(c.reclaimable, prometheus.GaugeValue, float64(stat.ReclaimableSize))
	ch <- prometheus.MustNewConstMetric(c.diskSize, prometheus.GaugeValue, float64(stat.DiskSize))
}
