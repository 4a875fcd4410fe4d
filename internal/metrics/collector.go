package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
)

const namespace = "wpruntime"

// InstanceLister lists supervised apps with their process ids
type InstanceLister interface {
	List() []supervisor.InstanceStatus
}

// ProcessCollector reports memory and cpu usage of every running instance.
// Samples are taken at scrape time so stopped apps disappear from the output.
type ProcessCollector struct {
	lister InstanceLister
	read   ReadFunc
	logger *zap.Logger

	residentDesc *prometheus.Desc
	cpuDesc      *prometheus.Desc
}

var _ prometheus.Collector = (*ProcessCollector)(nil)

// NewProcessCollector creates a collector over lister. A nil read uses ReadProcess.
func NewProcessCollector(lister InstanceLister, read ReadFunc, logger *zap.Logger) *ProcessCollector {
	if read == nil {
		read = ReadProcess
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	labels := []string{"app_id", "process"}
	return &ProcessCollector{
		lister: lister,
		read:   read,
		logger: logger.Named("process-metrics"),
		residentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "resident_memory_bytes"),
			"Resident memory of a supervised process",
			labels, nil,
		),
		cpuDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "cpu_seconds_total"),
			"Total user and system cpu time of a supervised process",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.residentDesc
	ch <- c.cpuDesc
}

// Collect implements prometheus.Collector
func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.lister.List() {
		if status.State != supervisor.StateRunning {
			continue
		}
		c.collectProcess(ch, status.AppID, "interpreter", status.InterpreterPID)
		c.collectProcess(ch, status.AppID, "database", status.DatabasePID)
	}
}

func (c *ProcessCollector) collectProcess(ch chan<- prometheus.Metric, appID, role string, pid int) {
	if pid <= 0 {
		return
	}

	usage, err := c.read(pid)
	if err != nil {
		if !errors.Is(err, ErrProcessGone) {
			c.logger.Debug("Failed to sample process",
				zap.String("app_id", appID),
				zap.String("process", role),
				zap.Int("pid", pid),
				zap.Error(err))
		}
		return
	}

	ch <- prometheus.MustNewConstMetric(c.residentDesc, prometheus.GaugeValue, float64(usage.ResidentBytes), appID, role)
	ch <- prometheus.MustNewConstMetric(c.cpuDesc, prometheus.CounterValue, usage.CPUSeconds, appID, role)
}
