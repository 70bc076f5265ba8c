package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"github.com/hydrowatch/alertengine/internal/alerting"
	"github.com/hydrowatch/alertengine/internal/errors"
)

const cpuSampleWindow = 500 * time.Millisecond

// HostCollector reports CPU, memory and disk usage of the machine running
// the engine as a single host target.
type HostCollector struct {
	targetID string
	diskPath string

	cpuPercent  func(ctx context.Context) (float64, error)
	memPercent  func(ctx context.Context) (float64, error)
	diskPercent func(ctx context.Context, path string) (float64, error)
	now         func() time.Time
}

// NewHostCollector creates a collector reporting as host targetID and
// measuring disk usage at diskPath.
func NewHostCollector(targetID, diskPath string) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostCollector{
		targetID:    targetID,
		diskPath:    diskPath,
		cpuPercent:  cpuUsage,
		memPercent:  memUsage,
		diskPercent: diskUsage,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func cpuUsage(ctx context.Context) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return p[0], nil
}

func memUsage(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func diskUsage(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

// Name returns the collector name.
func (h *HostCollector) Name() string { return "host" }

// Supports reports whether metric is a host usage metric.
func (h *HostCollector) Supports(metric string) bool {
	switch metric {
	case alerting.MetricCPUUsage, alerting.MetricMemoryUsage, alerting.MetricDiskUsage:
		return true
	}
	return false
}

// MetricNames lists the served metrics.
func (h *HostCollector) MetricNames() []string {
	return []string{alerting.MetricCPUUsage, alerting.MetricMemoryUsage, alerting.MetricDiskUsage}
}

// CollectAll samples metric once. Percentages are rounded to two places.
func (h *HostCollector) CollectAll(ctx context.Context, metric string) ([]alerting.Metric, error) {
	var (
		v   float64
		err error
	)
	switch metric {
	case alerting.MetricCPUUsage:
		v, err = h.cpuPercent(ctx)
	case alerting.MetricMemoryUsage:
		v, err = h.memPercent(ctx)
	case alerting.MetricDiskUsage:
		v, err = h.diskPercent(ctx, h.diskPath)
	default:
		return nil, errors.Newf("host collector does not support %s", metric).
			Component("host-collector").
			Category(errors.CategoryUnknownMetric).
			Context("metric", metric).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("host-collector").
			Category(errors.CategoryCollector).
			Context("metric", metric).
			Build()
	}
	value := decimal.NewFromFloat(v).Round(2)
	return []alerting.Metric{
		alerting.NewMetric(alerting.TargetTypeHost, h.targetID, metric, value, h.now()),
	}, nil
}
