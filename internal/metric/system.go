package metric

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// HostProvider measures resource usage of the machine running the engine.
// The rule's entity selects the resource:
//
//	cpu          CPU utilisation percent
//	memory       memory used percent
//	disk[:path]  filesystem used percent, "/" by default
//	load         one minute load average
type HostProvider struct {
	logger         *zap.Logger
	sampleInterval time.Duration
}

// NewHostProvider creates a host provider sampling CPU over sampleInterval
func NewHostProvider(logger *zap.Logger, sampleInterval time.Duration) *HostProvider {
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	return &HostProvider{
		logger:         logger.Named("host_metrics"),
		sampleInterval: sampleInterval,
	}
}

// Measure implements Provider
func (h *HostProvider) Measure(ctx context.Context, req model.MetricRequest, _ time.Time) (float64, error) {
	resource, arg, _ := strings.Cut(req.EntityID, ":")

	switch resource {
	case "cpu":
		percent, err := cpu.PercentWithContext(ctx, h.sampleInterval, false)
		if err != nil {
			return 0, fmt.Errorf("failed to get CPU usage: %w", err)
		}
		if len(percent) == 0 {
			return 0, fmt.Errorf("failed to get CPU usage: no samples")
		}
		return round2(percent[0]), nil

	case "memory":
		memInfo, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get memory usage: %w", err)
		}
		return round2(memInfo.UsedPercent), nil

	case "disk":
		path := arg
		if path == "" {
			path = "/"
		}
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("failed to get disk usage of %s: %w", path, err)
		}
		return round2(usage.UsedPercent), nil

	case "load":
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get load average: %w", err)
		}
		return avg.Load1, nil
	}

	return 0, fmt.Errorf("%w: unknown host resource %q", ErrInvalidQuery, req.EntityID)
}

// ResourceUsage routes resource_usage requests: entities prefixed with
// "container:" go to Containers, everything else to Host.
type ResourceUsage struct {
	Host       Provider
	Containers Provider
}

// Measure implements Provider
func (r *ResourceUsage) Measure(ctx context.Context, req model.MetricRequest, now time.Time) (float64, error) {
	if strings.HasPrefix(req.EntityID, containerPrefix) {
		if r.Containers == nil {
			return 0, fmt.Errorf("%w: container metrics", ErrNotConfigured)
		}
		return r.Containers.Measure(ctx, req, now)
	}
	if r.Host == nil {
		return 0, fmt.Errorf("%w: host metrics", ErrNotConfigured)
	}
	return r.Host.Measure(ctx, req, now)
}
