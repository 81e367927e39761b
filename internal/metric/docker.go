package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

const containerPrefix = "container:"

// containerStats is the subset of the Docker stats document the provider reads
type containerStats struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

type statsFunc func(ctx context.Context, containerID string) (io.ReadCloser, error)

// DockerProvider measures resource usage of a container. The rule's entity is
// "container:<id-or-name>:cpu" or "container:<id-or-name>:memory".
type DockerProvider struct {
	logger *zap.Logger
	stats  statsFunc
}

// NewDockerProvider creates a provider using a Docker client configured from the environment
func NewDockerProvider(logger *zap.Logger) (*DockerProvider, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return newDockerProvider(logger, func(ctx context.Context, containerID string) (io.ReadCloser, error) {
		// stream=false makes the daemon fill precpu_stats from a second sample
		resp, err := docker.ContainerStats(ctx, containerID, false)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}), nil
}

func newDockerProvider(logger *zap.Logger, stats statsFunc) *DockerProvider {
	return &DockerProvider{
		logger: logger.Named("docker_metrics"),
		stats:  stats,
	}
}

// Measure implements Provider
func (d *DockerProvider) Measure(ctx context.Context, req model.MetricRequest, _ time.Time) (float64, error) {
	containerID, resource, err := parseContainerEntity(req.EntityID)
	if err != nil {
		return 0, err
	}

	body, err := d.stats(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("failed to get stats of container %s: %w", containerID, err)
	}
	defer body.Close()

	var stats containerStats
	if err := json.NewDecoder(body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("failed to decode stats of container %s: %w", containerID, err)
	}

	var value float64
	switch resource {
	case "cpu":
		value = cpuPercent(&stats)
	case "memory":
		value = memoryPercent(&stats)
	}

	d.logger.Debug("Container stats collected",
		zap.String("container_id", containerID),
		zap.String("resource", resource),
		zap.Float64("value", value))
	return round2(value), nil
}

func parseContainerEntity(entity string) (containerID, resource string, err error) {
	rest := strings.TrimPrefix(entity, containerPrefix)
	idx := strings.LastIndex(rest, ":")
	if rest == entity || idx <= 0 {
		return "", "", fmt.Errorf("%w: container entity %q", ErrInvalidQuery, entity)
	}

	containerID, resource = rest[:idx], rest[idx+1:]
	if resource != "cpu" && resource != "memory" {
		return "", "", fmt.Errorf("%w: container resource %q", ErrInvalidQuery, resource)
	}
	return containerID, resource, nil
}

func cpuPercent(s *containerStats) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

func memoryPercent(s *containerStats) float64 {
	if s.MemoryStats.Limit == 0 {
		return 0
	}

	used := s.MemoryStats.Usage
	// cgroup v2 reports page cache as inactive_file, v1 as total_inactive_file
	cache := s.MemoryStats.Stats["inactive_file"]
	if cache == 0 {
		cache = s.MemoryStats.Stats["total_inactive_file"]
	}
	if cache < used {
		used -= cache
	}
	return float64(used) / float64(s.MemoryStats.Limit) * 100
}
