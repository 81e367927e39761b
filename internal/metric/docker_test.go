package metric

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
)

const statsDocument = `{
	"cpu_stats": {"cpu_usage": {"total_usage": 400000000}, "system_cpu_usage": 20000000000, "online_cpus": 2},
	"precpu_stats": {"cpu_usage": {"total_usage": 300000000}, "system_cpu_usage": 19000000000, "online_cpus": 2},
	"memory_stats": {"usage": 300000000, "limit": 1000000000, "stats": {"inactive_file": 50000000}}
}`

func TestDockerProvider_Measure(t *testing.T) {
	var requested string
	d := newDockerProvider(zaptest.NewLogger(t), func(_ context.Context, containerID string) (io.ReadCloser, error) {
		requested = containerID
		return io.NopCloser(strings.NewReader(statsDocument)), nil
	})

	cpu, err := d.Measure(context.Background(), model.MetricRequest{EntityID: "container:worker-1:cpu"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", requested)
	// 1e8 / 1e9 * 2 cpus * 100
	assert.Equal(t, 20.0, cpu)

	memory, err := d.Measure(context.Background(), model.MetricRequest{EntityID: "container:worker-1:memory"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 25.0, memory)
}

func TestDockerProvider_Errors(t *testing.T) {
	daemonErr := errors.New("no such container")
	d := newDockerProvider(zaptest.NewLogger(t), func(context.Context, string) (io.ReadCloser, error) {
		return nil, daemonErr
	})

	_, err := d.Measure(context.Background(), model.MetricRequest{EntityID: "container:gone:cpu"}, testNow)
	assert.ErrorIs(t, err, daemonErr)

	for _, entity := range []string{"container:", "container:web", "container:web:disk", "web:cpu"} {
		_, err := d.Measure(context.Background(), model.MetricRequest{EntityID: entity}, testNow)
		assert.ErrorIs(t, err, ErrInvalidQuery, entity)
	}
}
