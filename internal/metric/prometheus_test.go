package metric

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertd/internal/model"
)

func newPrometheusServer(t *testing.T, result string, gotQuery *string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		*gotQuery = r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":%s}`, result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPrometheusProvider_Vector(t *testing.T) {
	var query string
	srv := newPrometheusServer(t,
		`{"resultType":"vector","result":[{"metric":{"job":"api"},"value":[1760875200,"12.5"]}]}`, &query)

	p, err := NewPrometheusProvider(zaptest.NewLogger(t), srv.URL)
	require.NoError(t, err)

	value, err := p.Measure(context.Background(), model.MetricRequest{
		Kind:          model.MetricCustom,
		WindowMinutes: 10,
		EntityID:      "api",
		Query:         `rate(http_errors_total{job="$entity"}[$window])`,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 12.5, value)
	assert.Equal(t, `rate(http_errors_total{job="api"}[10m])`, query)
}

func TestPrometheusProvider_EmptyAndScalar(t *testing.T) {
	var query string
	srv := newPrometheusServer(t, `{"resultType":"vector","result":[]}`, &query)
	p, err := NewPrometheusProvider(zaptest.NewLogger(t), srv.URL)
	require.NoError(t, err)

	value, err := p.Measure(context.Background(), model.MetricRequest{Query: "up", WindowMinutes: 5}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)

	srv = newPrometheusServer(t, `{"resultType":"scalar","result":[1760875200,"3"]}`, &query)
	p, err = NewPrometheusProvider(zaptest.NewLogger(t), srv.URL)
	require.NoError(t, err)

	value, err = p.Measure(context.Background(), model.MetricRequest{Query: "scalar(up)", WindowMinutes: 5}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
}

func TestPrometheusProvider_Errors(t *testing.T) {
	p, err := NewPrometheusProvider(zaptest.NewLogger(t), "http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = p.Measure(context.Background(), model.MetricRequest{WindowMinutes: 5}, testNow)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = p.Measure(context.Background(), model.MetricRequest{Query: "up", WindowMinutes: 5}, testNow)
	require.Error(t, err)
	assert.False(t, IsConfigError(err))
}
