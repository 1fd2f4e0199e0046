package shopload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePrometheus(t *testing.T, data string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":%s}`, data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func promRunner(t *testing.T, promURL string, query string) *Runner {
	t.Helper()
	gen := &GeneratorConfig{Prometheus: &Prometheus{URL: promURL}}
	lm, err := NewLoadManager(&SuiteConfig{}, gen)
	require.NoError(t, err)
	cfg := closedConfig("prom", 1, 1)
	cfg.StopIf = []Checks{{Type: prometheusCheckType, Query: query, Interval: 1}}
	r, err := NewRunner("prom", lm, newAttackMock(0), nil, cfg)
	require.NoError(t, err)
	require.NotNil(t, r.PromClient)
	return r
}

func TestPromBooleanQuery(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"scalar true", `{"resultType":"scalar","result":[1600000000,"1"]}`, true},
		{"scalar false", `{"resultType":"scalar","result":[1600000000,"0"]}`, false},
		{"vector true", `{"resultType":"vector","result":[{"metric":{},"value":[1600000000,"1"]}]}`, true},
		{"empty vector", `{"resultType":"vector","result":[]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakePrometheus(t, tt.data)
			r := promRunner(t, srv.URL, "up == bool 0")
			got, err := PromBooleanQuery(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromBooleanQueryErrors(t *testing.T) {
	srv := fakePrometheus(t, `{"resultType":"vector","result":[{"metric":{"a":"1"},"value":[1600000000,"1"]},{"metric":{"a":"2"},"value":[1600000000,"1"]}]}`)

	_, err := PromBooleanQuery(promRunner(t, srv.URL, "up == bool 0"))
	assert.Error(t, err, "ambiguous vector")

	_, err = PromBooleanQuery(promRunner(t, srv.URL, "up"))
	assert.Error(t, err, "non bool query")

	r, err := NewRunner("prom", nil, newAttackMock(0), nil, closedConfig("prom", 1, 1))
	require.NoError(t, err)
	r.CheckData = []Checks{{Type: prometheusCheckType, Query: "up == bool 0", Interval: 1}}
	_, err = PromBooleanQuery(r)
	assert.Error(t, err, "no prometheus configured")
}

func TestErrorPercentCheck(t *testing.T) {
	r, err := NewRunner("fruit", nil, newAttackMock(0), nil, closedConfig("fruit", 1, 1))
	require.NoError(t, err)
	r.reset(context.Background())
	defer r.Stop()

	r.setStage(constantLoad)
	assert.False(t, ErrorPercentCheck(r, 0.1), "no results yet")

	now := time.Now()
	for i := 0; i < 8; i++ {
		r.pipeline(result{begin: now, end: now, doResult: DoResult{StatusCode: 200}})
	}
	r.pipeline(result{begin: now, end: now, doResult: DoResult{StatusCode: 503}})
	r.pipeline(result{begin: now, end: now, doResult: DoResult{Error: errors.New("refused")}})

	assert.True(t, ErrorPercentCheck(r, 0.1))
	assert.False(t, ErrorPercentCheck(r, 0.2))

	r.setStage(rampUp)
	assert.False(t, ErrorPercentCheck(r, 0.1), "ramp metrics are empty")
	m := newMetrics()
	m.add(result{begin: now, end: now, doResult: DoResult{StatusCode: 500}})
	r.setRampMetrics(m)
	assert.True(t, ErrorPercentCheck(r, 0.5))
}
