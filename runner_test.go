package shopload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedConfig(name string, users, iterations int) RunnerConfig {
	return RunnerConfig{
		HandleName:   name,
		SystemMode:   ClosedWorldSystem,
		Users:        users,
		Iterations:   iterations,
		DoTimeoutSec: 1,
	}
}

func TestClosedModeRunsExactIterations(t *testing.T) {
	a := newAttackMock(0)
	r, err := NewRunner("mock", nil, a, nil, closedConfig("mock", 1, 5))
	require.NoError(t, err)

	report := r.Run(context.Background())

	assert.Equal(t, int64(5), a.Calls())
	require.Contains(t, report.Metrics, "mock")
	assert.Equal(t, uint64(5), report.Metrics["mock"].Requests)
	assert.Equal(t, 1.0, report.Metrics["mock"].Success)
	assert.False(t, report.Failed)
	assert.Equal(t, int64(1), atomic.LoadInt64(a.setups))
	assert.Equal(t, int64(1), atomic.LoadInt64(a.teardowns))

	users := r.Users()
	require.Len(t, users, 1)
	assert.Equal(t, UserStopped, users[0].State())
	assert.Equal(t, int64(5), users[0].Iterations())
}

func TestClosedModeEveryUserRunsIterations(t *testing.T) {
	a := newAttackMock(time.Millisecond)
	r, err := NewRunner("mock", nil, a, nil, closedConfig("mock", 3, 4))
	require.NoError(t, err)

	report := r.Run(context.Background())

	assert.Equal(t, int64(12), a.Calls())
	assert.Equal(t, uint64(12), report.Metrics["mock"].Requests)
	assert.Equal(t, int64(3), atomic.LoadInt64(a.setups))
	assert.Equal(t, int64(3), atomic.LoadInt64(a.teardowns))
}

func TestClosedModeSpawnRate(t *testing.T) {
	a := newAttackMock(0)
	cfg := closedConfig("mock", 3, 1)
	cfg.SpawnRate = 5
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	start := time.Now()
	r.Run(context.Background())

	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(350*time.Millisecond))
	assert.Equal(t, int64(3), a.Calls())
}

func TestClosedModeAttackTimeBoundsUsers(t *testing.T) {
	a := newAttackMock(10 * time.Millisecond)
	cfg := closedConfig("mock", 2, 0)
	cfg.AttackTimeSec = 1
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	start := time.Now()
	report := r.Run(context.Background())

	assert.Less(t, int64(time.Since(start)), int64(3*time.Second))
	assert.Greater(t, a.Calls(), int64(10))
	assert.Greater(t, report.Metrics["mock"].Requests, uint64(10))
	assert.Greater(t, r.MaxRPS, 0.0)
}

func TestClosedModeWaitTime(t *testing.T) {
	a := newAttackMock(0)
	cfg := closedConfig("mock", 1, 3)
	cfg.WaitTime = WaitTimeConfig{Type: WaitConstant, FixedSec: 0.1}
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	start := time.Now()
	r.Run(context.Background())

	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(200*time.Millisecond))
	assert.Equal(t, int64(3), a.Calls())
}

func TestDoTimeoutIsRecorded(t *testing.T) {
	a := newAttackMock(3 * time.Second)
	r, err := NewRunner("mock", nil, a, nil, closedConfig("mock", 1, 1))
	require.NoError(t, err)

	report := r.Run(context.Background())

	m := report.Metrics["mock"]
	require.NotNil(t, m)
	assert.Equal(t, []string{errAttackDoTimedOut.Error()}, m.Errors)
	assert.Equal(t, 0.0, m.Success)
}

func TestStopInterruptsRun(t *testing.T) {
	a := newAttackMock(5 * time.Millisecond)
	cfg := closedConfig("mock", 2, 0)
	cfg.AttackTimeSec = 30
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	go func() {
		time.Sleep(200 * time.Millisecond)
		r.Stop()
	}()
	start := time.Now()
	r.Run(context.Background())

	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	assert.Equal(t, int64(2), atomic.LoadInt64(a.teardowns))
}

func TestErrorRatioStopIf(t *testing.T) {
	a := newAttackMock(10 * time.Millisecond)
	a.result = DoResult{Error: errors.New("connection refused")}
	cfg := closedConfig("mock", 1, 0)
	cfg.AttackTimeSec = 20
	cfg.StopIf = []Checks{{Type: errorRatioCheckType, Threshold: 0.1, Interval: 1}}
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	start := time.Now()
	report := r.Run(context.Background())

	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	assert.True(t, r.Failed())
	assert.True(t, report.Failed)
}

func TestCustomCheckFunc(t *testing.T) {
	a := newAttackMock(10 * time.Millisecond)
	cfg := closedConfig("mock", 1, 0)
	cfg.AttackTimeSec = 20
	cfg.StopIf = []Checks{{Type: errorRatioCheckType, Threshold: 0.5, Interval: 1}}
	var checked int32
	check := func(r *Runner) bool {
		atomic.StoreInt32(&checked, 1)
		return true
	}
	r, err := NewRunner("mock", nil, a, check, cfg)
	require.NoError(t, err)

	r.Run(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&checked))
	assert.True(t, r.Failed())
}

func TestOpenModeShortRun(t *testing.T) {
	a := newAttackMock(time.Millisecond)
	cfg := RunnerConfig{
		HandleName:     "mock",
		RPS:            20,
		AttackTimeSec:  2,
		RampUpTimeSec:  1,
		RampUpStrategy: "linear",
		MaxAttackers:   2,
		DoTimeoutSec:   1,
	}
	r, err := NewRunner("mock", nil, a, nil, cfg)
	require.NoError(t, err)

	report := r.Run(context.Background())

	m := report.Metrics["mock"]
	require.NotNil(t, m)
	assert.Greater(t, m.Requests, uint64(10))
	assert.LessOrEqual(t, int64(m.Requests), a.Calls())
	assert.Len(t, r.RateLog, 1)
	assert.Equal(t, int64(2), atomic.LoadInt64(a.setups))
}

func TestProbe(t *testing.T) {
	a := newAttackMock(0)
	a.result = DoResult{RequestLabel: "probe", StatusCode: 200}
	r, err := NewRunner("mock", nil, a, nil, closedConfig("mock", 1, 1))
	require.NoError(t, err)

	res, err := r.Probe(3)
	require.NoError(t, err)

	assert.Len(t, res, 3)
	assert.Equal(t, int64(3), a.Calls())
	assert.Equal(t, "probe", res[0].RequestLabel)
	assert.Equal(t, int64(1), atomic.LoadInt64(a.setups))
	assert.Equal(t, int64(1), atomic.LoadInt64(a.teardowns))
}

func TestNewRunnerRejectsInvalidConfig(t *testing.T) {
	_, err := NewRunner("mock", nil, newAttackMock(0), nil, RunnerConfig{HandleName: "mock", SystemMode: ClosedWorldSystem})
	assert.Error(t, err)
	_, err = NewRunner("mock", nil, nil, nil, closedConfig("mock", 1, 1))
	assert.Error(t, err)
}

func TestRunHooksThroughMonitors(t *testing.T) {
	h := newHookedAttackMock(nil)
	r, err := NewRunner("mock", nil, WithMonitor(WithCSVMonitor(h)), nil, closedConfig("mock", 1, 1))
	require.NoError(t, err)

	report := r.Run(context.Background())

	assert.Equal(t, int64(1), atomic.LoadInt64(h.before))
	assert.Equal(t, int64(1), atomic.LoadInt64(h.after))
	assert.Equal(t, true, report.Output["hooked"])
	assert.Equal(t, int64(1), h.Calls())
}

func TestBeforeRunErrorSkipsRun(t *testing.T) {
	h := newHookedAttackMock(errors.New("no catalog"))
	r, err := NewRunner("mock", nil, WithMonitor(h), nil, closedConfig("mock", 2, 3))
	require.NoError(t, err)

	report := r.Run(context.Background())

	assert.True(t, report.Failed)
	assert.Contains(t, report.RunError, "no catalog")
	assert.Equal(t, "mock", report.Configuration.HandleName)
	assert.Equal(t, int64(0), h.Calls())
	assert.Equal(t, int64(0), atomic.LoadInt64(h.setups))
	assert.Equal(t, int64(0), atomic.LoadInt64(h.after))
}
