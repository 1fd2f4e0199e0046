package shopload

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteSummary(t *testing.T) {
	now := time.Now()
	ok := newMetrics()
	for i := 0; i < 3; i++ {
		ok.add(result{begin: now, end: now.Add(10 * time.Millisecond), elapsed: 10 * time.Millisecond, doResult: DoResult{StatusCode: 200}})
	}
	ok.updateLatencies()
	ok.updateSuccessRatio()
	bad := newMetrics()
	bad.add(result{begin: now, end: now, doResult: DoResult{Error: errors.New("connection serverErr")}})
	bad.updateLatencies()
	bad.updateSuccessRatio()

	serverErr := newMetrics()
	serverErr.add(result{begin: now, end: now, doResult: DoResult{StatusCode: 500}})
	serverErr.updateLatencies()
	serverErr.updateSuccessRatio()

	reports := map[string]*RunReport{
		"fruit":    {StartedAt: now, FinishedAt: now.Add(time.Second), Metrics: map[string]*Metrics{"fruit": ok}},
		"broken":   {StartedAt: now, FinishedAt: now.Add(time.Second), Metrics: map[string]*Metrics{"broken": bad}, Failed: true},
		"erroring": {StartedAt: now, FinishedAt: now.Add(time.Second), Metrics: map[string]*Metrics{"erroring": serverErr}},
	}
	var buf bytes.Buffer
	WriteSummary(&buf, reports, true)
	out := buf.String()

	assert.Contains(t, out, "handle fruit [OK]")
	assert.Contains(t, out, "handle broken [FAILED]")
	assert.Contains(t, out, "handle erroring [FAILED]")
	assert.Contains(t, out, "requests: 3")
	assert.Contains(t, out, "errors: 0.00%")
	assert.Contains(t, out, "errors: 100.00%")
	assert.Contains(t, out, "connection serverErr")
	assert.NotContains(t, out, "\x1b[")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("broken")), bytes.Index(buf.Bytes(), []byte("fruit")))
}
