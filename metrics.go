package shopload

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/quantile"
)

// LatencyMetrics latency distribution of a label
type LatencyMetrics struct {
	Total time.Duration `json:"total"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"50th"`
	P95   time.Duration `json:"95th"`
	P99   time.Duration `json:"99th"`
	Max   time.Duration `json:"max"`
}

// Metrics aggregates results of one label
type Metrics struct {
	Latencies LatencyMetrics `json:"latencies"`
	First     time.Time      `json:"first"`
	Last      time.Time      `json:"last"`
	Duration  time.Duration  `json:"duration"`
	// Rate requests per second between the first and the last result
	Rate     float64 `json:"rate"`
	Requests uint64  `json:"requests"`
	// Success ratio of results that are not failed, from 0 to 1
	Success     float64        `json:"success"`
	StatusCodes map[string]int `json:"status_codes"`
	// Errors distinct error strings
	Errors   []string `json:"errors"`
	BytesIn  int64    `json:"bytes_in"`
	BytesOut int64    `json:"bytes_out"`

	mu         sync.Mutex
	success    uint64
	errorRatio float64
	errIndex   map[string]struct{}
	estimator  *quantile.Estimator
}

func newMetrics() *Metrics {
	return &Metrics{
		StatusCodes: make(map[string]int),
		Errors:      make([]string, 0),
		errIndex:    make(map[string]struct{}),
		estimator: quantile.New(
			quantile.Known(0.50, 0.01),
			quantile.Known(0.95, 0.001),
			quantile.Known(0.99, 0.0005),
		),
	}
}

func (m *Metrics) add(r result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
	if m.First.IsZero() || r.begin.Before(m.First) {
		m.First = r.begin
	}
	if r.end.After(m.Last) {
		m.Last = r.end
	}
	m.Latencies.Total += r.elapsed
	if r.elapsed > m.Latencies.Max {
		m.Latencies.Max = r.elapsed
	}
	m.estimator.Add(float64(r.elapsed))
	m.BytesIn += r.doResult.BytesIn
	m.BytesOut += r.doResult.BytesOut
	if r.doResult.StatusCode != 0 {
		m.StatusCodes[strconv.Itoa(r.doResult.StatusCode)]++
	}
	if !r.doResult.Failed() {
		m.success++
	}
	if r.doResult.Error != nil {
		msg := r.doResult.Error.Error()
		if _, ok := m.errIndex[msg]; !ok {
			m.errIndex[msg] = struct{}{}
			m.Errors = append(m.Errors, msg)
		}
	}
}

// updateLatencies computes quantiles, mean and rate from collected results
func (m *Metrics) updateLatencies() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == 0 {
		return
	}
	m.Latencies.Mean = time.Duration(float64(m.Latencies.Total) / float64(m.Requests))
	m.Latencies.P50 = time.Duration(m.estimator.Get(0.50))
	m.Latencies.P95 = time.Duration(m.estimator.Get(0.95))
	m.Latencies.P99 = time.Duration(m.estimator.Get(0.99))
	m.Duration = m.Last.Sub(m.First)
	if secs := m.Duration.Seconds(); secs > 0 {
		m.Rate = float64(m.Requests) / secs
	}
}

func (m *Metrics) updateSuccessRatio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Requests == 0 {
		return
	}
	m.Success = float64(m.success) / float64(m.Requests)
	m.errorRatio = 1 - m.Success
}

// ErrorRatio share of failed results, from 0 to 1
func (m *Metrics) ErrorRatio() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRatio
}

// Count number of collected results
func (m *Metrics) Count() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests
}

func (m *Metrics) meanLogEntry() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Latencies.Mean
}

func (m *Metrics) successLogEntry() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(math.Round(m.Success * 100))
}

// MaxRPS max rate seen during ramp up seconds
func MaxRPS(rates []float64) float64 {
	var max float64
	for _, r := range rates {
		if r > max {
			max = r
		}
	}
	return max
}
