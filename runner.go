package shopload

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/rcrowley/go-metrics"
)

// BeforeRunner can be implemented by an Attacker
// and its method is called before a test or Run.
type BeforeRunner interface {
	BeforeRun(c RunnerConfig) error
}

// AfterRunner can be implemented by an Attacker
// and its method is called after a test or Run.
// The report is passed to compute the Failed field and/or store values in Output.
type AfterRunner interface {
	AfterRun(r *RunReport) error
}

type RuntimeCheckFunc func(r *Runner) bool

const (
	rampUp int32 = iota
	constantLoad
)

// Default runner runtime check types
const (
	prometheusCheckType = "prometheus"
	errorRatioCheckType = "error"
)

const defaultCheckIntervalSec = 1

type Runner struct {
	name      string
	testStage int32
	Manager   *LoadManager
	Config    RunnerConfig
	prototype Attack

	// Checks whether to stop generator
	checkFunc RuntimeCheckFunc
	CheckData []Checks
	// Other clients for checks
	PromClient v1.API

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	attackers []Attack
	users     []*User
	workers   sync.WaitGroup
	failed    int32
	startedAt time.Time

	next          chan bool
	results       chan result
	collectorQuit chan struct{}
	collectorDone chan struct{}
	sinkMu        sync.Mutex
	sink          func(r result)

	// Metrics
	registeredMetricsLabels []string
	RateLog                 []float64
	MaxRPS                  float64
	metricsMu               sync.RWMutex
	// RampUpMetrics store only rampup interval metrics, cleared every interval
	RampUpMetrics map[string]*Metrics
	// Metrics store full attack metrics
	Metrics              map[string]*Metrics
	timerMu              sync.RWMutex
	timers               map[string]metrics.Timer
	errorsMu             sync.RWMutex
	Errors               map[string]metrics.Counter
	goroutinesCountGauge metrics.Gauge
	goroutinesCount      int64
	registeredGoroutines bool

	L *Logger
}

// NewRunner validates the handle config and creates a runner for the prototype attack
func NewRunner(name string, lm *LoadManager, a Attack, ch RuntimeCheckFunc, c RunnerConfig) (*Runner, error) {
	if msg := c.Validate(); len(msg) > 0 {
		return nil, fmt.Errorf("handle %s config errors: %s", name, strings.Join(msg, "; "))
	}
	if a == nil {
		return nil, fmt.Errorf("handle %s has no attack", name)
	}
	var promClient v1.API
	if lm != nil && lm.GeneratorConfig != nil && lm.GeneratorConfig.Prometheus != nil && lm.GeneratorConfig.Prometheus.URL != "" {
		promC, err := api.NewClient(api.Config{
			Address: lm.GeneratorConfig.Prometheus.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup prometheus client: %w", err)
		}
		promClient = v1.NewAPI(promC)
	}
	r := &Runner{
		name:      name,
		Manager:   lm,
		Config:    c,
		prototype: a,

		checkFunc: ch,
		CheckData: c.StopIf,

		PromClient: promClient,
		RateLog:    []float64{},

		registeredMetricsLabels: make([]string, 0),
		RampUpMetrics:           make(map[string]*Metrics),
		Metrics:                 make(map[string]*Metrics),
		timers:                  make(map[string]metrics.Timer),
		Errors:                  make(map[string]metrics.Counter),
		goroutinesCountGauge:    metrics.NewGauge(),

		L: &Logger{log.With("runner", name)},
	}
	r.L.Infof("bootstraping generator, mode [%s]", c.systemMode())
	r.L.Infof("[%d] available logical CPUs", runtime.NumCPU())
	return r, nil
}

func (r *Runner) Name() string {
	return r.name
}

// Failed reports whether a runtime check stopped the runner
func (r *Runner) Failed() bool {
	return atomic.LoadInt32(&r.failed) == 1
}

func (r *Runner) stage() int32 {
	return atomic.LoadInt32(&r.testStage)
}

func (r *Runner) setStage(s int32) {
	atomic.StoreInt32(&r.testStage, s)
}

// Users simulated users spawned by the last closed mode run
func (r *Runner) Users() []*User {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*User, len(r.users))
	copy(users, r.users)
	return users
}

func (r *Runner) attackersCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attackers)
}

func (r *Runner) stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx == nil || r.ctx.Err() != nil
}

// Probe uses the Attack to perform {count} calls and returns results,
// it is intended for development of an Attack implementation.
func (r *Runner) Probe(count int) ([]DoResult, error) {
	probe := r.prototype.Clone(r)
	if err := probe.Setup(r.Config); err != nil {
		return nil, fmt.Errorf("probe attack setup failed: %w", err)
	}
	defer func() {
		if err := probe.Teardown(); err != nil {
			r.L.Infof("probe teardown failed: %v", err)
		}
	}()
	out := make([]DoResult, 0, count)
	for s := count; s > 0; s-- {
		res := doWithTimeout(context.Background(), probe, r.Config.timeout())
		r.L.Infof("probe call [%s] took [%v] with status [%v] and error [%v]",
			res.doResult.RequestLabel, res.elapsed, res.doResult.StatusCode, res.doResult.Error)
		out = append(out, res.doResult)
	}
	return out, nil
}

// Stop cancels the current run, safe to call from any goroutine
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) reset(parent context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(parent)
	r.attackers = []Attack{}
	r.users = []*User{}
	r.mu.Unlock()
	atomic.StoreInt32(&r.failed, 0)
	atomic.StoreInt64(&r.goroutinesCount, 0)
	r.next = make(chan bool)
	r.results = make(chan result)
	r.metricsMu.Lock()
	r.Metrics = make(map[string]*Metrics)
	r.RampUpMetrics = make(map[string]*Metrics)
	r.metricsMu.Unlock()
	r.setSink(r.addResult)
}

// Run offers the complete flow of a test and returns the report of the run.
func (r *Runner) Run(ctx context.Context) *RunReport {
	r.reset(ctx)
	if lifecycler := r.beforeRunner(); lifecycler != nil {
		if err := lifecycler.BeforeRun(r.Config); err != nil {
			r.L.Infof("BeforeRun failed: %v", err)
			r.Stop()
			report := NewErrorReport(fmt.Errorf("before run: %w", err), r.Config)
			return &report
		}
	}
	r.collectResults()
	r.initMonitoring()

	if r.Config.WaitBeforeSec != 0 {
		r.L.Infof("awaiting runner start, sleeping for %d sec", r.Config.WaitBeforeSec)
		sleepCtx(r.ctx, time.Duration(r.Config.WaitBeforeSec)*time.Second)
	}
	r.defaultCheckByData()
	r.checkStopIf()
	r.startedAt = time.Now()
	switch r.Config.systemMode() {
	case ClosedWorldSystem:
		r.swarm()
	default:
		if r.rampUp() {
			r.fullAttack()
		}
	}
	r.shutdown()
	r.ReportMaxRPS()
	report := r.reportMetrics()
	if lifecycler := r.afterRunner(); lifecycler != nil {
		if err := lifecycler.AfterRun(report); err != nil {
			r.L.Infof("AfterRun failed: %v", err)
		}
	}
	return report
}

func (r *Runner) beforeRunner() BeforeRunner {
	var found BeforeRunner
	walkAttack(r.prototype, func(a Attack) bool {
		found, _ = a.(BeforeRunner)
		return found != nil
	})
	return found
}

func (r *Runner) afterRunner() AfterRunner {
	var found AfterRunner
	walkAttack(r.prototype, func(a Attack) bool {
		found, _ = a.(AfterRunner)
		return found != nil
	})
	return found
}

// shutdown stops workers, drains results and releases attackers
func (r *Runner) shutdown() {
	r.L.Infof("test ended, shutting down runner")
	r.Stop()
	r.workers.Wait()
	close(r.collectorQuit)
	<-r.collectorDone
	r.tearDownAttackers()
	r.unregisterMetrics()
}

func (r *Runner) SetValidationParams() {
	r.RateLog = []float64{}
	r.Config.IsValidationRun = true
	r.Config.AttackTimeSec = r.Config.Validation.AttackTimeSec
	r.Config.RampUpTimeSec = 1
	rpsWithNoErrors := int(r.Config.Validation.Threshold * r.MaxRPS)
	if rpsWithNoErrors == 0 {
		rpsWithNoErrors = 1
	}
	r.Config.RPS = rpsWithNoErrors
	r.L.Infof("running validation of max rps: %d for %d seconds", r.Config.RPS, r.Config.AttackTimeSec)
}

func (r *Runner) spawnAttacker() {
	if r.stopped() {
		return
	}
	if r.Config.Verbose {
		r.L.Infof("setup and spawn new attacker [%d]", r.attackersCount()+1)
	}
	attacker := r.prototype.Clone(r)
	if err := attacker.Setup(r.Config); err != nil {
		r.L.Infof("attacker [%d] setup failed with [%v]", r.attackersCount()+1, err)
		return
	}
	r.mu.Lock()
	r.attackers = append(r.attackers, attacker)
	r.mu.Unlock()
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		attack(r.ctx, attacker, r.next, r.results, r.Config.timeout())
	}()
}

func (r *Runner) setSink(f func(result)) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	r.sink = f
}

func (r *Runner) pipeline(s result) {
	if s.doResult.RequestLabel == "" {
		s.doResult.RequestLabel = r.name
	}
	r.sinkMu.Lock()
	sink := r.sink
	r.sinkMu.Unlock()
	sink(s)
}

// addResult is called from the collector goroutine.
func (r *Runner) addResult(s result) {
	r.metricsMu.Lock()
	m, ok := r.Metrics[s.doResult.RequestLabel]
	if !ok {
		m = newMetrics()
		r.Metrics[s.doResult.RequestLabel] = m
	}
	r.metricsMu.Unlock()
	m.add(s)
}

// LabelMetrics returns collected metrics of a label, nil if nothing was collected
func (r *Runner) LabelMetrics(label string) *Metrics {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()
	return r.Metrics[label]
}

func (r *Runner) rampMetrics() *Metrics {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()
	return r.RampUpMetrics[r.name]
}

func (r *Runner) setRampMetrics(m *Metrics) {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	r.RampUpMetrics[r.name] = m
}

func (r *Runner) collectResults() {
	quit := make(chan struct{})
	done := make(chan struct{})
	r.collectorQuit = quit
	r.collectorDone = done
	results := r.results
	go func() {
		defer close(done)
		for {
			select {
			case s := <-results:
				r.pipeline(s)
			case <-quit:
				return
			}
		}
	}()
}

func (r *Runner) initMonitoring() {
	if r.Manager == nil || r.Manager.GeneratorConfig == nil {
		return
	}
	g := r.Manager.GeneratorConfig.Graphite
	if g.URL == "" {
		return
	}
	if err := StartGraphiteSender(g.LoadGeneratorPrefix, time.Duration(g.FlushIntervalSec)*time.Second, g.URL); err != nil {
		r.L.Infof("graphite monitoring disabled: %v", err)
		return
	}
	if !r.registeredGoroutines {
		r.registerMetric("goroutines-"+r.name, r.goroutinesCountGauge)
		r.registeredGoroutines = true
	}
}

func (r *Runner) registerLabelTimings(label string) metrics.Timer {
	r.timerMu.RLock()
	timer, ok := r.timers[label]
	r.timerMu.RUnlock()
	if ok {
		return timer
	}
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if timer, ok = r.timers[label]; ok {
		return timer
	}
	timer = metrics.NewTimer()
	r.timers[label] = timer
	r.registerMetric(label+"-timer", timer)
	return timer
}

func (r *Runner) registerErrCount(label string) metrics.Counter {
	r.errorsMu.RLock()
	cnt, ok := r.Errors[label]
	r.errorsMu.RUnlock()
	if ok {
		return cnt
	}
	r.errorsMu.Lock()
	defer r.errorsMu.Unlock()
	if cnt, ok = r.Errors[label]; ok {
		return cnt
	}
	cnt = metrics.NewCounter()
	r.Errors[label] = cnt
	r.registerMetric(label+"-err", cnt)
	return cnt
}

func (r *Runner) registerMetric(name string, metric interface{}) {
	r.mu.Lock()
	r.registeredMetricsLabels = append(r.registeredMetricsLabels, name)
	r.mu.Unlock()
	if err := metrics.Register(name, metric); err != nil {
		r.L.Debugf("failed to register metric: %s", err)
	}
}

func (r *Runner) unregisterMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.registeredMetricsLabels {
		metrics.Unregister(m)
	}
	r.registeredMetricsLabels = r.registeredMetricsLabels[:0]
	r.registeredGoroutines = false
	r.timerMu.Lock()
	r.timers = make(map[string]metrics.Timer)
	r.timerMu.Unlock()
	r.errorsMu.Lock()
	r.Errors = make(map[string]metrics.Counter)
	r.errorsMu.Unlock()
}

func (r *Runner) tearDownAttackers() {
	r.mu.Lock()
	attackers := r.attackers
	r.mu.Unlock()
	if r.Config.Verbose {
		r.L.Infof("tearing down attackers [%d]", len(attackers))
	}
	for i, each := range attackers {
		if err := each.Teardown(); err != nil {
			r.L.Infof("failed to teardown attacker [%d]:%v", i, err)
		}
	}
}

func (r *Runner) reportMetrics() *RunReport {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()
	for _, each := range r.Metrics {
		each.updateLatencies()
		each.updateSuccessRatio()
	}
	return &RunReport{
		StartedAt:     r.startedAt,
		FinishedAt:    time.Now(),
		Configuration: r.Config,
		Metrics:       r.Metrics,
		Failed:        r.Failed(),
		Output:        map[string]interface{}{},
	}
}

func (r *Runner) ReportMaxRPS() {
	if r.Config.systemMode() == ClosedWorldSystem {
		if m := r.LabelMetrics(r.name); m != nil {
			m.updateLatencies()
			r.RateLog = append(r.RateLog, m.Rate)
		}
	}
	r.MaxRPS = MaxRPS(r.RateLog)
	r.L.Infof("max rps: %.2f", r.MaxRPS)
	if r.Config.IsValidationRun && !r.Failed() && r.Manager != nil {
		entry := []string{r.name, os.Getenv("NETWORK_NODES"), fmt.Sprintf("%.2f", r.MaxRPS)}
		r.L.Infof("writing scaling info: %s", entry)
		if err := r.Manager.writeScaling(entry); err != nil {
			r.L.Infof("failed to write scaling info: %v", err)
		}
	}
}

// defaultCheckByData setups default prometheus or error ratio check func
func (r *Runner) defaultCheckByData() {
	if r.checkFunc != nil {
		r.L.Info("custom check selected, see code in checks.go")
		return
	}
	if len(r.CheckData) == 0 {
		r.L.Info("no default check found")
		return
	}
	switch r.CheckData[0].Type {
	case prometheusCheckType:
		r.L.Infof("default prometheus check selected, query: %s", r.CheckData[0].Query)
		r.checkFunc = func(r *Runner) bool {
			stop, err := PromBooleanQuery(r)
			if err != nil {
				r.L.Infof("prometheus check failed: %v", err)
				return true
			}
			return stop
		}
	case errorRatioCheckType:
		r.L.Infof("default error check selected, threshold: %.2f errors ratio", r.CheckData[0].Threshold)
		r.checkFunc = func(r *Runner) bool {
			return ErrorPercentCheck(r, r.CheckData[0].Threshold)
		}
	default:
		r.L.Infof("unknown check type selected, skipping runner runtime check")
	}
}

// checkStopIf runs the check func every interval, stops the runner if it returns true
func (r *Runner) checkStopIf() {
	if r.checkFunc == nil {
		return
	}
	interval := defaultCheckIntervalSec
	if len(r.CheckData) > 0 && r.CheckData[0].Interval > 0 {
		interval = r.CheckData[0].Interval
	}
	ctx := r.ctx
	go func() {
		ticker := time.NewTicker(time.Duration(interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.checkFunc(r) {
					r.L.Infof("runtime check failed, exiting")
					atomic.StoreInt32(&r.failed, 1)
					if r.Manager != nil {
						r.Manager.markFailed(r.Config.IsValidationRun)
					}
					r.Stop()
					return
				}
			}
		}
	}()
}
