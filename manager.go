package shopload

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	ReportFileTmpl       = "%s-%d.json"
	lastSuccessSuffix    = "_last"
	ParallelMode         = "parallel"
	SequenceMode         = "sequence"
	SequenceValidateMode = "sequence_validate"
)

// LoadManager manages steps, reports and finish criteria
type LoadManager struct {
	// SuiteConfig holds data common for all groups
	SuiteConfig *SuiteConfig
	// GeneratorConfig holds generator data
	GeneratorConfig *GeneratorConfig
	// Steps runner objects that fires .Do()
	Steps []RunStep
	// Reports last run report for every handle
	ReportsMu sync.Mutex
	Reports   map[string]*RunReport
	// all handles csv logs
	CSVLogMu      sync.Mutex
	CSVLog        *csv.Writer
	RPSScalingLog *csv.Writer
	files         []*os.File
	ReportDir     string
	// StartedAt and FinishedAt suite time range
	StartedAt  time.Time
	FinishedAt time.Time

	mu sync.Mutex
	// When degradation threshold is reached for any handle, see default Config
	Degradation bool
	// When there are Errors in any handle or a runtime check stopped a runner
	Failed bool
	// When max rps validation failed
	ValidationFailed bool
}

type RunStep struct {
	Name          string
	ExecutionMode string
	Runners       []*Runner
}

// NewLoadManager creates manager, opens csv logs and report dir configured in generator config
func NewLoadManager(suiteCfg *SuiteConfig, genCfg *GeneratorConfig) (*LoadManager, error) {
	if suiteCfg == nil || genCfg == nil {
		return nil, fmt.Errorf("suite and generator configs are required")
	}
	lm := &LoadManager{
		SuiteConfig:     suiteCfg,
		GeneratorConfig: genCfg,
		Steps:           make([]RunStep, 0),
		Reports:         make(map[string]*RunReport),
	}
	if genCfg.ResultsCSV != "" {
		f, err := createFileOrAppend(genCfg.ResultsCSV)
		if err != nil {
			return nil, err
		}
		lm.files = append(lm.files, f)
		lm.CSVLog = csv.NewWriter(f)
	}
	if genCfg.ScalingCSV != "" {
		f, err := createFileOrAppend(genCfg.ScalingCSV)
		if err != nil {
			return nil, err
		}
		lm.files = append(lm.files, f)
		lm.RPSScalingLog = csv.NewWriter(f)
	}
	if genCfg.ReportDir != "" {
		dir, err := filepath.Abs(genCfg.ReportDir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create report dir: %w", err)
		}
		lm.ReportDir = dir
	}
	return lm, nil
}

// HandleShutdownSignal returns a context cancelled on SIGINT/SIGTERM, cancelling it stops all runners
func (m *LoadManager) HandleShutdownSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			log.Info("exit signal received, exiting")
			if m.SuiteConfig.GoroutinesDump {
				buf := make([]byte, 1<<20)
				stacklen := runtime.Stack(buf, true)
				log.Infof("=== received SIGTERM ===\n*** goroutine dump...\n%s\n*** end\n", buf[:stacklen])
			}
			m.markFailed(false)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown stops all runners and flushes logs
func (m *LoadManager) Shutdown() {
	for _, s := range m.Steps {
		for _, r := range s.Runners {
			r.Stop()
		}
	}
	m.CSVLogMu.Lock()
	defer m.CSVLogMu.Unlock()
	if m.CSVLog != nil {
		m.CSVLog.Flush()
	}
	if m.RPSScalingLog != nil {
		m.RPSScalingLog.Flush()
	}
	for _, f := range m.files {
		f.Close()
	}
	m.files = nil
}

// RunSuite runs steps one by one, runners of a step run according to its execution mode
func (m *LoadManager) RunSuite(ctx context.Context) error {
	m.StartedAt = time.Now()
	for _, step := range m.Steps {
		if ctx.Err() != nil {
			break
		}
		log.Infof("running step: %s, execution mode: %s", step.Name, step.ExecutionMode)
		switch step.ExecutionMode {
		case ParallelMode:
			var wg sync.WaitGroup
			for _, r := range step.Runners {
				wg.Add(1)
				go func(r *Runner) {
					defer wg.Done()
					m.runHandle(ctx, r)
				}(r)
			}
			wg.Wait()
		case SequenceMode:
			for _, r := range step.Runners {
				m.runHandle(ctx, r)
			}
		case SequenceValidateMode:
			for _, r := range step.Runners {
				if report := m.runHandle(ctx, r); report.Failed || r.Failed() || ctx.Err() != nil {
					continue
				}
				r.SetValidationParams()
				m.runHandle(ctx, r)
			}
		default:
			return fmt.Errorf("step %s: unknown execution_mode %q", step.Name, step.ExecutionMode)
		}
	}
	m.FinishedAt = time.Now()
	return nil
}

// runHandle runs a handle, keeps its report and writes it to the handle output file if one is set
func (m *LoadManager) runHandle(ctx context.Context, r *Runner) *RunReport {
	report := r.Run(ctx)
	m.addReport(r.Name(), report)
	if r.Config.OutputFilename != "" {
		if err := PrintReport(*report); err != nil {
			log.Errorf("failed to write report of %s: %s", r.Name(), err)
		}
	}
	return report
}

func (m *LoadManager) addReport(name string, r *RunReport) {
	m.ReportsMu.Lock()
	defer m.ReportsMu.Unlock()
	m.Reports[name] = r
	if r.Failed {
		m.mu.Lock()
		m.Failed = true
		m.mu.Unlock()
	}
}

// Report last report of a handle
func (m *LoadManager) Report(name string) (*RunReport, bool) {
	m.ReportsMu.Lock()
	defer m.ReportsMu.Unlock()
	r, ok := m.Reports[name]
	return r, ok
}

func (m *LoadManager) markFailed(validation bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = true
	if validation {
		m.ValidationFailed = true
	}
}

// Status returns failed, validation failed and degradation flags
func (m *LoadManager) Status() (failed, validationFailed, degradation bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Failed, m.ValidationFailed, m.Degradation
}

func (m *LoadManager) writeResult(entry []string) error {
	m.CSVLogMu.Lock()
	defer m.CSVLogMu.Unlock()
	if m.CSVLog == nil {
		return nil
	}
	return m.CSVLog.Write(entry)
}

func (m *LoadManager) writeScaling(entry []string) error {
	m.CSVLogMu.Lock()
	defer m.CSVLogMu.Unlock()
	if m.RPSScalingLog == nil {
		return nil
	}
	if err := m.RPSScalingLog.Write(entry); err != nil {
		return err
	}
	m.RPSScalingLog.Flush()
	return m.RPSScalingLog.Error()
}

// StoreHandleReports stores report for every handle in suite
func (m *LoadManager) StoreHandleReports() error {
	if m.ReportDir == "" {
		return nil
	}
	ts := time.Now().Unix()
	m.ReportsMu.Lock()
	defer m.ReportsMu.Unlock()
	_, _, degradation := m.Status()
	for handleName, r := range m.Reports {
		repPath := filepath.Join(m.ReportDir, fmt.Sprintf(ReportFileTmpl, handleName, ts))
		log.Infof("writing report for handle [%s] in %s", handleName, repPath)
		f, err := os.Create(repPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		err = WriteReport(f, *r)
		f.Close()
		if err != nil {
			return err
		}
		if !degradation && !r.Failed && !r.HasErrors() {
			if err := m.WriteLastSuccess(handleName, ts); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteLastSuccess writes ts of last successful run for handle
func (m *LoadManager) WriteLastSuccess(handleName string, ts int64) error {
	lastSuccessFile := filepath.Join(m.ReportDir, handleName+lastSuccessSuffix)
	return ioutil.WriteFile(lastSuccessFile, []byte(strconv.FormatInt(ts, 10)), 0644)
}

// CheckErrors marks suite failed if any handle has failed requests
func (m *LoadManager) CheckErrors() {
	m.ReportsMu.Lock()
	defer m.ReportsMu.Unlock()
	for handleName, currentReport := range m.Reports {
		for label, lm := range currentReport.Metrics {
			if lm.ErrorRatio() > 0 {
				log.Infof("handle [%s] label [%s] has errors: %s", handleName, label, strings.Join(lm.Errors, "; "))
				m.markFailed(false)
			}
		}
	}
}

// CheckDegradation checks handle performance degradation to last successful run stored in *handle_name*_last file
func (m *LoadManager) CheckDegradation() error {
	handleThreshold := m.GeneratorConfig.Checks.HandleThresholdPercent
	if handleThreshold <= 0 || m.ReportDir == "" {
		return nil
	}
	m.ReportsMu.Lock()
	defer m.ReportsMu.Unlock()
	for handleName, currentReport := range m.Reports {
		lastReport, err := m.LastSuccessReportForHandle(handleName)
		if os.IsNotExist(err) {
			log.Infof("nothing to compare for %s handle, no reports in %s", handleName, m.ReportDir)
			continue
		}
		if err != nil {
			return err
		}
		last, ok := lastReport.Metrics[handleName]
		if !ok {
			return fmt.Errorf("no metrics for handle %s found in last report", handleName)
		}
		current, ok := currentReport.Metrics[handleName]
		if !ok {
			return fmt.Errorf("no metrics for handle %s found in current report", handleName)
		}
		currentP50 := current.Latencies.P50
		lastP50 := last.Latencies.P50
		if lastP50 == 0 {
			continue
		}
		ratio := float64(currentP50) / float64(lastP50)
		log.Infof("[ %s ] current: %s, last: %s, ratio: %f", handleName, currentP50, lastP50, ratio)
		if ratio >= handleThreshold {
			log.Infof("p50 degradation of %s handle: %s > %s", handleName, currentP50, lastP50)
			m.mu.Lock()
			m.Degradation = true
			m.mu.Unlock()
		}
	}
	return nil
}

// LastSuccessReportForHandle gets last successful report for a handle
func (m *LoadManager) LastSuccessReportForHandle(handleName string) (*RunReport, error) {
	lastTs, err := ioutil.ReadFile(filepath.Join(m.ReportDir, handleName+lastSuccessSuffix))
	if err != nil {
		return nil, err
	}
	ts := strings.TrimSpace(string(lastTs))
	data, err := ioutil.ReadFile(filepath.Join(m.ReportDir, fmt.Sprintf("%s-%s.json", handleName, ts)))
	if err != nil {
		return nil, fmt.Errorf("last success report of %s is missing: %w", handleName, err)
	}
	var runReport RunReport
	if err := json.Unmarshal(data, &runReport); err != nil {
		return nil, fmt.Errorf("failed to decode report of %s: %w", handleName, err)
	}
	return &runReport, nil
}

func createFileOrAppend(fname string) (*os.File, error) {
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fname, err)
	}
	return f, nil
}
