package shopload

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maskedMetadataValue = "***---***---***"

type result struct {
	begin, end time.Time
	elapsed    time.Duration
	doResult   DoResult
}

// DoResult is the return value of a Do call on an Attack.
type DoResult struct {
	// Label identifying the request that was send which is only used for reporting the Metrics.
	RequestLabel string
	// The error that happened when sending the request or receiving the response.
	Error error
	// The HTTP status code.
	StatusCode int
	// Number of bytes transferred when sending the request.
	BytesIn int64
	// Number of bytes transferred when receiving the response.
	BytesOut int64
}

// Failed reports whether the engine counts the result as an error
func (r DoResult) Failed() bool {
	return r.Error != nil || r.StatusCode >= 400
}

// RunReport is a composition of configuration, measurements and custom output from a loadtest Run.
type RunReport struct {
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Configuration RunnerConfig `json:"configuration"`
	// RunError is set when a Run could not be called or executed.
	RunError string              `json:"runError"`
	Metrics  map[string]*Metrics `json:"metrics"`
	// Failed can be set by your loadtest test program to indicate that the results are not acceptable.
	Failed bool `json:"failed"`
	// Output is used to publish any custom output in the report.
	Output map[string]interface{} `json:"output"`
}

// NewErrorReport returns a report when a Run could not be called or executed.
func NewErrorReport(err error, config RunnerConfig) RunReport {
	return RunReport{
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
		RunError:      err.Error(),
		Configuration: config,
		Failed:        true,
		Output:        map[string]interface{}{},
	}
}

// HasErrors reports whether any label of the run has failed requests
func (r *RunReport) HasErrors() bool {
	for _, m := range r.Metrics {
		if m.ErrorRatio() > 0 {
			return true
		}
	}
	return false
}

// masked returns a copy of the report with secrets in Metadata made unreadable
func (r RunReport) masked() RunReport {
	md := make(map[string]string, len(r.Configuration.Metadata))
	for k, v := range r.Configuration.Metadata {
		if strings.HasSuffix(k, "*") {
			v = maskedMetadataValue
		}
		md[k] = v
	}
	r.Configuration.Metadata = md
	return r
}

// WriteReport writes the indented JSON report
func WriteReport(w io.Writer, r RunReport) error {
	data, err := json.MarshalIndent(r.masked(), "", "\t")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// PrintReport writes the JSON report to a file or stdout, depending on the configuration.
func PrintReport(r RunReport) error {
	if len(r.Configuration.OutputFilename) == 0 {
		return WriteReport(os.Stdout, r)
	}
	file, err := os.Create(r.Configuration.OutputFilename)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}
	defer file.Close()
	if err := WriteReport(file, r); err != nil {
		return err
	}
	if r.Configuration.Verbose {
		return WriteReport(os.Stdout, r)
	}
	return nil
}
