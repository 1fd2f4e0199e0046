package shopload

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
)

type summaryColors struct {
	header  *color.Color
	ok      *color.Color
	warn    *color.Color
	failed  *color.Color
	details *color.Color
}

func newSummaryColors(noColor bool) summaryColors {
	c := summaryColors{
		header:  color.New(color.FgCyan, color.Bold),
		ok:      color.New(color.FgGreen, color.Bold),
		warn:    color.New(color.FgYellow, color.Bold),
		failed:  color.New(color.FgRed, color.Bold),
		details: color.New(color.FgWhite),
	}
	if noColor {
		for _, each := range []*color.Color{c.header, c.ok, c.warn, c.failed, c.details} {
			each.DisableColor()
		}
	}
	return c
}

// WriteSummary prints per handle, per label request counts, error ratio and latencies
func WriteSummary(w io.Writer, reports map[string]*RunReport, noColor bool) {
	c := newSummaryColors(noColor)
	handles := make([]string, 0, len(reports))
	for h := range reports {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	for _, h := range handles {
		r := reports[h]
		status := c.ok.Sprint("OK")
		if r.Failed || r.HasErrors() {
			status = c.failed.Sprint("FAILED")
		}
		c.header.Fprintf(w, "handle %s ", h)
		fmt.Fprintf(w, "[%s] %s\n", status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		if r.RunError != "" {
			c.failed.Fprintf(w, "  run error: %s\n", r.RunError)
		}
		labels := make([]string, 0, len(r.Metrics))
		for l := range r.Metrics {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			m := r.Metrics[l]
			errPercent := (1 - m.Success) * 100
			ratio := c.ok
			if errPercent > 0 {
				ratio = c.warn
			}
			if m.Requests > 0 && m.Success == 0 {
				ratio = c.failed
			}
			fmt.Fprintf(w, "  %-20s requests: %d, rps: %.2f, errors: %s\n", l, m.Requests, m.Rate, ratio.Sprintf("%.2f%%", errPercent))
			c.details.Fprintf(w, "  %-20s p50: %s, p95: %s, p99: %s, max: %s\n", "",
				m.Latencies.P50.Round(time.Microsecond),
				m.Latencies.P95.Round(time.Microsecond),
				m.Latencies.P99.Round(time.Microsecond),
				m.Latencies.Max.Round(time.Microsecond),
			)
			for _, e := range m.Errors {
				c.failed.Fprintf(w, "  %-20s %s\n", "", e)
			}
		}
	}
}
