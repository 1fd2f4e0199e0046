package shopload

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/wcharczuk/go-chart"
)

// ScalingPoint max rps of a handle validated with some amount of generator nodes
type ScalingPoint struct {
	Nodes  float64
	MaxRPS float64
}

// ReadScaling reads scaling csv written by validation runs: handle, nodes, max rps.
// Rows with empty nodes are numbered in order of appearance.
func ReadScaling(csvPath string) (map[string][]ScalingPoint, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read scaling csv: %w", err)
	}
	points := make(map[string][]ScalingPoint)
	for i, rec := range records {
		handle := rec[0]
		nodes := float64(len(points[handle]) + 1)
		if rec[1] != "" {
			if nodes, err = strconv.ParseFloat(rec[1], 64); err != nil {
				return nil, fmt.Errorf("line %d: bad nodes value %q", i+1, rec[1])
			}
		}
		rps, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad rps value %q", i+1, rec[2])
		}
		points[handle] = append(points[handle], ScalingPoint{Nodes: nodes, MaxRPS: rps})
	}
	for h := range points {
		p := points[h]
		sort.SliceStable(p, func(i, j int) bool { return p[i].Nodes < p[j].Nodes })
	}
	return points, nil
}

// ReportScaling plots max rps by nodes for every handle from scaling csv into png file
func ReportScaling(csvPath string, pngPath string) error {
	points, err := ReadScaling(csvPath)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("no scaling data in %s", csvPath)
	}
	handles := make([]string, 0, len(points))
	for h := range points {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	series := make([]chart.Series, 0, len(handles))
	for _, h := range handles {
		xs := make([]float64, 0, len(points[h]))
		ys := make([]float64, 0, len(points[h]))
		for _, p := range points[h] {
			xs = append(xs, p.Nodes)
			ys = append(ys, p.MaxRPS)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    h,
			XValues: xs,
			YValues: ys,
		})
	}
	graph := chart.Chart{
		Title:  "Max RPS scaling",
		XAxis:  chart.XAxis{Name: "nodes"},
		YAxis:  chart.YAxis{Name: "max rps"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := graph.Render(chart.PNG, f); err != nil {
		return fmt.Errorf("failed to render scaling chart: %w", err)
	}
	return nil
}
