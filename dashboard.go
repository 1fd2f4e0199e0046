/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package shopload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	labelsFile          = "labels.go"
	graphiteDatasource  = "DS_LOCAL_GRAPHITE"
	dashboardImportPath = "/api/dashboards/import"
	grafanaOrgID        = 1
	timerangeTemplate   = "%s/dashboard/db/%s?orgId=%d&from=%d&to=%d"
)

var (
	percentiles            = []string{"50", "95", "99"}
	rpsLabelSuffixes       = []string{"timer", "err"}
	hostMetricCPUNames     = []string{"cpu_used"}
	hostMetricMEMNames     = []string{"mem_total", "mem_free", "mem_used", "mem_cached", "mem_swap_total", "mem_swap_used", "mem_swap_free"}
	hostMetricNetworkNames = []string{"net_%s_rx", "net_%s_tx"}

	// scale factors for graphs, Ms, Mb, etc
	cpuScaleFactor         = "1"
	percentilesScaleFactor = "0.000001"
	netScaleFactor         = "0.000001"
	memScaleFactor         = "0.000001"

	alias                    = "%s-%s"
	percentileTargetTemplate = "alias(scale(%s.%s-timer.%s-percentile, %s), '%s')"
	rpsTargetTemplate        = "alias(perSecond(%s.%s-%s.count), '%s')"
	goroutinesTotalTemplate  = "%s.goroutines-%s.value"
	metricValueTemplate      = "scale(%s.%s.value, %s)"
)

type Target struct {
	RefID  string `json:"refId"`
	Target string `json:"target"`
}

type Legend struct {
	Show bool `json:"show"`
	Avg  bool `json:"avg"`
	Max  bool `json:"max"`
}

type Yaxe struct {
	Format  string `json:"format"`
	LogBase int    `json:"logBase"`
	Show    bool   `json:"show"`
}

type Panel struct {
	Datasource string   `json:"datasource"`
	Fill       int      `json:"fill"`
	ID         int      `json:"id"`
	Legend     Legend   `json:"legend"`
	Lines      bool     `json:"lines"`
	Linewidth  int      `json:"linewidth"`
	Span       int      `json:"span"`
	Targets    []Target `json:"targets"`
	Title      string   `json:"title"`
	Type       string   `json:"type"`
	Yaxes      []Yaxe   `json:"yaxes"`
}

type Row struct {
	Height    int     `json:"height"`
	Panels    []Panel `json:"panels"`
	ShowTitle bool    `json:"showTitle"`
	Title     string  `json:"title"`
	TitleSize string  `json:"titleSize"`
}

type Time struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type DashboardInput struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	PluginID   string `json:"pluginId"`
	PluginName string `json:"pluginName"`
}

type Dashboard struct {
	Inputs        []DashboardInput `json:"__inputs"`
	Editable      bool             `json:"editable"`
	Refresh       string           `json:"refresh"`
	Rows          []Row            `json:"rows"`
	SchemaVersion int              `json:"schemaVersion"`
	Style         string           `json:"style"`
	Time          Time             `json:"time"`
	Title         string           `json:"title"`
	Version       int              `json:"version"`
}

type UploadInput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	PluginID string `json:"pluginId"`
	Value    string `json:"value"`
}

type ImportPayload struct {
	Dashboard Dashboard     `json:"dashboard"`
	Overwrite bool          `json:"overwrite"`
	Inputs    []UploadInput `json:"inputs"`
}

// dashboardBuilder numbers panels in order of creation
type dashboardBuilder struct {
	prefix    string
	hostName  string
	iface     string
	lastPanel int
}

func (b *dashboardBuilder) panel(title string, targets []Target, yAxisFormat string) Panel {
	b.lastPanel++
	for i := range targets {
		targets[i].RefID = strconv.Itoa(i)
	}
	return Panel{
		Datasource: "${" + graphiteDatasource + "}",
		Fill:       1,
		ID:         b.lastPanel,
		Legend:     Legend{Show: true},
		Lines:      true,
		Linewidth:  1,
		Span:       4,
		Targets:    targets,
		Title:      title,
		Type:       "graph",
		Yaxes: []Yaxe{
			{Format: yAxisFormat, LogBase: 1, Show: true},
			{Format: yAxisFormat, LogBase: 1, Show: true},
		},
	}
}

func (b *dashboardBuilder) percentileTargets(labels []string) []Target {
	targets := make([]Target, 0)
	for _, label := range labels {
		for _, p := range percentiles {
			targets = append(targets, Target{Target: fmt.Sprintf(
				percentileTargetTemplate, b.prefix, label, p, percentilesScaleFactor, fmt.Sprintf(alias, label, p),
			)})
		}
	}
	return targets
}

func (b *dashboardBuilder) rpsTargets(labels []string) []Target {
	targets := make([]Target, 0)
	for _, label := range labels {
		for _, suffix := range rpsLabelSuffixes {
			targets = append(targets, Target{Target: fmt.Sprintf(
				rpsTargetTemplate, b.prefix, label, suffix, fmt.Sprintf(alias, label, suffix),
			)})
		}
	}
	return targets
}

func (b *dashboardBuilder) goroutineTargets(handles []string) []Target {
	targets := make([]Target, 0)
	for _, h := range handles {
		targets = append(targets, Target{Target: fmt.Sprintf(goroutinesTotalTemplate, b.prefix, h)})
	}
	return targets
}

func (b *dashboardBuilder) hostTargets(scale string, names []string) []Target {
	targets := make([]Target, 0)
	for _, n := range names {
		if b.hostName != "" {
			n = b.hostName + "." + n
		}
		targets = append(targets, Target{Target: fmt.Sprintf(metricValueTemplate, b.prefix, n, scale)})
	}
	return targets
}

func (b *dashboardBuilder) networkNames() []string {
	names := make([]string, 0, len(hostMetricNetworkNames))
	for _, n := range hostMetricNetworkNames {
		names = append(names, fmt.Sprintf(n, b.iface))
	}
	return names
}

// GeneratorDashboard builds the generator dashboard with request and host metrics rows
func GeneratorDashboard(cfg *GeneratorConfig, labels []string, handles []string) Dashboard {
	b := &dashboardBuilder{
		prefix:   cfg.Graphite.LoadGeneratorPrefix,
		hostName: cfg.Host.Name,
		iface:    cfg.Host.NetworkIface,
	}
	generatorRow := Row{
		Height:    360,
		Title:     "Generator Metrics",
		TitleSize: "h6",
		Panels: []Panel{
			b.panel("Response time (50,95,99)", b.percentileTargets(labels), "ms"),
			b.panel("RPS (Total+Errors)", b.rpsTargets(labels), "short"),
			b.panel("Generator Debug Info", b.goroutineTargets(handles), "short"),
		},
	}
	hostRow := Row{
		Height:    360,
		Title:     "Generator host Metrics",
		TitleSize: "h6",
		Panels: []Panel{
			b.panel("CPU used (%)", b.hostTargets(cpuScaleFactor, hostMetricCPUNames), "short"),
			b.panel("Memory (Mb)", b.hostTargets(memScaleFactor, hostMetricMEMNames), "short"),
			b.panel(fmt.Sprintf("Network (tx/rx) (Mb) %s", b.iface), b.hostTargets(netScaleFactor, b.networkNames()), "short"),
		},
	}
	return Dashboard{
		Inputs: []DashboardInput{{
			Name:       graphiteDatasource,
			Label:      "Local Graphite",
			Type:       "datasource",
			PluginID:   "graphite",
			PluginName: "Graphite",
		}},
		Editable:      true,
		Refresh:       "5s",
		Rows:          []Row{generatorRow, hostRow},
		SchemaVersion: 14,
		Style:         "dark",
		Time:          Time{From: "now-5m", To: "now"},
		Title:         cfg.Graphite.LoadGeneratorPrefix,
		Version:       1,
	}
}

// CollectLabels reads request labels from the single const declaration of labels.go in load scripts dir
func CollectLabels(loadScriptsDir string) ([]string, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filepath.Join(loadScriptsDir, labelsFile), nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	labels := make([]string, 0)
	for _, d := range node.Decls {
		gd, ok := d.(*ast.GenDecl)
		if !ok || gd.Tok != token.CONST {
			continue
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if !isLabelName(name.Name) || i >= len(vs.Values) {
					continue
				}
				if lit, ok := vs.Values[i].(*ast.BasicLit); ok && lit.Kind == token.STRING {
					v, err := strconv.Unquote(lit.Value)
					if err != nil {
						return nil, err
					}
					labels = append(labels, v)
				}
			}
		}
	}
	return labels, nil
}

func isLabelName(name string) bool {
	return name != "Label" && strings.HasSuffix(name, "Label")
}

// UploadGrafanaDashboard imports the generator dashboard to grafana
func UploadGrafanaDashboard(cfg *GeneratorConfig, suite *SuiteConfig) error {
	labels, err := CollectLabels(cfg.LoadScriptsDir)
	if err != nil {
		return err
	}
	handles := suite.Labels()
	url := cfg.Grafana.URL + dashboardImportPath
	log.Infof("importing grafana dashboard to %s", url)
	return uploadDashboard(cfg.Grafana.Login, cfg.Grafana.Password, url, GeneratorDashboard(cfg, labels, handles))
}

func uploadDashboard(login string, passwd string, url string, dashboard Dashboard) error {
	payload := ImportPayload{
		Dashboard: dashboard,
		Overwrite: true,
		Inputs: []UploadInput{{
			Name:     graphiteDatasource,
			Type:     "datasource",
			PluginID: "graphite",
			Value:    "Local Graphite",
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.SetBasicAuth(login, passwd)
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: defaultHTTPTimeoutSec * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard upload failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard upload failed with status %d: %s", resp.StatusCode, respBody)
	}
	log.Infof("import result: %s", respBody)
	return nil
}

// TimerangeURL grafana dashboard url limited to the suite time range
func TimerangeURL(cfg *GeneratorConfig, from, to time.Time) string {
	return fmt.Sprintf(timerangeTemplate,
		cfg.Grafana.URL,
		cfg.Graphite.LoadGeneratorPrefix,
		grafanaOrgID,
		from.UnixNano()/int64(time.Millisecond),
		to.UnixNano()/int64(time.Millisecond),
	)
}

// HumanReadableTestInterval formats suite time range in configured timezone
func HumanReadableTestInterval(timezone string, from, to time.Time) string {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		location = time.Local
	}
	return fmt.Sprintf("%s - %s", from.In(location), to.In(location))
}
