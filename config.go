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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// System modes of a handle
const (
	// OpenWorldSystem requests arrive at a target RPS regardless of responses
	OpenWorldSystem = "open"
	// ClosedWorldSystem a fixed population of users repeat their task
	ClosedWorldSystem = "closed"
)

const (
	defaultDoTimeoutSec   = 5
	defaultHTTPTimeoutSec = 20
)

// Prometheus prometheus config
type Prometheus struct {
	// URL prometheus base url
	URL string `mapstructure:"url"`
	// EnvLabel prometheus environment label
	EnvLabel string `mapstructure:"env_label"`
	// Namespace prometheus namespace
	Namespace string `mapstructure:"namespace"`
}

type GeneratorConfig struct {
	// Host current vm host configuration
	Host struct {
		// Name used in grafana metrics as prefix
		Name string `mapstructure:"name"`
		// NetworkIface default network interface to collect metrics from
		NetworkIface string `mapstructure:"network_iface"`
		// CollectMetrics collect host metrics flag
		CollectMetrics bool `mapstructure:"collect_metrics"`
	} `mapstructure:"host"`
	// Generator generator specific config
	Generator struct {
		// Target base url of the shop, paths of tasks are appended to it
		Target string `mapstructure:"target"`
		// AwaitTargetSec max time to wait for the target to answer before the suite starts, 0 disables the check
		AwaitTargetSec int `mapstructure:"await_target_sec"`
		// Verbose allows to print debug generator logs
		Verbose bool `mapstructure:"verbose"`
	} `mapstructure:"generator"`
	// Grafana related config
	Grafana struct {
		// URL base url of grafana, ex.: http://0.0.0.0:8181
		URL string `mapstructure:"url"`
		// Login login
		Login string `mapstructure:"login"`
		// Password password
		Password string `mapstructure:"password"`
	} `mapstructure:"grafana"`
	// Graphite related config
	Graphite struct {
		// URL graphite address, ex.: 0.0.0.0:2003
		URL string `mapstructure:"url"`
		// FlushIntervalSec flush interval in seconds
		FlushIntervalSec int `mapstructure:"flushDurationSec"`
		// LoadGeneratorPrefix prefix to be used in graphite metrics
		LoadGeneratorPrefix string `mapstructure:"loadGeneratorPrefix"`
	} `mapstructure:"graphite"`
	Prometheus *Prometheus `mapstructure:"prometheus"`
	// Checks suite level checks
	Checks struct {
		// HandleThresholdPercent p50 ratio to the last successful run considered as degradation, ex.: 1.2
		HandleThresholdPercent float64 `mapstructure:"handle_threshold_percent"`
	} `mapstructure:"checks"`
	// LoadScriptsDir relative from cwd load dir path, ex.: load
	LoadScriptsDir string `mapstructure:"load_scripts_dir"`
	// RootPackageName module path of the repo with load scripts, used by codegen
	RootPackageName string `mapstructure:"root_package_name"`
	// ReportDir dir for json run reports, empty disables reports
	ReportDir string `mapstructure:"report_dir"`
	// ResultsCSV request log file, empty disables the log
	ResultsCSV string `mapstructure:"results_csv"`
	// ScalingCSV max rps log written by validation runs
	ScalingCSV string `mapstructure:"scaling_csv"`
	// Timezone timezone used for grafana url, ex.: Europe/Moscow
	Timezone string `mapstructure:"timezone"`
	// Logging logging related config
	Logging struct {
		// Level level of allowed log messages,ex.: debug | info
		Level string `mapstructure:"level"`
		// Encoding encoding of logs, ex.: console | json
		Encoding string `mapstructure:"encoding"`
		// OutputPaths zap sinks, ex.: stdout, /tmp/logs
		OutputPaths []string `mapstructure:"output_paths"`
	} `mapstructure:"logging"`
}

func (c *GeneratorConfig) Validate() (list []string) {
	if c.Generator.Target == "" {
		list = append(list, "generator.target must be set to the base url of the shop")
	} else if !strings.HasPrefix(c.Generator.Target, "http://") && !strings.HasPrefix(c.Generator.Target, "https://") {
		list = append(list, fmt.Sprintf("generator.target must be an http(s) url, got %q", c.Generator.Target))
	}
	if c.Generator.AwaitTargetSec < 0 {
		list = append(list, "generator.await_target_sec must not be negative")
	}
	if c.Host.CollectMetrics && c.Host.NetworkIface == "" {
		list = append(list, "host.network_iface must be set to collect host metrics")
	}
	return
}

// LoadGeneratorConfig loads yaml generator config, it also configures the package logger
func LoadGeneratorConfig(cfgPath string) (*GeneratorConfig, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(cfgPath)
	if err := viper.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read generator config %s: %w", cfgPath, err)
	}
	var genCfg *GeneratorConfig
	if err := viper.Unmarshal(&genCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generator config: %w", err)
	}
	if _, err := NewLogger(); err != nil {
		return nil, err
	}
	return genCfg, nil
}

// SuiteConfig suite config
type SuiteConfig struct {
	// DumpTransport dumps request/response in stdout
	DumpTransport bool `mapstructure:"dumptransport" yaml:"dumptransport"`
	// GoroutinesDump dump goroutines on exit signal
	GoroutinesDump bool `mapstructure:"goroutines_dump" yaml:"goroutines_dump"`
	// HttpTimeout default http client timeout in seconds
	HttpTimeout int `mapstructure:"http_timeout" yaml:"http_timeout"`
	// Steps load test steps
	Steps []Step `mapstructure:"steps" yaml:"steps"`
}

func (c *SuiteConfig) Validate() (list []string) {
	if len(c.Steps) == 0 {
		list = append(list, "suite must contain at least one step")
	}
	for _, s := range c.Steps {
		switch s.ExecutionMode {
		case ParallelMode, SequenceMode, SequenceValidateMode:
		default:
			list = append(list, fmt.Sprintf("step %s: execution_mode must be one of {parallel,sequence,sequence_validate}", s.Name))
		}
		if len(s.Handles) == 0 {
			list = append(list, fmt.Sprintf("step %s: no handles", s.Name))
		}
		for _, h := range s.Handles {
			msgs := h.Validate()
			if s.ExecutionMode == SequenceValidateMode {
				msgs = append(msgs, h.validateValidation()...)
			}
			for _, msg := range msgs {
				list = append(list, fmt.Sprintf("step %s, handle %s: %s", s.Name, h.HandleName, msg))
			}
		}
	}
	return
}

// Labels handle names of all steps, in order of appearance
func (c *SuiteConfig) Labels() []string {
	seen := make(map[string]struct{})
	labels := make([]string, 0)
	for _, s := range c.Steps {
		for _, h := range s.Handles {
			if _, ok := seen[h.HandleName]; ok {
				continue
			}
			seen[h.HandleName] = struct{}{}
			labels = append(labels, h.HandleName)
		}
	}
	return labels
}

// Step loadtest step config
type Step struct {
	// Name loadtest step name
	Name string `mapstructure:"name" yaml:"name"`
	// ExecutionMode handles execution mode: sequence, sequence_validate, parallel
	ExecutionMode string `mapstructure:"execution_mode" yaml:"execution_mode"`
	// Handles handle configs
	Handles []RunnerConfig `mapstructure:"handles" yaml:"handles"`
}

// Checks stop criteria checks
type Checks struct {
	// Type error check mode, ex.: error | prometheus
	Type string `mapstructure:"type" yaml:"type"`
	// Query prometheus bool query
	Query string `mapstructure:"query" yaml:"query,omitempty"`
	// Threshold fail threshold, from 0 to 1, float
	Threshold float64 `mapstructure:"threshold" yaml:"threshold,omitempty"`
	// Interval check interval in seconds
	Interval int `mapstructure:"interval" yaml:"interval"`
}

// Validation validation config
type Validation struct {
	// AttackTimeSec validation attack time sec
	AttackTimeSec int `mapstructure:"attack_time_sec" yaml:"attack_time_sec"`
	// Threshold percent of max rps to validate, ex.: 0.7 means 70% of max rps
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

// RunnerConfig runner config
type RunnerConfig struct {
	// WaitBeforeSec debug sleep before starting runner when checking condition is impossible
	WaitBeforeSec int `mapstructure:"wait_before_sec" yaml:"wait_before_sec,omitempty"`
	// HandleName name of a handle, must be the same as test label in labels.go
	HandleName string `mapstructure:"name" yaml:"name"`
	// SystemMode open | closed, default open
	SystemMode string `mapstructure:"system_mode" yaml:"system_mode,omitempty"`
	// RPS max requests per second limit, load profile depends on AttackTimeSec and RampUpTimeSec
	RPS int `mapstructure:"rps" yaml:"rps,omitempty"`
	// AttackTimeSec time of the test in seconds, in closed mode 0 means until users finish iterations
	AttackTimeSec int `mapstructure:"attack_time_sec" yaml:"attack_time_sec,omitempty"`
	// RampUpTimeSec ramp up period in seconds, in which RPS will be increased to max of RPS parameter
	RampUpTimeSec int `mapstructure:"ramp_up_sec" yaml:"ramp_up_sec,omitempty"`
	// RampUpStrategy ramp up strategy: linear | exp2
	RampUpStrategy string `mapstructure:"ramp_up_strategy" yaml:"ramp_up_strategy,omitempty"`
	// MaxAttackers max amount of goroutines to attack
	MaxAttackers int `mapstructure:"max_attackers" yaml:"max_attackers,omitempty"`
	// Users simulated users in closed mode
	Users int `mapstructure:"users" yaml:"users,omitempty"`
	// SpawnRate users spawned per second in closed mode, 0 spawns all at once
	SpawnRate int `mapstructure:"spawn_rate" yaml:"spawn_rate,omitempty"`
	// Iterations tasks per user in closed mode, 0 means until attack time ends
	Iterations int `mapstructure:"iterations" yaml:"iterations,omitempty"`
	// WaitTime pause between tasks of one user in closed mode
	WaitTime WaitTimeConfig `mapstructure:"wait_time" yaml:"wait_time,omitempty"`
	// OutputFilename report filename
	OutputFilename string `mapstructure:"outputFilename,omitempty" yaml:"outputFilename,omitempty"`
	// Verbose allows to print generator debug info
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
	// Metadata load run metadata, values of keys ending with * are masked in reports
	Metadata map[string]string `mapstructure:"metadata,omitempty" yaml:"metadata,omitempty"`
	// DoTimeoutSec attacker.Do() func timeout
	DoTimeoutSec int `mapstructure:"do_timeout_sec" yaml:"do_timeout_sec"`
	// IsValidationRun flag to know it's test run that validates max rps
	IsValidationRun bool `mapstructure:"validation_run" yaml:"validation_run,omitempty"`
	// StopIf describes stop test criteria
	StopIf []Checks `mapstructure:"stop_if" yaml:"stop_if,omitempty"`
	// Validation validation config
	Validation Validation `mapstructure:"validation" yaml:"validation,omitempty"`
}

// Validate checks all settings and returns a list of strings with problems.
func (c RunnerConfig) Validate() (list []string) {
	if c.HandleName == "" {
		list = append(list, "please set the handle name")
	}
	if c.DoTimeoutSec < 0 {
		list = append(list, "please set the Do() timeout to a positive maximum number of seconds")
	}
	switch c.systemMode() {
	case OpenWorldSystem:
		if c.RPS <= 0 {
			list = append(list, "please set the RPS to a positive number of seconds")
		}
		if c.AttackTimeSec < 2 {
			list = append(list, "please set the attack time to a positive number of seconds > 1")
		}
		if c.RampUpTimeSec < 1 {
			list = append(list, "please set the ramp up time to a positive number of seconds > 0")
		}
		if c.RampUpTimeSec >= c.AttackTimeSec && c.AttackTimeSec > 0 {
			list = append(list, "please set the ramp up time lower than the attack time")
		}
		if c.MaxAttackers <= 0 {
			list = append(list, "please set a positive maximum number of attackers")
		}
		switch c.rampupStrategy() {
		case "linear", "exp2":
		default:
			list = append(list, "please set the ramp up strategy to one of {linear,exp2}")
		}
	case ClosedWorldSystem:
		if c.Users <= 0 {
			list = append(list, "please set a positive number of users")
		}
		if c.SpawnRate < 0 {
			list = append(list, "please set the spawn rate to zero or a positive number of users per second")
		}
		if c.Iterations < 0 {
			list = append(list, "please set iterations to zero or a positive number")
		}
		if c.AttackTimeSec < 0 {
			list = append(list, "please set the attack time to zero or a positive number of seconds")
		}
		if c.Iterations == 0 && c.AttackTimeSec == 0 {
			list = append(list, "please set iterations or attack time, otherwise users never stop")
		}
		list = append(list, c.WaitTime.Validate()...)
	default:
		list = append(list, fmt.Sprintf("unknown system_mode %q, possible values are {open,closed}", c.SystemMode))
	}
	for _, ch := range c.StopIf {
		switch ch.Type {
		case errorRatioCheckType, prometheusCheckType:
		default:
			list = append(list, fmt.Sprintf("unknown stop_if type %q", ch.Type))
		}
		if ch.Interval <= 0 {
			list = append(list, "please set stop_if interval to a positive number of seconds")
		}
	}
	return
}

// validateValidation checks the settings of the validation run of a sequence_validate step
func (c RunnerConfig) validateValidation() (list []string) {
	if c.systemMode() != OpenWorldSystem {
		list = append(list, "sequence_validate requires an open system_mode handle")
	}
	if c.Validation.AttackTimeSec < 2 {
		list = append(list, "please set the validation attack time to a positive number of seconds > 1")
	}
	if c.Validation.Threshold <= 0 || c.Validation.Threshold > 1 {
		list = append(list, "please set the validation threshold in (0, 1]")
	}
	return
}

func (c RunnerConfig) systemMode() string {
	if c.SystemMode == "" {
		return OpenWorldSystem
	}
	return c.SystemMode
}

// timeout is in seconds
func (c RunnerConfig) timeout() time.Duration {
	if c.DoTimeoutSec == 0 {
		return defaultDoTimeoutSec * time.Second
	}
	return time.Duration(c.DoTimeoutSec) * time.Second
}

func (c RunnerConfig) rampupStrategy() string {
	if len(c.RampUpStrategy) == 0 {
		return defaultRampupStrategy
	}
	return c.RampUpStrategy
}

// LoadSuiteConfig loads yaml loadtest profile config
func LoadSuiteConfig(cfgPath string) (*SuiteConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read suite config %s: %w", cfgPath, err)
	}
	var suiteCfg *SuiteConfig
	if err := v.Unmarshal(&suiteCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suite config: %w", err)
	}
	if suiteCfg.HttpTimeout == 0 {
		suiteCfg.HttpTimeout = defaultHTTPTimeoutSec
	}
	return suiteCfg, nil
}
