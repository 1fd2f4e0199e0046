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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// ErrSuiteFailed returned when suite finished but errors, failed checks or degradation were found
var ErrSuiteFailed = errors.New("load suite failed")

type AttackerFactory func(name string) (Attack, error)

type CheckFactory func(name string) RuntimeCheckFunc

type BeforeSuite func(config *GeneratorConfig) error
type AfterSuite func(config *GeneratorConfig) error

// SuiteOptions command line options of a suite run, zero values keep config values
type SuiteOptions struct {
	SuiteConfigPath     string
	GeneratorConfigPath string
	// Target overrides generator.target
	Target string
	// Users overrides users of closed mode handles
	Users int
	// Iterations overrides iterations of closed mode handles
	Iterations int
	// Probe calls every handle attack Probe times and exits without running the suite
	Probe int
	// NoColor disables colors in summary
	NoColor bool
}

// Run default run mode for suite, with degradation checks, exits with non zero code if suite failed
func Run(factory AttackerFactory, checksFactory CheckFactory, beforeSuite BeforeSuite, afterSuite AfterSuite) {
	app := NewSuiteApp(factory, checksFactory, beforeSuite, afterSuite)
	if err := app.Run(os.Args); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// NewSuiteApp creates cli app running the suite built by factories
func NewSuiteApp(factory AttackerFactory, checksFactory CheckFactory, beforeSuite BeforeSuite, afterSuite AfterSuite) *cli.App {
	return &cli.App{
		Name:  "load",
		Usage: "run load suite",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Usage:    "loadtest suite config filepath",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "gen_config",
				Value: "generator.yaml",
				Usage: "generator config filepath",
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "base url of the shop, overrides generator.target",
			},
			&cli.IntFlag{
				Name:  "users",
				Usage: "simulated users of closed mode handles",
			},
			&cli.IntFlag{
				Name:  "iterations",
				Usage: "tasks per user of closed mode handles",
			},
			&cli.IntFlag{
				Name:  "probe",
				Usage: "call every handle attack N times sequentially and exit",
			},
			&cli.BoolFlag{
				Name:  "no_color",
				Usage: "disable summary colors",
			},
		},
		Action: func(c *cli.Context) error {
			_, err := RunWithOptions(c.Context, factory, checksFactory, beforeSuite, afterSuite, SuiteOptions{
				SuiteConfigPath:     c.String("config"),
				GeneratorConfigPath: c.String("gen_config"),
				Target:              c.String("target"),
				Users:               c.Int("users"),
				Iterations:          c.Int("iterations"),
				Probe:               c.Int("probe"),
				NoColor:             c.Bool("no_color"),
			})
			return err
		},
	}
}

// RunWithOptions loads configs, runs the suite and its checks, reports are stored in report dir
func RunWithOptions(
	ctx context.Context,
	factory AttackerFactory,
	checksFactory CheckFactory,
	beforeSuite BeforeSuite,
	afterSuite AfterSuite,
	opts SuiteOptions,
) (*LoadManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	genCfg, err := LoadGeneratorConfig(opts.GeneratorConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Target != "" {
		genCfg.Generator.Target = opts.Target
	}
	if msg := genCfg.Validate(); len(msg) > 0 {
		return nil, fmt.Errorf("generator config errors: %s", strings.Join(msg, "; "))
	}
	suiteCfg, err := LoadSuiteConfig(opts.SuiteConfigPath)
	if err != nil {
		return nil, err
	}
	opts.applyTo(suiteCfg)
	if msg := suiteCfg.Validate(); len(msg) > 0 {
		return nil, fmt.Errorf("suite config errors: %s", strings.Join(msg, "; "))
	}
	lm, err := SuiteFromSteps(factory, checksFactory, suiteCfg, genCfg)
	if err != nil {
		return nil, err
	}
	if opts.Probe > 0 {
		defer lm.Shutdown()
		return lm, probeSuite(lm, opts.Probe)
	}

	ctx, cancel := lm.HandleShutdownSignal(ctx)
	defer cancel()
	if genCfg.Host.CollectMetrics {
		log.Infof("starting host metrics monitor")
		NewHostOSMetrics(genCfg.Host.Name, genCfg.Host.NetworkIface).Watch(ctx, time.Second)
	}
	if beforeSuite != nil {
		if err := beforeSuite(genCfg); err != nil {
			lm.Shutdown()
			return lm, fmt.Errorf("before suite func failed: %w", err)
		}
	}
	runErr := lm.RunSuite(ctx)
	lm.Shutdown()
	if runErr != nil {
		return lm, runErr
	}
	if afterSuite != nil {
		if err := afterSuite(genCfg); err != nil {
			return lm, fmt.Errorf("after suite func failed: %w", err)
		}
	}
	lm.CheckErrors()
	if err := lm.CheckDegradation(); err != nil {
		return lm, err
	}
	if err := lm.StoreHandleReports(); err != nil {
		return lm, err
	}
	lm.ReportsMu.Lock()
	WriteSummary(os.Stdout, lm.Reports, opts.NoColor)
	lm.ReportsMu.Unlock()
	if genCfg.Grafana.URL != "" {
		log.Infof("Grafana test data: %s", TimerangeURL(genCfg, lm.StartedAt, lm.FinishedAt))
		log.Infof("Test time: %s", HumanReadableTestInterval(genCfg.Timezone, lm.StartedAt, lm.FinishedAt))
	}
	failed, validationFailed, degradation := lm.Status()
	if failed || validationFailed || degradation {
		return lm, fmt.Errorf("%w: errors: %t, validation failed: %t, degradation: %t",
			ErrSuiteFailed, failed, validationFailed, degradation)
	}
	return lm, nil
}

func (o SuiteOptions) applyTo(cfg *SuiteConfig) {
	for i := range cfg.Steps {
		for j := range cfg.Steps[i].Handles {
			h := &cfg.Steps[i].Handles[j]
			if h.systemMode() != ClosedWorldSystem {
				continue
			}
			if o.Users > 0 {
				h.Users = o.Users
			}
			if o.Iterations > 0 {
				h.Iterations = o.Iterations
			}
		}
	}
}

func probeSuite(lm *LoadManager, count int) error {
	for _, s := range lm.Steps {
		for _, r := range s.Runners {
			log.Infof("probing handle [%s] %d times", r.Name(), count)
			if _, err := r.Probe(count); err != nil {
				return err
			}
		}
	}
	return nil
}

// SuiteFromSteps create runners for every step
func SuiteFromSteps(factory AttackerFactory, checksFactory CheckFactory, suiteCfg *SuiteConfig, genCfg *GeneratorConfig) (*LoadManager, error) {
	lm, err := NewLoadManager(suiteCfg, genCfg)
	if err != nil {
		return nil, err
	}
	for _, step := range lm.SuiteConfig.Steps {
		runners := make([]*Runner, 0)
		for _, handle := range step.Handles {
			a, err := factory(handle.HandleName)
			if err != nil {
				lm.Shutdown()
				return nil, err
			}
			var check RuntimeCheckFunc
			if checksFactory != nil {
				check = checksFactory(handle.HandleName)
			}
			r, err := NewRunner(handle.HandleName, lm, a, check, handle)
			if err != nil {
				lm.Shutdown()
				return nil, err
			}
			runners = append(runners, r)
		}
		lm.Steps = append(lm.Steps, RunStep{
			Name:          step.Name,
			ExecutionMode: step.ExecutionMode,
			Runners:       runners,
		})
	}
	return lm, nil
}
