package main

import (
	"fmt"
	"log"
	"os"

	"github.com/skudasov/shopload"
	"github.com/urfave/cli/v2"
)

func generatorConfig(c *cli.Context) (*shopload.GeneratorConfig, error) {
	return shopload.LoadGeneratorConfig(c.String("gen_config"))
}

func main() {
	app := &cli.App{
		Name:  "shopcli",
		Usage: "scaffold, build and run shop load suites",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gen_config",
				Value: "generator.yaml",
				Usage: "generator config filepath",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Aliases:   []string{"b"},
				Usage:     "build load test for specified platform",
				ArgsUsage: "<linux|darwin>",
				Action: func(c *cli.Context) error {
					cfg, err := generatorConfig(c)
					if err != nil {
						return err
					}
					return shopload.BuildSuiteCommand(cfg.LoadScriptsDir, c.Args().Get(0))
				},
			},
			{
				Name:      "new",
				Aliases:   []string{"n"},
				Usage:     "generates GET task code for a new label",
				ArgsUsage: "<label> <path>",
				Action: func(c *cli.Context) error {
					cfg, err := generatorConfig(c)
					if err != nil {
						return err
					}
					return shopload.GenerateNewTestCommand(cfg.LoadScriptsDir, cfg.RootPackageName, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "run built load test suite",
				ArgsUsage: "<suite.yaml>",
				Action: func(c *cli.Context) error {
					suiteCfg := c.Args().Get(0)
					if suiteCfg == "" {
						return fmt.Errorf("path to load suite config must be specified")
					}
					return shopload.RunSuiteCommand(suiteCfg, c.String("gen_config"))
				},
			},
			{
				Name:      "dashboard",
				Aliases:   []string{"d"},
				Usage:     "regenerate & upload grafana dashboard",
				ArgsUsage: "<suite.yaml>",
				Action: func(c *cli.Context) error {
					cfg, err := generatorConfig(c)
					if err != nil {
						return err
					}
					suite, err := shopload.LoadSuiteConfig(c.Args().Get(0))
					if err != nil {
						return err
					}
					return shopload.UploadGrafanaDashboard(cfg, suite)
				},
			},
			{
				Name:      "scaling_report",
				Aliases:   []string{"sr"},
				Usage:     "plot scaling report",
				ArgsUsage: "<scaling.csv> <report.png>",
				Action: func(c *cli.Context) error {
					inputCSV := c.Args().Get(0)
					outputPNG := c.Args().Get(1)
					if inputCSV == "" || outputPNG == "" {
						return fmt.Errorf("usage: provide scaling csv file, and png name, ex: scaling.csv report.png")
					}
					return shopload.ReportScaling(inputCSV, outputPNG)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
