package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rxtech-lab/btcusd-dataset/internal/version"
	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "updater",
		Usage:   "Keep the BTC/USD minute dataset up to date",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration `FILE`",
				Value:   "updater.yaml",
				Sources: cli.EnvVars("UPDATER_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a single update now",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Merge and save locally without publishing",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the progress bar",
					},
				},
				Action: runAction,
			},
			{
				Name:  "schedule",
				Usage: "Run updates on the configured cron schedule until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "run-on-start",
						Usage: "Run once immediately after starting",
					},
				},
				Action: scheduleAction,
			},
			{
				Name:   "check",
				Usage:  "Report the fetch window and internal gaps of the local dataset",
				Action: checkAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the configuration file",
				Action: schemaAction,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
