package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/pkg/config"
	"github.com/rxtech-lab/btcusd-dataset/pkg/gap"
	"github.com/rxtech-lab/btcusd-dataset/pkg/pipeline"
	"github.com/rxtech-lab/btcusd-dataset/pkg/publish"
	"github.com/rxtech-lab/btcusd-dataset/pkg/scheduler"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series"
	"github.com/rxtech-lab/btcusd-dataset/pkg/source"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// setup loads the configuration and creates the logger for a command.
func setup(cmd *cli.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}

	log, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return cfg, log, nil
}

type store interface {
	publish.Publisher
	publish.Downloader
}

func newStore(cfg *config.Config, log *logger.Logger) (store, error) {
	switch cfg.Publish.Target {
	case config.TargetLocal:
		return publish.NewLocalStore(cfg.Publish.Dir, cfg.Publish.File, log), nil
	default:
		return publish.NewKaggleClient(cfg.KaggleConfig(), log)
	}
}

// newPipeline wires the configured source and publisher. A nil progress callback
// disables progress reporting.
func newPipeline(cfg *config.Config, log *logger.Logger, progress source.OnFetchProgress) (*pipeline.Pipeline, error) {
	var opts []source.BitstampOption
	if progress != nil {
		opts = append(opts, source.WithProgress(progress))
	}

	provider, err := source.NewBitstampClient(cfg.BitstampConfig(), log, opts...)
	if err != nil {
		return nil, err
	}

	st, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}

	return pipeline.New(provider, st, log, pipeline.WithDownloader(st)), nil
}

func newRunContext(cfg *config.Config, dryRun bool) *pipeline.RunContext {
	rc := pipeline.NewRunContext(cfg.Dataset.Path, time.Now())
	rc.WorkDir = cfg.WorkDir()
	rc.Interval = cfg.Dataset.Interval
	rc.Download = cfg.Dataset.Download
	rc.ParquetPath = cfg.Dataset.Parquet
	rc.DryRun = dryRun

	return rc
}

func newProgressBar() (*progressbar.ProgressBar, source.OnFetchProgress) {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("Fetching candles"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	return bar, func(current, total int64, message string) {
		bar.ChangeMax64(total)
		bar.Set64(current)
		bar.Describe(message)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	var progress source.OnFetchProgress
	if !cmd.Bool("no-progress") {
		var bar *progressbar.ProgressBar
		bar, progress = newProgressBar()
		defer bar.Finish()
	}

	p, err := newPipeline(cfg, log, progress)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, newRunContext(cfg, cmd.Bool("dry-run")))
	if result != nil {
		printResult(cmd, result)
	}

	return err
}

func scheduleAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	p, err := newPipeline(cfg, log, nil)
	if err != nil {
		return err
	}

	s, err := scheduler.New(ctx, cfg.Schedule.Cron, func(ctx context.Context) error {
		rc := newRunContext(cfg, false)

		result, err := p.Run(ctx, rc)
		if result != nil {
			log.Info("Scheduled run result",
				zap.String("run_id", result.RunID),
				zap.Int("inserted", result.Merge.Inserted),
				zap.Bool("published", result.Published),
			)
		}

		return err
	}, log)
	if err != nil {
		return err
	}

	if cfg.Schedule.RunOnStart || cmd.Bool("run-on-start") {
		s.RunNow()
	}

	s.Start()
	<-ctx.Done()
	s.Stop()

	return nil
}

func checkAction(_ context.Context, cmd *cli.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	s, stats, err := series.Load(cfg.Dataset.Path)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	fmt.Fprintf(out, "dataset:    %s\n", cfg.Dataset.Path)
	fmt.Fprintf(out, "rows:       %d (duplicates %d, unsorted %t)\n", stats.Rows, stats.Duplicates, stats.Unsorted)

	window, err := gap.DetectSeries(s, time.Now(), cfg.Dataset.Interval)
	if err != nil {
		return err
	}

	first := s.First().Unwrap()
	last := s.Last().Unwrap()
	fmt.Fprintf(out, "range:      %s .. %s\n", first.Time().Format(time.RFC3339), last.Time().Format(time.RFC3339))
	fmt.Fprintf(out, "pending:    %d buckets\n", window.Buckets(cfg.Dataset.Interval))

	report := gap.Scan(s.Records(), s.Span(cfg.Dataset.Interval), cfg.Dataset.Interval)
	fmt.Fprintf(out, "gaps:       %d (%d missing of %d expected)\n", len(report.Gaps), report.MissingBuckets(), report.Expected)

	const maxListed = 20
	for i, g := range report.Gaps {
		if i == maxListed {
			fmt.Fprintf(out, "  ... %d more\n", len(report.Gaps)-maxListed)

			break
		}

		fmt.Fprintf(out, "  %s .. %s (%d)\n",
			time.Unix(g.From, 0).UTC().Format(time.RFC3339),
			time.Unix(g.To, 0).UTC().Format(time.RFC3339),
			g.Missing)
	}

	return nil
}

func schemaAction(_ context.Context, cmd *cli.Command) error {
	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.Root().Writer, schema)

	return nil
}

func printResult(cmd *cli.Command, result *pipeline.Result) {
	out := cmd.Root().Writer
	fmt.Fprintf(out, "run:        %s\n", result.RunID)
	fmt.Fprintf(out, "window:     [%d, %d)\n", result.Window.Start, result.Window.End)
	fmt.Fprintf(out, "fetched:    %d\n", result.Fetched)
	fmt.Fprintf(out, "merged:     +%d inserted, %d updated, %d skipped\n",
		result.Merge.Inserted, result.Merge.Updated, result.Merge.Skipped)
	fmt.Fprintf(out, "rows:       %d\n", result.Rows)
	fmt.Fprintf(out, "published:  %t\n", result.Published)
	fmt.Fprintf(out, "message:    %s\n", result.Message)
}
