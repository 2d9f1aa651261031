package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/internal/types"
	"github.com/rxtech-lab/btcusd-dataset/internal/version"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"github.com/rxtech-lab/btcusd-dataset/pkg/gap"
	"github.com/rxtech-lab/btcusd-dataset/pkg/merge"
	"github.com/rxtech-lab/btcusd-dataset/pkg/publish"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series"
	"github.com/rxtech-lab/btcusd-dataset/pkg/series/writer"
	"github.com/rxtech-lab/btcusd-dataset/pkg/source"
	"go.uber.org/zap"
)

// Result summarizes a run.
type Result struct {
	RunID     string
	Window    types.FetchWindow
	Fetched   int
	Merge     merge.Stats
	Integrity gap.Report
	Rows      int
	Last      optional.Option[types.Record]
	// Saved reports whether the dataset file was rewritten.
	Saved       bool
	ParquetPath string
	Published   bool
	Message     string
}

// Pipeline sequences download, load, detect, fetch, merge, save and publish.
// Any error before publish leaves the published dataset untouched.
type Pipeline struct {
	provider   source.Provider
	publisher  publish.Publisher
	downloader publish.Downloader
	merger     *merge.Merger
	logger     *logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDownloader sets the downloader used when RunContext.Download is set.
func WithDownloader(d publish.Downloader) Option {
	return func(p *Pipeline) {
		p.downloader = d
	}
}

// New creates a Pipeline fetching from provider and publishing through publisher.
func New(provider source.Provider, publisher publish.Publisher, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider:   provider,
		publisher:  publisher,
		downloader: nil,
		merger:     merge.NewMerger(log),
		logger:     log.Named("pipeline"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run executes one update. The returned Result is non-nil whenever the merge step
// completed, including when publishing failed.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	if rc == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "run context is required")
	}

	log := p.logger.WithFields(zap.String("run_id", rc.RunID))
	started := time.Now()

	datasetPath := rc.DatasetPath

	if rc.Download {
		if p.downloader == nil {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "download requested but no downloader configured")
		}

		path, err := p.downloader.Download(ctx, rc.WorkDir)
		if err != nil {
			return nil, err
		}

		log.Info("Downloaded published dataset", zap.String("path", path))
		datasetPath = path
	}

	s, loadStats, err := series.Load(datasetPath)
	if err != nil {
		return nil, err
	}

	if loadStats.Repaired() {
		log.Warn("Repaired persisted dataset",
			zap.Int("duplicates", loadStats.Duplicates),
			zap.Bool("unsorted", loadStats.Unsorted),
			zap.Int("float_timestamps", loadStats.FloatTimestamps),
		)
	}

	window, err := gap.DetectSeries(s, rc.Now, rc.Interval)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:  rc.RunID,
		Window: window,
	}

	log.Info("Detected fetch window",
		zap.String("path", datasetPath),
		zap.Int("rows", s.Len()),
		zap.Int64("start", window.Start),
		zap.Int64("end", window.End),
		zap.Int64("buckets", window.Buckets(rc.Interval)),
	)

	if !window.Empty() {
		raw, err := p.provider.Fetch(ctx, window)
		if err != nil {
			return nil, err
		}

		result.Fetched = len(raw)

		stats, err := p.merger.Merge(s, raw)
		if err != nil {
			return nil, err
		}

		result.Merge = stats

		result.Integrity = gap.Scan(s.Records(), window, rc.Interval)
		if !result.Integrity.Complete() {
			log.Warn("Upstream is missing buckets in the fetched window",
				zap.Int("gaps", len(result.Integrity.Gaps)),
				zap.Int64("missing", result.Integrity.MissingBuckets()),
			)
		}
	} else {
		log.Info("Dataset is up to date, nothing to fetch")
	}

	// A repaired load is written back even when nothing new was merged.
	if result.Merge.Changed() || loadStats.Repaired() {
		if err := s.Save(datasetPath); err != nil {
			return nil, err
		}

		result.Saved = true
	}

	files := []string{datasetPath}

	if rc.ParquetPath != "" {
		if err := s.WriteTo(writer.NewDuckDBWriter(rc.ParquetPath)); err != nil {
			return nil, err
		}

		result.ParquetPath = rc.ParquetPath
		files = append(files, rc.ParquetPath)
	}

	result.Rows = s.Len()
	result.Last = s.Last()
	result.Message = Message(rc.Now, result.Merge.Inserted, result.Last, version.GetVersion())

	if rc.DryRun {
		log.Info("Dry run, skipping publish", zap.String("message", result.Message))

		return result, nil
	}

	if err := p.publisher.Publish(ctx, publish.Request{Files: files, Message: result.Message}); err != nil {
		log.Error("Publish failed, merged dataset kept locally",
			zap.String("path", datasetPath),
			zap.Error(err),
		)

		return result, errors.Wrapf(errors.ErrCodePublishFailed, err, "failed to publish via %s", p.publisher.Name())
	}

	result.Published = true

	log.Info("Run completed",
		zap.String("source", p.provider.Name()),
		zap.String("publisher", p.publisher.Name()),
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", result.Merge.Inserted),
		zap.Int("updated", result.Merge.Updated),
		zap.Int("skipped", result.Merge.Skipped),
		zap.Int("rows", result.Rows),
		zap.Duration("elapsed", time.Since(started)),
	)

	return result, nil
}

// Message renders the version note for a publish.
func Message(now time.Time, inserted int, last optional.Option[types.Record], version string) string {
	lastText := "none"
	if last.IsSome() {
		lastText = last.Unwrap().Time().Format(time.RFC3339)
	}

	return fmt.Sprintf("Automated update %s: +%d rows (last %s) [%s]",
		now.UTC().Format(time.DateOnly), inserted, lastText, version)
}
