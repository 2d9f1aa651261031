package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rxtech-lab/btcusd-dataset/internal/logger"
	"github.com/rxtech-lab/btcusd-dataset/pkg/errors"
	"go.uber.org/zap"
)

// Job is one update run.
type Job func(ctx context.Context) error

// Scheduler triggers a Job on a cron schedule and on demand.
// At most one run is active at a time; triggers that fire during a run are skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	job     Job
	ctx     context.Context
	running sync.Mutex
	logger  *logger.Logger
}

// New creates a Scheduler running job on spec, a six-field cron expression with seconds.
// ctx is passed to every run and cancels runs in flight when done.
func New(ctx context.Context, spec string, job Job, log *logger.Logger) (*Scheduler, error) {
	log = log.Named("scheduler")
	cronLog := cronLogger{log: log}

	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		job:    job,
		ctx:    ctx,
		logger: log,
	}

	entry, err := s.cron.AddFunc(spec, func() { s.trigger("cron") })
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid cron expression %q", spec)
	}

	s.entry = entry

	return s, nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Time("next", s.Next()))
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Next returns the next scheduled activation, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow executes the job immediately in the calling goroutine.
// It reports false when another run was active and this trigger was skipped.
func (s *Scheduler) RunNow() bool {
	return s.trigger("manual")
}

func (s *Scheduler) trigger(source string) bool {
	if !s.running.TryLock() {
		s.logger.Warn("Run still active, skipping trigger", zap.String("trigger", source))

		return false
	}
	defer s.running.Unlock()

	if err := s.ctx.Err(); err != nil {
		s.logger.Warn("Scheduler context done, skipping trigger", zap.String("trigger", source), zap.Error(err))

		return false
	}

	started := time.Now()
	s.logger.Info("Run triggered", zap.String("trigger", source))

	if err := s.job(s.ctx); err != nil {
		s.logger.Error("Run failed",
			zap.String("trigger", source),
			zap.Int("code", int(errors.GetCode(err))),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)

		return true
	}

	s.logger.Info("Run finished", zap.String("trigger", source), zap.Duration("elapsed", time.Since(started)))

	return true
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
