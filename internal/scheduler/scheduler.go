// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type Recorder interface {
	ObserveJobSkipped(job string)
}

type entry struct {
	spec string
	job  Job
	id   cron.EntryID
}

// Scheduler runs named jobs on cron specs. Overlapping runs of the same job are
// skipped both inside the process (cron.SkipIfStillRunning) and across processes
// (a single-try job lock).
type Scheduler struct {
	cron     *cron.Cron
	locker   lock.Locker
	recorder Recorder
	timeout  time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	jobs map[string]*entry
	ctx  context.Context
}

func New(loc *time.Location, locker lock.Locker, recorder Recorder, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:   locker,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger,
		jobs:     make(map[string]*entry),
		ctx:      context.Background(),
	}
}

// Register adds a job. An empty spec registers it for on-demand runs only.
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: job %s already registered", xerrors.ErrConflict, name)
	}
	e := &entry{spec: spec, job: job}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() {
			if err := s.RunNow(s.baseContext(), name); err != nil && !errors.Is(err, xerrors.ErrLockBusy) {
				s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("%w: invalid schedule %q for job %s: %v", xerrors.ErrInvalidInput, spec, name, err)
		}
		e.id = id
	}
	s.jobs[name] = e
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a job immediately under its job lock. It returns xerrors.ErrLockBusy
// when another run holds the lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", name, xerrors.ErrNotFound)
	}

	release, err := s.locker.Acquire(ctx, lock.JobKey(name))
	if err != nil {
		if errors.Is(err, xerrors.ErrLockBusy) {
			s.logger.Info("job already running elsewhere, skipping", zap.String("job", name))
			if s.recorder != nil {
				s.recorder.ObserveJobSkipped(name)
			}
		}
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	s.logger.Info("job started", zap.String("job", name))
	err = e.job(ctx)
	s.logger.Info("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(started)),
		zap.Bool("ok", err == nil),
	)
	return err
}

// Start begins firing scheduled jobs. ctx is the parent of every scheduled run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, name := range s.Jobs() {
		s.mu.Lock()
		e := s.jobs[name]
		s.mu.Unlock()
		if e.spec == "" {
			continue
		}
		s.logger.Info("job scheduled",
			zap.String("job", name),
			zap.String("spec", e.spec),
			zap.Time("next", s.cron.Entry(e.id).Next),
		)
	}
}

// Stop stops the scheduler and waits up to timeout for running jobs.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
