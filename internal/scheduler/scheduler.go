// Package scheduler wires up the cron jobs that maintain the establishment
// store: searchability re-enabling, job-board crawl and update suggestions.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one maintenance task and the cron spec it fires on.
type Job struct {
	Name string
	Spec string // cron spec, e.g. "@every 6h"
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig/cron. A job still running when its next tick
// fires is skipped, including its startup run.
type Scheduler struct {
	cron    *cron.Cron
	chain   cron.Chain
	jobs    []Job
	startup sync.WaitGroup
	logger  *zap.Logger
}

// New returns a Scheduler for jobs. Nothing runs until Start.
func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl)),
		chain:  cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		jobs:   jobs,
		logger: logger,
	}
}

// Start registers the jobs and starts the scheduler. Also runs every job
// once immediately so the store is maintained without waiting for the
// first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	wrapped := make([]cron.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		schedule, err := cron.ParseStandard(job.Spec)
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		// The same wrapped job serves ticks and the startup run so they
		// share the SkipIfStillRunning guard.
		w := s.chain.Then(cron.FuncJob(func() { s.run(ctx, job) }))
		s.cron.Schedule(schedule, w)
		wrapped = append(wrapped, w)
	}

	s.cron.Start()
	s.logger.Info("cron started", zap.Int("jobs", len(s.jobs)))

	s.startup.Add(1)
	go func() {
		defer s.startup.Done()
		for _, w := range wrapped {
			w.Run()
		}
	}()
	return nil
}

// Stop gracefully shuts down the scheduler and waits for running jobs,
// startup runs included.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.startup.Wait()
	s.logger.Info("cron stopped")
}

// Run executes the named job once, synchronously.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name
	}
	return names
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("job started", zap.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.logger.Info("job complete", zap.String("job", job.Name))
}

// cronLogger routes robfig/cron logs to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

// Info implements cron.Logger at debug level.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

// Error implements cron.Logger.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
