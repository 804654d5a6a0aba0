package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"parkwatch/internal/config"
	"parkwatch/internal/logging"
)

const (
	prewarmAhead   = 5 * time.Minute
	prewarmTimeout = 30 * time.Second
)

// Prewarmer refreshes a credential before it expires.
type Prewarmer interface {
	Prewarm(ctx context.Context, ahead time.Duration) error
}

// Sweeper drops finished entries from a registry.
type Sweeper interface {
	Sweep() int
}

// JobService runs the periodic maintenance jobs.
type JobService struct {
	cron    *cron.Cron
	prewarm Prewarmer
	sweeper Sweeper
	log     *logging.Logger
}

func NewJobService(prewarm Prewarmer, sweeper Sweeper, log *logging.Logger) *JobService {
	l := log.With("component", "jobs")
	cl := cronLogger{l}
	return &JobService{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		prewarm: prewarm,
		sweeper: sweeper,
		log:     l,
	}
}

// PrewarmCredential refreshes the provider credential when it is about to
// expire, so user queries do not pay for the exchange.
func (s *JobService) PrewarmCredential() error {
	ctx, cancel := context.WithTimeout(context.Background(), prewarmTimeout)
	defer cancel()
	if err := s.prewarm.Prewarm(ctx, prewarmAhead); err != nil {
		return fmt.Errorf("cron job: credential prewarm failed: %w", err)
	}
	return nil
}

// SweepMonitors removes monitors past their retention period.
func (s *JobService) SweepMonitors() int {
	return s.sweeper.Sweep()
}

// Schedule registers both jobs with the given cron specs. An empty spec
// disables that job.
func (s *JobService) Schedule(cfg config.JobsConfig) error {
	if cfg.CredentialPrewarm != "" {
		_, err := s.cron.AddFunc(cfg.CredentialPrewarm, func() {
			if err := s.PrewarmCredential(); err != nil {
				s.log.Error("job failed", "job", "credential_prewarm", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling credential prewarm %q: %w", cfg.CredentialPrewarm, err)
		}
	}
	if cfg.MonitorSweep != "" {
		_, err := s.cron.AddFunc(cfg.MonitorSweep, func() {
			if n := s.SweepMonitors(); n > 0 {
				s.log.Info("job finished", "job", "monitor_sweep", "removed", n)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling monitor sweep %q: %w", cfg.MonitorSweep, err)
		}
	}
	return nil
}

func (s *JobService) Entries() int {
	return len(s.cron.Entries())
}

func (s *JobService) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (s *JobService) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(keysAndValues, "error", err)...)
}
