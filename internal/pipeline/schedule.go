package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"eventletter/internal/categorize"
	appLog "eventletter/internal/log"
)

// Scheduler triggers full runs on the configured cron expression.
type Scheduler struct {
	p    *Pipeline
	cron *cron.Cron
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler parses expr as a standard 5-field cron expression.
func NewScheduler(p *Pipeline, expr string) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{p: p, cron: c, now: time.Now}
	if _, err := c.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start begins firing; runs stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		appLog.Info("scheduled runs enabled", "next", e.Next.Format(time.RFC3339))
	}
}

// Stop waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.RunOnce(ctx); err != nil {
		appLog.Error("scheduled run failed", err)
	}
}

// RunOnce performs what a scheduled tick does: scrape the next
// schedule_days days, categorize with the environment credential, render.
// The credential is read on every run so a rotated key is picked up.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cred, err := EnvCredential(s.p.cfg)
	if err != nil {
		return err
	}
	r := Window(s.now(), s.p.cfg.ScheduleDays)
	appLog.Info("scheduled run started",
		"start", r.Start.Format(time.DateOnly),
		"end", r.End.Format(time.DateOnly),
	)
	rep, err := s.p.Run(ctx, cred, r, categorize.RunOptions{})
	if errors.Is(err, ErrBusy) {
		appLog.Warn("scheduled run skipped, another stage is running")
		return nil
	}
	if err != nil {
		return err
	}
	appLog.Info("scheduled run finished",
		"events", rep.Events,
		"run_id", rep.Categorize.RunID,
		"newsletter", rep.NewsletterPath,
	)
	return nil
}
