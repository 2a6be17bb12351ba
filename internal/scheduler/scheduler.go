// Package scheduler runs periodic housekeeping jobs for CarPulse.
//
// Jobs are scheduled with cron expressions, such as pruning expired chart
// images hosted for Twilio.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultMediaPruneSchedule prunes hosted media every five minutes.
const DefaultMediaPruneSchedule = "*/5 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field expressions plus descriptors such as @every 1m; panics in jobs are recovered
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a named task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		task()
		slog.Debug("Scheduler job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Debug("Scheduler job added", "job", name, "schedule", expr)
	return nil
}

// Pruner is implemented by stores that drop expired entries.
type Pruner interface {
	Prune() int
}

// AddPruneJob schedules p.Prune and logs how many entries were removed.
func (s *Scheduler) AddPruneJob(name, expr string, p Pruner) error {
	return s.AddJob(name, expr, func() {
		if removed := p.Prune(); removed > 0 {
			slog.Info("Scheduler pruned expired entries", "job", name, "removed", removed)
		}
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
