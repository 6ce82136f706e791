package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the background jobs: the idle-session reaper and the
// weekly knowledge-gap report.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	reaperSpec string
	reportSpec string
	reaperFunc func() int
	reportFunc func(ctx context.Context) error
}

// New creates a scheduler pinned to the given timezone. The report spec
// is evaluated in that zone so "Monday 09:00" means local admin time.
func New(loc *time.Location, reaperSpec, reportSpec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		ctx:        ctx,
		cancel:     cancel,
		reaperSpec: reaperSpec,
		reportSpec: reportSpec,
	}
}

// SetReaperFunction sets the idle-session sweep. It returns the number of
// sessions expired.
func (s *Scheduler) SetReaperFunction(f func() int) {
	s.reaperFunc = f
}

// SetReportFunction sets the weekly gap report job.
func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.reaperFunc != nil {
		_, err := s.cron.AddFunc(s.reaperSpec, func() {
			if n := s.reaperFunc(); n > 0 {
				log.Printf("🧹 Reaper expired %d idle sessions", n)
			}
		})
		if err != nil {
			return err
		}
	} else {
		log.Println("⚠️ Reaper function not set, idle sessions will not expire")
	}

	if s.reportFunc != nil {
		_, err := s.cron.AddFunc(s.reportSpec, func() {
			log.Println("🕘 Triggered weekly gap report generation")
			if err := s.reportFunc(s.ctx); err != nil {
				log.Printf("❌ Gap report generation failed: %v", err)
			}
		})
		if err != nil {
			return err
		}
	} else {
		log.Println("⚠️ Report function not set, scheduler will not generate reports")
	}

	s.cron.Start()
	log.Printf("📅 Scheduler started - reaper %q, gap report %q", s.reaperSpec, s.reportSpec)
	return nil
}

// Stop halts the cron loop, waiting for any running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("📅 Scheduler stopped")
}

// IsRunning reports whether any jobs are registered and scheduled.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
