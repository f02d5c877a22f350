package scheduler

import (
	"context"
	"sync"
	"time"

	"subscription_split_bot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PassRunner runs one reminder pass.
type PassRunner interface {
	RunPass(ctx context.Context, now time.Time) (app.PassSummary, error)
}

// PassObserver is told about every finished pass.
type PassObserver interface {
	ObservePass(s app.PassSummary, err error)
}

type NotificationScheduler struct {
	cronEngine   *cron.Cron
	runner       PassRunner
	observer     PassObserver // Optional
	logger       *logrus.Entry
	cronSpecPass string
	passTimeout  time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewNotificationScheduler(
	runner PassRunner,
	observer PassObserver,
	logger *logrus.Entry,
	location *time.Location,
	cronSpecPass string, // e.g., "0 * * * *" (hourly)
	passTimeout time.Duration,
) *NotificationScheduler {
	if location == nil {
		location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationScheduler{
		// SkipIfStillRunning keeps passes of this instance from overlapping; leases cover other instances.
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		runner:       runner,
		observer:     observer,
		logger:       logger.WithField("component", "scheduler"),
		cronSpecPass: cronSpecPass,
		passTimeout:  passTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start registers the pass job and starts the cron engine.
func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecPass, func() {
		s.logger.Info("Cron job triggered for reminder pass.")
		s.RunOnce()
	})
	if err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpecPass).Info("Notification scheduler started.")
	return nil
}

// RunOnce runs a pass now under the pass timeout. Used by the cron job and the /run_pass command.
func (s *NotificationScheduler) RunOnce() (app.PassSummary, error) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.passTimeout)
	defer cancel()

	summary, err := s.runner.RunPass(ctx, time.Now())
	if s.observer != nil {
		s.observer.ObservePass(summary, err)
	}
	if err != nil {
		s.logger.WithError(err).WithField("pass_id", summary.PassID).Error("Reminder pass failed")
	}
	return summary, err
}

// Stop cancels a running pass and waits for the job to return.
func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
