// internal/app/reminder_scheduler.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrLeaseHeld means another worker is processing the same project.
var ErrLeaseHeld = errors.New("lease is held by another worker")

// Locker hands out short leases so a project is processed by one pass at a time.
type Locker interface {
	// TryLock returns a release func, or ErrLeaseHeld when the key is taken.
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// CycleObserver is told about cycles a pass created.
type CycleObserver interface {
	CyclesCreated(ctx context.Context, project *billing.Project, cycles []*billing.Cycle)
}

// PassSummary reports one scheduler pass.
type PassSummary struct {
	PassID            string
	StartedAt         time.Time
	FinishedAt        time.Time
	ProjectsProcessed int
	ProjectsSkipped   int // Lease held by a concurrent pass
	ProjectsFailed    int
	CyclesCreated     int
	CyclesArchived    int
	NotificationsSent int
	// NotificationsFailed counts dispatches that reached no channel.
	NotificationsFailed int
	PairsFailed         int
}

func (s *PassSummary) add(o PassSummary) {
	s.ProjectsProcessed += o.ProjectsProcessed
	s.ProjectsSkipped += o.ProjectsSkipped
	s.ProjectsFailed += o.ProjectsFailed
	s.CyclesCreated += o.CyclesCreated
	s.CyclesArchived += o.CyclesArchived
	s.NotificationsSent += o.NotificationsSent
	s.NotificationsFailed += o.NotificationsFailed
	s.PairsFailed += o.PairsFailed
}

// SchedulerOptions tunes pass parallelism.
type SchedulerOptions struct {
	ProjectWorkers int
	PairWorkers    int
	LeaseTTL       time.Duration
}

// ReminderScheduler runs passes: generation, archiving and escalation for every active project.
type ReminderScheduler struct {
	projects   billing.ProjectRepository
	cycles     billing.CycleRepository
	payments   billing.PaymentRepository
	generator  *CycleGenerator
	archiver   *CycleArchiver
	engine     *EscalationEngine
	dispatcher *NotificationDispatcher
	config     ConfigSource
	locker     Locker
	observer   CycleObserver
	opts       SchedulerOptions
	log        *logrus.Entry
}

func NewReminderScheduler(
	projects billing.ProjectRepository,
	cycles billing.CycleRepository,
	payments billing.PaymentRepository,
	generator *CycleGenerator,
	archiver *CycleArchiver,
	engine *EscalationEngine,
	dispatcher *NotificationDispatcher,
	config ConfigSource,
	locker Locker,
	observer CycleObserver,
	opts SchedulerOptions,
	log *logrus.Entry,
) *ReminderScheduler {
	if opts.ProjectWorkers <= 0 {
		opts.ProjectWorkers = 4
	}
	if opts.PairWorkers <= 0 {
		opts.PairWorkers = 8
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	return &ReminderScheduler{
		projects:   projects,
		cycles:     cycles,
		payments:   payments,
		generator:  generator,
		archiver:   archiver,
		engine:     engine,
		dispatcher: dispatcher,
		config:     config,
		locker:     locker,
		observer:   observer,
		opts:       opts,
		log:        log.WithField("component", "reminder_scheduler"),
	}
}

// RunPass processes every active project once. A project failure is logged and counted,
// never propagated; the error is only for failures that stop the whole pass.
func (s *ReminderScheduler) RunPass(ctx context.Context, now time.Time) (PassSummary, error) {
	summary := PassSummary{PassID: uuid.NewString(), StartedAt: time.Now()}
	log := s.log.WithField("pass_id", summary.PassID)

	cfg := s.config.Current()
	if err := cfg.Validate(); err != nil {
		return summary, err
	}

	projects, err := s.projects.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list active projects: %w", err)
	}
	log.WithField("projects", len(projects)).Info("Reminder pass started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.ProjectWorkers)
	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := s.runProject(ctx, log, cfg, p, now)
			mu.Lock()
			summary.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = time.Now()
	log.WithFields(logrus.Fields{
		"processed":            summary.ProjectsProcessed,
		"skipped":              summary.ProjectsSkipped,
		"failed":               summary.ProjectsFailed,
		"cycles_created":       summary.CyclesCreated,
		"cycles_archived":      summary.CyclesArchived,
		"notifications_sent":   summary.NotificationsSent,
		"notifications_failed": summary.NotificationsFailed,
		"duration":             summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("Reminder pass finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *ReminderScheduler) runProject(ctx context.Context, log *logrus.Entry, cfg reminder.Config, p *billing.Project, now time.Time) PassSummary {
	var res PassSummary
	log = log.WithField("project_id", p.ID)

	release, err := s.locker.TryLock(ctx, fmt.Sprintf("project:%d", p.ID), s.opts.LeaseTTL)
	if errors.Is(err, ErrLeaseHeld) {
		log.Debug("Project is being processed by another pass, skipping")
		res.ProjectsSkipped = 1
		return res
	}
	if err != nil {
		log.WithError(err).Error("Failed to take project lease")
		res.ProjectsFailed = 1
		return res
	}
	defer func() {
		// Released on a fresh context so a cancelled pass still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.WithError(err).Warn("Failed to release project lease")
		}
	}()

	if err := s.processProject(ctx, log, cfg, p, now, &res); err != nil {
		if errors.Is(err, reminder.ErrConfigInvalid) {
			log.WithError(err).Error("Project configuration is invalid, skipping until fixed")
		} else {
			log.WithError(err).Error("Project processing failed")
		}
		res.ProjectsFailed = 1
		return res
	}
	res.ProjectsProcessed = 1
	return res
}

func (s *ReminderScheduler) processProject(ctx context.Context, log *logrus.Entry, cfg reminder.Config, p *billing.Project, now time.Time, res *PassSummary) error {
	th, err := cfg.ForProject(p)
	if err != nil {
		return err
	}

	if cfg.GenerationEnabled {
		gen, err := s.generator.Generate(ctx, cfg, p, now)
		res.CyclesCreated += len(gen.Created)
		if len(gen.Created) > 0 && s.observer != nil {
			s.observer.CyclesCreated(ctx, p, gen.Created)
		}
		if err != nil {
			return fmt.Errorf("cycle generation: %w", err)
		}
	}

	if cfg.ArchivingEnabled {
		n, err := s.archiver.Archive(ctx, cfg, p, now)
		res.CyclesArchived += n
		if err != nil {
			return fmt.Errorf("cycle archiving: %w", err)
		}
	}

	if !cfg.RemindersEnabled {
		return nil
	}
	return s.remindProject(ctx, log, cfg, th, p, now, res)
}

// remindProject steps every open (cycle, debtor) pair. Pair failures are counted, not returned.
func (s *ReminderScheduler) remindProject(ctx context.Context, log *logrus.Entry, cfg reminder.Config, th reminder.Thresholds, p *billing.Project, now time.Time, res *PassSummary) error {
	recipients, err := s.projects.ListRecipients(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	debtors := billing.Debtors(recipients)
	if len(debtors) == 0 {
		return nil
	}

	cycles, err := s.cycles.ListByProject(ctx, p.ID, false)
	if err != nil {
		return fmt.Errorf("failed to list cycles: %w", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.PairWorkers)
	for _, c := range cycles {
		if !c.Open() {
			continue
		}
		held, err := s.paymentHolds(ctx, c.ID)
		if err != nil {
			_ = g.Wait()
			return err
		}
		for _, r := range debtors {
			if held[r.ID] {
				continue
			}
			g.Go(func() error {
				sent, failed, err := s.remindPair(ctx, cfg, th, p, c, r, now)
				mu.Lock()
				defer mu.Unlock()
				res.NotificationsSent += sent
				res.NotificationsFailed += failed
				if err != nil {
					res.PairsFailed++
					log.WithError(err).WithFields(logrus.Fields{"cycle_id": c.ID, "recipient_id": r.ID}).Error("Reminder evaluation failed")
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// paymentHolds returns the recipients who must not be reminded about the cycle: those with a
// payment the owner has not resolved yet, and those whose payment is confirmed even if their
// reminder state was never frozen.
func (s *ReminderScheduler) paymentHolds(ctx context.Context, cycleID int64) (map[int64]bool, error) {
	payments, err := s.payments.ListByCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for cycle %d: %w", cycleID, err)
	}
	out := make(map[int64]bool)
	for _, pm := range payments {
		if pm.Status == billing.PaymentStatusPending || pm.Status == billing.PaymentStatusConfirmed {
			out[pm.RecipientID] = true
		}
	}
	return out, nil
}

func (s *ReminderScheduler) remindPair(
	ctx context.Context,
	cfg reminder.Config,
	th reminder.Thresholds,
	p *billing.Project,
	c *billing.Cycle,
	r *billing.Recipient,
	now time.Time,
) (sent, failed int, err error) {
	tr, err := s.engine.Step(ctx, cfg, th, c, r.ID, now)
	if err != nil || tr == nil {
		return 0, 0, err
	}

	dr := s.dispatcher.Dispatch(ctx, cfg, tr, p, c, r, now)
	if dr.Delivered {
		sent = 1
	} else {
		failed = 1
	}
	// Recorded even when the pass is being cancelled, so a delivered message is not sent twice.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.engine.RecordDelivery(recordCtx, tr, dr, now); err != nil {
		return sent, failed, err
	}
	return sent, failed, nil
}
