// internal/app/cycle_archiver.go
package app

import (
	"context"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// CycleArchiver retires cycles that fell behind the archiving cutoff.
type CycleArchiver struct {
	cycles   billing.CycleRepository
	payments billing.PaymentRepository
	log      *logrus.Entry
}

func NewCycleArchiver(cycles billing.CycleRepository, payments billing.PaymentRepository, log *logrus.Entry) *CycleArchiver {
	return &CycleArchiver{
		cycles:   cycles,
		payments: payments,
		log:      log.WithField("component", "cycle_archiver"),
	}
}

// Archive archives the project's cycles due before today minus ArchiveAfterMonths and returns
// how many it archived. A cycle with a payment awaiting confirmation is left alone.
func (a *CycleArchiver) Archive(ctx context.Context, cfg reminder.Config, project *billing.Project, now time.Time) (int, error) {
	if cfg.ArchiveAfterMonths <= 0 {
		return 0, &reminder.ConfigError{Field: "archive_after_months", Reason: "must be positive"}
	}
	cutoff := billing.AddMonths(cfg.Today(now), -cfg.ArchiveAfterMonths)

	cycles, err := a.cycles.ListByProject(ctx, project.ID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list cycles for project %d: %w", project.ID, err)
	}

	archived := 0
	for _, c := range cycles {
		if !c.DueDate.Before(cutoff) {
			continue
		}
		pending, err := a.payments.HasPending(ctx, c.ID)
		if err != nil {
			return archived, err
		}
		if pending {
			a.log.WithFields(logrus.Fields{"project_id": project.ID, "cycle_id": c.ID}).Debug("Cycle awaits payment confirmation, not archiving")
			continue
		}
		ok, err := a.cycles.Archive(ctx, c.ID, now)
		if err != nil {
			return archived, err
		}
		if ok {
			archived++
			c.ArchivedAt.Time, c.ArchivedAt.Valid = now, true
			a.log.WithFields(logrus.Fields{"project_id": project.ID, "cycle_id": c.ID}).Info("Billing cycle archived")
		}
	}
	return archived, nil
}
