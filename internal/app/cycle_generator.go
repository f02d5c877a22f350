// internal/app/cycle_generator.go
package app

import (
	"context"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GenerateResult lists the cycles created by one Generate call.
type GenerateResult struct {
	Created []*billing.Cycle
}

// CycleGenerator materializes the billing cycles of a project up to the horizon.
type CycleGenerator struct {
	cycles   billing.CycleRepository
	projects billing.ProjectRepository
	log      *logrus.Entry
}

func NewCycleGenerator(cycles billing.CycleRepository, projects billing.ProjectRepository, log *logrus.Entry) *CycleGenerator {
	return &CycleGenerator{
		cycles:   cycles,
		projects: projects,
		log:      log.WithField("component", "cycle_generator"),
	}
}

// Generate creates the missing cycles whose due date falls between max(anchor, today) and
// that date plus horizon months, both inclusive. Periods already behind today are never
// backfilled. Running it twice creates nothing the second time.
func (g *CycleGenerator) Generate(ctx context.Context, cfg reminder.Config, project *billing.Project, now time.Time) (GenerateResult, error) {
	var res GenerateResult
	if cfg.HorizonMonths <= 0 {
		return res, &reminder.ConfigError{Field: "generation_horizon_months", Reason: "must be positive"}
	}
	if !project.Frequency.Valid() {
		return res, fmt.Errorf("project %d: %w", project.ID, &reminder.ConfigError{Field: "frequency", Reason: fmt.Sprintf("unknown value %q", project.Frequency)})
	}

	today := cfg.Today(now)
	anchor := billing.DateOnly(project.AnchorDate, cfg.Location)
	start := today
	if anchor.After(start) {
		start = anchor
	}
	horizon := billing.AddMonths(start, cfg.HorizonMonths)

	share, err := g.share(ctx, project)
	if err != nil {
		return res, err
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		due, err := project.Frequency.DueDate(anchor, n)
		if err != nil {
			return res, err
		}
		if due.After(horizon) {
			break
		}
		if due.Before(start) {
			continue
		}

		c := &billing.Cycle{
			ProjectID:   project.ID,
			DueDate:     due,
			TotalAmount: project.Cost,
			ShareAmount: share,
		}
		created, err := g.cycles.CreateIfAbsent(ctx, c)
		if err != nil {
			return res, fmt.Errorf("failed to create cycle due %s: %w", due.Format("2006-01-02"), err)
		}
		if created {
			res.Created = append(res.Created, c)
			g.log.WithFields(logrus.Fields{
				"project_id": project.ID,
				"cycle_id":   c.ID,
				"due_date":   due.Format("2006-01-02"),
			}).Info("Billing cycle created")
		}
	}
	return res, nil
}

// share splits the cost across everyone on the project, owner included.
func (g *CycleGenerator) share(ctx context.Context, project *billing.Project) (decimal.Decimal, error) {
	recipients, err := g.projects.ListRecipients(ctx, project.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list recipients for project %d: %w", project.ID, err)
	}
	if len(recipients) == 0 {
		return project.Cost.Round(2), nil
	}
	return project.Cost.Div(decimal.NewFromInt(int64(len(recipients)))).Round(2), nil
}
