// internal/infra/database/postgres_cycle_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
)

var ErrCycleNotFound = fmt.Errorf("billing cycle not found")

type PostgresCycleRepository struct {
	db *sql.DB
}

func NewPostgresCycleRepository(db *sql.DB) *PostgresCycleRepository {
	return &PostgresCycleRepository{db: db}
}

const cycleColumns = `id, project_id, due_date, total_amount, share_amount, confirmed_at, archived_at, created_at`

func scanCycle(row interface{ Scan(...any) error }) (*billing.Cycle, error) {
	c := &billing.Cycle{}
	if err := row.Scan(&c.ID, &c.ProjectID, &c.DueDate, &c.TotalAmount, &c.ShareAmount, &c.ConfirmedAt, &c.ArchivedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresCycleRepository) GetByID(ctx context.Context, id int64) (*billing.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM billing_cycles WHERE id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting billing cycle by ID: %w", err)
	}
	return c, nil
}

// CreateIfAbsent relies on billing_cycles_project_due_unique; a concurrent generator
// inserting the same period loses silently.
func (r *PostgresCycleRepository) CreateIfAbsent(ctx context.Context, c *billing.Cycle) (bool, error) {
	query := `INSERT INTO billing_cycles (project_id, due_date, total_amount, share_amount)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT ON CONSTRAINT billing_cycles_project_due_unique DO NOTHING
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, c.ProjectID, c.DueDate, c.TotalAmount, c.ShareAmount).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows { // DO NOTHING returns no row
			return false, nil
		}
		return false, fmt.Errorf("error creating billing cycle: %w", err)
	}
	return true, nil
}

func (r *PostgresCycleRepository) ListByProject(ctx context.Context, projectID int64, includeArchived bool) ([]*billing.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM billing_cycles
               WHERE project_id = $1 AND ($2 OR archived_at IS NULL)
               ORDER BY due_date`
	rows, err := r.db.QueryContext(ctx, query, projectID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("error listing billing cycles for project %d: %w", projectID, err)
	}
	defer rows.Close()

	cycles := make([]*billing.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning billing cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating billing cycles: %w", err)
	}
	return cycles, nil
}

// Archive never touches a cycle with a pending payment, even if the caller raced a submission.
func (r *PostgresCycleRepository) Archive(ctx context.Context, cycleID int64, at time.Time) (bool, error) {
	query := `UPDATE billing_cycles c SET archived_at = $2
               WHERE c.id = $1
                 AND c.archived_at IS NULL
                 AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.cycle_id = c.id AND p.status = $3)`
	res, err := r.db.ExecContext(ctx, query, cycleID, at, billing.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("error archiving billing cycle %d: %w", cycleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading archived rows for cycle %d: %w", cycleID, err)
	}
	return n == 1, nil
}

func (r *PostgresCycleRepository) MarkConfirmed(ctx context.Context, cycleID int64, at time.Time) error {
	query := `UPDATE billing_cycles SET confirmed_at = $2 WHERE id = $1 AND confirmed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, cycleID, at); err != nil {
		return fmt.Errorf("error confirming billing cycle %d: %w", cycleID, err)
	}
	return nil
}
