// internal/infra/database/postgres_project_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"subscription_split_bot/internal/domain/billing"
)

// Custom errors
var ErrProjectNotFound = fmt.Errorf("project not found")
var ErrRecipientNotFound = fmt.Errorf("recipient not found")

type PostgresProjectRepository struct {
	db *sql.DB
}

func NewPostgresProjectRepository(db *sql.DB) *PostgresProjectRepository {
	return &PostgresProjectRepository{db: db}
}

const projectColumns = `id, owner_id, name, cost, currency, frequency, anchor_date, reminder_lead_days, is_active, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*billing.Project, error) {
	p := &billing.Project{}
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Cost, &p.Currency, &p.Frequency,
		&p.AnchorDate, &p.ReminderLeadDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresProjectRepository) GetByID(ctx context.Context, id int64) (*billing.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("error getting project by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresProjectRepository) ListActive(ctx context.Context) ([]*billing.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE is_active = TRUE ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*billing.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning active project: %w", err)
		}
		projects = append(projects, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active projects: %w", err)
	}
	return projects, nil
}

// ListRecipients returns the owner first, then the members in join order.
func (r *PostgresProjectRepository) ListRecipients(ctx context.Context, projectID int64) ([]*billing.Recipient, error) {
	query := `SELECT r.id, r.telegram_id, r.email, r.first_name, r.last_name, TRUE AS is_owner
               FROM projects p JOIN recipients r ON r.id = p.owner_id
               WHERE p.id = $1
               UNION ALL
               SELECT r.id, r.telegram_id, r.email, r.first_name, r.last_name, FALSE AS is_owner
               FROM project_members m
               JOIN projects p ON p.id = m.project_id
               JOIN recipients r ON r.id = m.recipient_id
               WHERE m.project_id = $1 AND m.recipient_id <> p.owner_id
               ORDER BY is_owner DESC, id`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("error listing recipients for project %d: %w", projectID, err)
	}
	defer rows.Close()

	recipients := make([]*billing.Recipient, 0)
	for rows.Next() {
		rc := &billing.Recipient{}
		if err := rows.Scan(&rc.ID, &rc.TelegramID, &rc.Email, &rc.FirstName, &rc.LastName, &rc.IsOwner); err != nil {
			return nil, fmt.Errorf("error scanning recipient: %w", err)
		}
		recipients = append(recipients, rc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipients: %w", err)
	}
	return recipients, nil
}

func (r *PostgresProjectRepository) GetRecipient(ctx context.Context, id int64) (*billing.Recipient, error) {
	query := `SELECT id, telegram_id, email, first_name, last_name FROM recipients WHERE id = $1`
	rc := &billing.Recipient{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&rc.ID, &rc.TelegramID, &rc.Email, &rc.FirstName, &rc.LastName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("error getting recipient by ID: %w", err)
	}
	return rc, nil
}

func (r *PostgresProjectRepository) GetRecipientByTelegramID(ctx context.Context, telegramID int64) (*billing.Recipient, error) {
	query := `SELECT id, telegram_id, email, first_name, last_name FROM recipients WHERE telegram_id = $1`
	rc := &billing.Recipient{}
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(&rc.ID, &rc.TelegramID, &rc.Email, &rc.FirstName, &rc.LastName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("error getting recipient by Telegram ID: %w", err)
	}
	return rc, nil
}
