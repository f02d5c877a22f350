// internal/infra/database/postgres_reminder_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/reminder"
)

var ErrStateNotFound = fmt.Errorf("reminder state not found")
var ErrDuplicateState = fmt.Errorf("duplicate reminder state (cycle_id, recipient_id)")

// ErrConcurrentUpdate is returned when another writer changed the state since it was read.
var ErrConcurrentUpdate = fmt.Errorf("reminder state was modified concurrently")

type PostgresReminderRepository struct {
	db *sql.DB
}

func NewPostgresReminderRepository(db *sql.DB) *PostgresReminderRepository {
	return &PostgresReminderRepository{db: db}
}

const stateColumns = `id, cycle_id, recipient_id, level, level_reached_at, last_sent_at, last_attempt_at,
               delivery_attempts, delivery_abandoned, terminal, version, created_at, updated_at`

func scanState(row interface{ Scan(...any) error }) (*reminder.State, error) {
	s := &reminder.State{}
	err := row.Scan(&s.ID, &s.CycleID, &s.RecipientID, &s.Level, &s.LevelReachedAt, &s.LastSentAt, &s.LastAttemptAt,
		&s.DeliveryAttempts, &s.DeliveryAbandoned, &s.Terminal, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresReminderRepository) Get(ctx context.Context, cycleID, recipientID int64) (*reminder.State, error) {
	query := `SELECT ` + stateColumns + ` FROM reminder_states WHERE cycle_id = $1 AND recipient_id = $2`
	s, err := scanState(r.db.QueryRowContext(ctx, query, cycleID, recipientID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("error getting reminder state: %w", err)
	}
	return s, nil
}

func (r *PostgresReminderRepository) Create(ctx context.Context, s *reminder.State) error {
	query := `INSERT INTO reminder_states (cycle_id, recipient_id, level, level_reached_at, last_sent_at,
                   last_attempt_at, delivery_attempts, delivery_abandoned, terminal)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
               RETURNING id, version, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, s.CycleID, s.RecipientID, s.Level, s.LevelReachedAt, s.LastSentAt,
		s.LastAttemptAt, s.DeliveryAttempts, s.DeliveryAbandoned, s.Terminal).Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "reminder_states_cycle_recipient_unique") {
			return ErrDuplicateState
		}
		return fmt.Errorf("error creating reminder state: %w", err)
	}
	return nil
}

// Update is a compare-and-swap on version. The level guard keeps the ladder monotonic
// even against a writer that skipped the version check.
func (r *PostgresReminderRepository) Update(ctx context.Context, s *reminder.State) error {
	query := `UPDATE reminder_states
               SET level = $1, level_reached_at = $2, last_sent_at = $3, last_attempt_at = $4,
                   delivery_attempts = $5, delivery_abandoned = $6, terminal = $7,
                   version = version + 1, updated_at = NOW()
               WHERE id = $8 AND version = $9 AND level <= $1
               RETURNING version, updated_at`
	err := r.db.QueryRowContext(ctx, query, s.Level, s.LevelReachedAt, s.LastSentAt, s.LastAttemptAt,
		s.DeliveryAttempts, s.DeliveryAbandoned, s.Terminal, s.ID, s.Version).Scan(&s.Version, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("error updating reminder state %d: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresReminderRepository) MarkTerminal(ctx context.Context, cycleID, recipientID int64, at time.Time) error {
	query := `INSERT INTO reminder_states (cycle_id, recipient_id, terminal, created_at, updated_at)
               VALUES ($1, $2, TRUE, $3, $3)
               ON CONFLICT ON CONSTRAINT reminder_states_cycle_recipient_unique
               DO UPDATE SET terminal = TRUE, version = reminder_states.version + 1, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, cycleID, recipientID, at); err != nil {
		return fmt.Errorf("error marking reminder state terminal (cycle %d, recipient %d): %w", cycleID, recipientID, err)
	}
	return nil
}

func (r *PostgresReminderRepository) ListByCycle(ctx context.Context, cycleID int64) ([]*reminder.State, error) {
	query := `SELECT ` + stateColumns + ` FROM reminder_states WHERE cycle_id = $1 ORDER BY recipient_id`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing reminder states for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	states := make([]*reminder.State, 0)
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder state: %w", err)
		}
		states = append(states, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder states: %w", err)
	}
	return states, nil
}

// --- Delivery log ---

func (r *PostgresReminderRepository) Record(ctx context.Context, d *reminder.Delivery) error {
	query := `INSERT INTO reminder_deliveries (state_id, level, channel, attempts, success, permanent, error, attempted_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, d.StateID, d.Level, d.Channel, d.Attempts, d.Success, d.Permanent, d.Error, d.AttemptedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("error recording reminder delivery: %w", err)
	}
	return nil
}

func (r *PostgresReminderRepository) ListByState(ctx context.Context, stateID int64) ([]*reminder.Delivery, error) {
	query := `SELECT id, state_id, level, channel, attempts, success, permanent, error, attempted_at
               FROM reminder_deliveries WHERE state_id = $1 ORDER BY attempted_at, id`
	rows, err := r.db.QueryContext(ctx, query, stateID)
	if err != nil {
		return nil, fmt.Errorf("error listing deliveries for state %d: %w", stateID, err)
	}
	defer rows.Close()

	deliveries := make([]*reminder.Delivery, 0)
	for rows.Next() {
		d := &reminder.Delivery{}
		if err := rows.Scan(&d.ID, &d.StateID, &d.Level, &d.Channel, &d.Attempts, &d.Success, &d.Permanent, &d.Error, &d.AttemptedAt); err != nil {
			return nil, fmt.Errorf("error scanning reminder delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminder deliveries: %w", err)
	}
	return deliveries, nil
}
