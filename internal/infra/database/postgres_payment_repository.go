package database

import (
	"context"
	"database/sql"
	"fmt"

	"subscription_split_bot/internal/domain/billing"
)

var ErrPaymentNotFound = fmt.Errorf("payment not found")
var ErrDuplicatePendingPayment = fmt.Errorf("a pending payment already exists for this cycle and recipient")

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *billing.Payment) error {
	query := `INSERT INTO payments (cycle_id, recipient_id, status, submitted_at)
               VALUES ($1, $2, $3, $4)
               RETURNING id, updated_at`
	err := r.db.QueryRowContext(ctx, query, p.CycleID, p.RecipientID, p.Status, p.SubmittedAt).Scan(&p.ID, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "payments_one_pending_per_recipient") {
			return ErrDuplicatePendingPayment
		}
		return fmt.Errorf("error creating payment: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id int64) (*billing.Payment, error) {
	query := `SELECT id, cycle_id, recipient_id, status, submitted_at, resolved_at, updated_at
               FROM payments WHERE id = $1`
	p := &billing.Payment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.CycleID, &p.RecipientID, &p.Status, &p.SubmittedAt, &p.ResolvedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("error getting payment by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) Update(ctx context.Context, p *billing.Payment) error {
	query := `UPDATE payments SET status = $1, resolved_at = $2, updated_at = NOW()
               WHERE id = $3
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, p.Status, p.ResolvedAt, p.ID).Scan(&p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("error updating payment: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) ListByCycle(ctx context.Context, cycleID int64) ([]*billing.Payment, error) {
	query := `SELECT id, cycle_id, recipient_id, status, submitted_at, resolved_at, updated_at
               FROM payments WHERE cycle_id = $1 ORDER BY submitted_at`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing payments for cycle %d: %w", cycleID, err)
	}
	defer rows.Close()

	payments := make([]*billing.Payment, 0)
	for rows.Next() {
		p := &billing.Payment{}
		if err := rows.Scan(&p.ID, &p.CycleID, &p.RecipientID, &p.Status, &p.SubmittedAt, &p.ResolvedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func (r *PostgresPaymentRepository) HasPending(ctx context.Context, cycleID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM payments WHERE cycle_id = $1 AND status = $2)`
	var pending bool
	if err := r.db.QueryRowContext(ctx, query, cycleID, billing.PaymentStatusPending).Scan(&pending); err != nil {
		return false, fmt.Errorf("error checking pending payments for cycle %d: %w", cycleID, err)
	}
	return pending, nil
}
