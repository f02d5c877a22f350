package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var due = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

func TestCycleRepository_CreateIfAbsent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCycleRepository(db)
	ctx := context.Background()
	insert := regexp.QuoteMeta("INSERT INTO billing_cycles")

	mock.ExpectQuery(insert).
		WithArgs(int64(1), due, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), due))
	mock.ExpectQuery(insert).
		WithArgs(int64(1), due, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	c := &billing.Cycle{ProjectID: 1, DueDate: due, TotalAmount: decimal.NewFromInt(300), ShareAmount: decimal.NewFromInt(150)}
	created, err := repo.CreateIfAbsent(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), c.ID)

	created, err = repo.CreateIfAbsent(ctx, &billing.Cycle{ProjectID: 1, DueDate: due})
	require.NoError(t, err)
	assert.False(t, created, "existing period is not an error")
}

func TestCycleRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCycleRepository(db)

	cols := []string{"id", "project_id", "due_date", "total_amount", "share_amount", "confirmed_at", "archived_at", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_cycles WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), int64(1), due, "300.00", "150.00", nil, nil, due))
	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_cycles WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnError(sql.ErrNoRows)

	c, err := repo.GetByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "150.00", c.ShareAmount.StringFixed(2))
	assert.False(t, c.ConfirmedAt.Valid)
	assert.True(t, c.Open())

	_, err = repo.GetByID(context.Background(), 6)
	assert.ErrorIs(t, err, ErrCycleNotFound)
}

func TestCycleRepository_Archive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresCycleRepository(db)
	at := due.AddDate(0, 7, 0)
	update := regexp.QuoteMeta("UPDATE billing_cycles c SET archived_at = $2")

	mock.ExpectExec(update).WithArgs(int64(5), at, billing.PaymentStatusPending).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WithArgs(int64(5), at, billing.PaymentStatusPending).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Archive(context.Background(), 5, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Archive(context.Background(), 5, at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReminderRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresReminderRepository(db)
	insert := regexp.QuoteMeta("INSERT INTO reminder_states")

	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(int64(3), int64(1), due, due))
	mock.ExpectQuery(insert).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "reminder_states_cycle_recipient_unique"})

	s := &reminder.State{CycleID: 5, RecipientID: 11, Level: reminder.LevelStandard, DeliveryAttempts: 1}
	require.NoError(t, repo.Create(context.Background(), s))
	assert.Equal(t, int64(3), s.ID)
	assert.Equal(t, int64(1), s.Version)

	err := repo.Create(context.Background(), &reminder.State{CycleID: 5, RecipientID: 11})
	assert.ErrorIs(t, err, ErrDuplicateState)
}

func TestReminderRepository_UpdateIsCompareAndSwap(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresReminderRepository(db)
	update := regexp.QuoteMeta("WHERE id = $8 AND version = $9 AND level <= $1")

	s := &reminder.State{ID: 3, CycleID: 5, RecipientID: 11, Level: reminder.LevelUrgent, Version: 2}
	mock.ExpectQuery(update).
		WithArgs(reminder.LevelUrgent, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0, false, false, int64(3), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(3), due))
	mock.ExpectQuery(update).
		WillReturnError(sql.ErrNoRows)

	require.NoError(t, repo.Update(context.Background(), s))
	assert.Equal(t, int64(3), s.Version)

	stale := &reminder.State{ID: 3, Level: reminder.LevelStandard, Version: 2}
	err := repo.Update(context.Background(), stale)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestReminderRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresReminderRepository(db)
	query := regexp.QuoteMeta("FROM reminder_states WHERE cycle_id = $1 AND recipient_id = $2")

	cols := []string{"id", "cycle_id", "recipient_id", "level", "level_reached_at", "last_sent_at", "last_attempt_at",
		"delivery_attempts", "delivery_abandoned", "terminal", "version", "created_at", "updated_at"}
	mock.ExpectQuery(query).WithArgs(int64(5), int64(11)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(3), int64(5), int64(11), int64(4), due, nil, due, int64(2), false, false, int64(7), due, due))
	mock.ExpectQuery(query).WithArgs(int64(5), int64(12)).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(query).WithArgs(int64(5), int64(13)).WillReturnError(errors.New("conn reset"))

	s, err := repo.Get(context.Background(), 5, 11)
	require.NoError(t, err)
	assert.Equal(t, reminder.LevelFinal, s.Level)
	assert.True(t, s.PendingDelivery())
	assert.Equal(t, int64(7), s.Version)

	_, err = repo.Get(context.Background(), 5, 12)
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, err = repo.Get(context.Background(), 5, 13)
	assert.ErrorContains(t, err, "conn reset")
}

func TestReminderRepository_MarkTerminalUpserts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresReminderRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET terminal = TRUE")).
		WithArgs(int64(5), int64(11), due).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkTerminal(context.Background(), 5, 11, due))
}

func TestPaymentRepository_CreateRejectsSecondPending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresPaymentRepository(db)
	insert := regexp.QuoteMeta("INSERT INTO payments")

	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).AddRow(int64(9), due))
	mock.ExpectQuery(insert).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_one_pending_per_recipient"})

	p := &billing.Payment{CycleID: 5, RecipientID: 11, Status: billing.PaymentStatusPending, SubmittedAt: due}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.Equal(t, int64(9), p.ID)

	err := repo.Create(context.Background(), &billing.Payment{CycleID: 5, RecipientID: 11, Status: billing.PaymentStatusPending, SubmittedAt: due})
	assert.ErrorIs(t, err, ErrDuplicatePendingPayment)
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "x"}
	assert.True(t, isUniqueViolation(err, "x"))
	assert.True(t, isUniqueViolation(err, ""))
	assert.False(t, isUniqueViolation(err, "y"))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("boom"), ""))
}
