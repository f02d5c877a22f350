package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"
	"subscription_split_bot/internal/infra/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testProjectID = int64(1)
	ownerID       = int64(10)
	memberID      = int64(11)
	ownerTG       = int64(1000)
	memberTG      = int64(1001)
)

// dueDate is the single due date of the yearly test project.
var dueDate = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

// day returns 10:00 UTC on dueDate shifted by offset days.
func day(offset int) time.Time {
	return dueDate.AddDate(0, 0, offset).Add(10 * time.Hour)
}

type harness struct {
	store      *memStore
	chat       *fakeNotifier
	config     *staticConfig
	engine     *EscalationEngine
	generator  *CycleGenerator
	archiver   *CycleArchiver
	dispatcher *NotificationDispatcher
	scheduler  *ReminderScheduler
	payments   *PaymentService
}

func testConfig() reminder.Config {
	cfg := reminder.DefaultConfig()
	cfg.Channels = []notifier.Channel{notifier.ChannelTelegram}
	return cfg
}

// newHarness is newBareHarness with the dueDate cycle already generated a month ahead, so
// a test's first pass may land anywhere around dueDate.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newBareHarness(t)
	project, err := h.store.GetByID(context.Background(), testProjectID)
	require.NoError(t, err)
	res, err := h.generator.Generate(context.Background(), h.config.Current(), project, day(-30))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	return h
}

// newBareHarness builds a yearly project anchored a year before dueDate with one owner and
// one member, and every component wired over the in-memory store.
func newBareHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	store.addProject(
		&billing.Project{
			ID:         testProjectID,
			Name:       "Spotify Family",
			Cost:       decimal.RequireFromString("300"),
			Currency:   "RUB",
			Frequency:  billing.FrequencyYearly,
			AnchorDate: dueDate.AddDate(-1, 0, 0),
			IsActive:   true,
		},
		&billing.Recipient{ID: ownerID, FirstName: "Owner", TelegramID: sql.NullInt64{Int64: ownerTG, Valid: true}},
		&billing.Recipient{ID: memberID, FirstName: "Member", TelegramID: sql.NullInt64{Int64: memberTG, Valid: true}},
	)
	return wire(store, testConfig())
}

func wire(store *memStore, cfg reminder.Config) *harness {
	log := logger.Discard()
	h := &harness{
		store:  store,
		chat:   newFakeNotifier(notifier.ChannelTelegram),
		config: &staticConfig{cfg: cfg},
	}
	retry := NewRetryPolicy(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	retry.sleep = func(context.Context, time.Duration) error { return nil }

	h.engine = NewEscalationEngine(stateRepo{store}, cycleRepo{store}, store, h.config, log)
	h.generator = NewCycleGenerator(cycleRepo{store}, store, log)
	h.archiver = NewCycleArchiver(cycleRepo{store}, paymentRepo{store}, log)
	h.dispatcher = NewNotificationDispatcher(stateRepo{store}, retry, log, h.chat)
	h.scheduler = NewReminderScheduler(
		store, cycleRepo{store}, paymentRepo{store},
		h.generator, h.archiver, h.engine, h.dispatcher,
		h.config, openLocker{}, nil,
		SchedulerOptions{ProjectWorkers: 2, PairWorkers: 2},
		log,
	)
	h.payments = NewPaymentService(paymentRepo{store}, cycleRepo{store}, store, h.engine, nil, log)
	return h
}

func (h *harness) pass(t *testing.T, now time.Time) PassSummary {
	t.Helper()
	s, err := h.scheduler.RunPass(context.Background(), now)
	require.NoError(t, err)
	return s
}

// cycleID returns the ID of the cycle due on dueDate.
func (h *harness) cycleID(t *testing.T) int64 {
	t.Helper()
	for _, c := range h.store.cycleList() {
		if c.DueDate.Equal(dueDate) {
			return c.ID
		}
	}
	t.Fatalf("no cycle due %s", dueDate.Format("2006-01-02"))
	return 0
}

func (h *harness) level(t *testing.T) reminder.Level {
	t.Helper()
	st := h.store.state(h.cycleID(t), memberID)
	if st == nil {
		return reminder.LevelNone
	}
	return st.Level
}
