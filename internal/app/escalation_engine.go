// internal/app/escalation_engine.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/reminder"
	idb "subscription_split_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// maxConflictRetries bounds re-evaluation after losing an optimistic write.
const maxConflictRetries = 3

// ConfigSource yields the reminder configuration snapshot in force.
type ConfigSource interface {
	Current() reminder.Config
}

// TransitionKind says why a notification must go out.
type TransitionKind int

const (
	TransitionAdvance TransitionKind = iota // a new level was claimed
	TransitionRetry                         // the claimed level is still undelivered
)

func (k TransitionKind) String() string {
	if k == TransitionRetry {
		return "retry"
	}
	return "advance"
}

// Transition is a claimed level that must be dispatched.
type Transition struct {
	Kind        TransitionKind
	State       *reminder.State // State as persisted by the claim
	From        reminder.Level
	Level       reminder.Level
	DaysBefore  int
	DaysOverdue int
}

// Preview is the read-only answer of Evaluate.
type Preview struct {
	CycleID      int64
	RecipientID  int64
	CurrentLevel reminder.Level
	TargetLevel  reminder.Level // Level a pass at the given instant would leave the pair at
	DaysBefore   int
	DaysOverdue  int
	Terminal     bool
	Pending      bool // The current level is claimed but undelivered
	WouldNotify  bool
}

// EscalationEngine owns the per (cycle, recipient) reminder state machine.
type EscalationEngine struct {
	states   reminder.StateRepository
	cycles   billing.CycleRepository
	projects billing.ProjectRepository
	config   ConfigSource
	log      *logrus.Entry
}

func NewEscalationEngine(
	states reminder.StateRepository,
	cycles billing.CycleRepository,
	projects billing.ProjectRepository,
	config ConfigSource,
	log *logrus.Entry,
) *EscalationEngine {
	return &EscalationEngine{
		states:   states,
		cycles:   cycles,
		projects: projects,
		config:   config,
		log:      log.WithField("component", "escalation_engine"),
	}
}

// Step evaluates one pair and persists the outcome. A non-nil Transition means the caller
// holds the claim for that level and must dispatch it, then call RecordDelivery.
func (e *EscalationEngine) Step(
	ctx context.Context,
	cfg reminder.Config,
	th reminder.Thresholds,
	cycle *billing.Cycle,
	recipientID int64,
	now time.Time,
) (*Transition, error) {
	if !cfg.RemindersEnabled || !cycle.Open() {
		return nil, nil
	}

	for try := 1; try <= maxConflictRetries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, fresh, err := e.load(ctx, cycle.ID, recipientID)
		if err != nil {
			return nil, err
		}

		next, tr := plan(current, cycle, cfg, th, now)
		if next == nil {
			return nil, nil
		}

		if fresh {
			err = e.states.Create(ctx, next)
		} else {
			err = e.states.Update(ctx, next)
		}
		if errors.Is(err, idb.ErrConcurrentUpdate) || errors.Is(err, idb.ErrDuplicateState) {
			e.log.WithFields(logrus.Fields{
				"cycle_id":     cycle.ID,
				"recipient_id": recipientID,
				"try":          try,
			}).Debug("Reminder state changed underneath, re-evaluating")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to persist reminder state: %w", err)
		}

		if tr != nil {
			tr.State = next
			e.log.WithFields(logrus.Fields{
				"cycle_id":     cycle.ID,
				"recipient_id": recipientID,
				"from":         tr.From.String(),
				"level":        tr.Level.String(),
				"kind":         tr.Kind.String(),
			}).Info("Reminder transition claimed")
		}
		return tr, nil
	}
	return nil, fmt.Errorf("cycle %d recipient %d: %w", cycle.ID, recipientID, idb.ErrConcurrentUpdate)
}

// RecordDelivery closes a claimed transition. Delivered sets LastSentAt; a permanent failure
// abandons the level so the ladder can keep climbing; a transient failure leaves it pending.
func (e *EscalationEngine) RecordDelivery(ctx context.Context, tr *Transition, res DispatchResult, now time.Time) error {
	if !res.Delivered && !res.Permanent {
		return nil
	}

	st := copyState(tr.State)
	for try := 1; try <= maxConflictRetries; try++ {
		if st.Level != tr.Level || !st.PendingDelivery() {
			// Someone else already settled or moved past this level.
			return nil
		}
		if res.Delivered {
			st.LastSentAt.Time, st.LastSentAt.Valid = now, true
		} else {
			st.DeliveryAbandoned = true
		}

		err := e.states.Update(ctx, st)
		if err == nil {
			tr.State = st
			return nil
		}
		if !errors.Is(err, idb.ErrConcurrentUpdate) {
			return fmt.Errorf("failed to record delivery outcome: %w", err)
		}

		st, err = e.states.Get(ctx, tr.State.CycleID, tr.State.RecipientID)
		if err != nil {
			return fmt.Errorf("failed to reload reminder state: %w", err)
		}
	}
	return fmt.Errorf("recording delivery for state %d: %w", tr.State.ID, idb.ErrConcurrentUpdate)
}

// Evaluate reports what a pass at now would do for the pair, without writing anything.
func (e *EscalationEngine) Evaluate(ctx context.Context, cycleID, recipientID int64, now time.Time) (*Preview, error) {
	cycle, err := e.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	project, err := e.projects.GetByID(ctx, cycle.ProjectID)
	if err != nil {
		return nil, err
	}
	cfg := e.config.Current()
	th, err := cfg.ForProject(project)
	if err != nil {
		return nil, err
	}

	current, _, err := e.load(ctx, cycleID, recipientID)
	if err != nil {
		return nil, err
	}

	pos := positionOf(cycle.DueDate, cfg.Today(now), th)
	p := &Preview{
		CycleID:      cycleID,
		RecipientID:  recipientID,
		CurrentLevel: current.Level,
		TargetLevel:  current.Level,
		DaysBefore:   pos.daysBefore,
		DaysOverdue:  pos.daysOverdue,
		Terminal:     current.Terminal,
		Pending:      current.PendingDelivery(),
	}
	if !cfg.RemindersEnabled || !cycle.Open() {
		return p, nil
	}
	if next, tr := plan(current, cycle, cfg, th, now); next != nil {
		p.TargetLevel = next.Level
		p.WouldNotify = tr != nil
	}
	return p, nil
}

// MarkPaid freezes the pair: no reminder is sent for it again.
func (e *EscalationEngine) MarkPaid(ctx context.Context, cycleID, recipientID int64, now time.Time) error {
	if err := e.states.MarkTerminal(ctx, cycleID, recipientID, now); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"cycle_id": cycleID, "recipient_id": recipientID}).Info("Reminder state frozen after payment")
	return nil
}

func (e *EscalationEngine) load(ctx context.Context, cycleID, recipientID int64) (*reminder.State, bool, error) {
	st, err := e.states.Get(ctx, cycleID, recipientID)
	if errors.Is(err, idb.ErrStateNotFound) {
		return &reminder.State{CycleID: cycleID, RecipientID: recipientID}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load reminder state: %w", err)
	}
	return st, false, nil
}

// plan computes the next persisted state from the current one. A nil state means nothing to
// write. A non-nil Transition means the written state claims a dispatch.
func plan(cur *reminder.State, cycle *billing.Cycle, cfg reminder.Config, th reminder.Thresholds, now time.Time) (*reminder.State, *Transition) {
	if cur.Terminal {
		return nil, nil
	}

	today := cfg.Today(now)
	pos := positionOf(cycle.DueDate, today, th)
	base := cur
	var next *reminder.State

	if cur.PendingDelivery() {
		if cur.DeliveryAttempts < cfg.MaxDeliveryAttempts {
			if cur.LastAttemptAt.Valid && now.Sub(cur.LastAttemptAt.Time) < cfg.PendingRetryAfter {
				return nil, nil
			}
			next = copyState(cur)
			next.DeliveryAttempts++
			next.LastAttemptAt.Time, next.LastAttemptAt.Valid = now, true
			return next, &Transition{
				Kind:        TransitionRetry,
				From:        cur.Level,
				Level:       cur.Level,
				DaysBefore:  pos.daysBefore,
				DaysOverdue: pos.daysOverdue,
			}
		}
		next = copyState(cur)
		next.DeliveryAbandoned = true
		base = next
	}

	target := targetLevel(cycle.DueDate, today, th, base)
	if target <= base.Level {
		return next, nil
	}

	if next == nil {
		next = copyState(cur)
	}
	next.Level = target
	next.LevelReachedAt.Time, next.LevelReachedAt.Valid = now, true
	next.LastAttemptAt.Time, next.LastAttemptAt.Valid = now, true
	next.LastSentAt.Valid = false
	next.DeliveryAttempts = 1
	next.DeliveryAbandoned = false
	return next, &Transition{
		Kind:        TransitionAdvance,
		From:        cur.Level,
		Level:       target,
		DaysBefore:  pos.daysBefore,
		DaysOverdue: pos.daysOverdue,
	}
}

func copyState(s *reminder.State) *reminder.State {
	c := *s
	return &c
}
