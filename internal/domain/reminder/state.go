// internal/domain/reminder/state.go
package reminder

import (
	"database/sql"
	"time"
)

// State tracks the escalation of one recipient's reminders for one cycle.
// Corresponds to the 'reminder_states' table; (cycle_id, recipient_id) is unique.
type State struct {
	ID                int64
	CycleID           int64
	RecipientID       int64
	Level             Level
	LevelReachedAt    sql.NullTime // When the current level was claimed
	LastSentAt        sql.NullTime // Delivery of the current level; unset while pending
	LastAttemptAt     sql.NullTime // Last dispatch claim; an in-flight claim is not retried
	DeliveryAttempts  int          // Dispatch attempts for the current level
	DeliveryAbandoned bool         // Current level given up: no usable channel or attempts exhausted
	Terminal          bool         // Payment confirmed; never transitions again
	Version           int64        // Optimistic concurrency token
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PendingDelivery reports whether the current level was claimed but not yet delivered.
func (s *State) PendingDelivery() bool {
	return !s.Terminal && s.Level > LevelNone && !s.LastSentAt.Valid && !s.DeliveryAbandoned
}

// SettledAt is when the current level stopped being pending: the delivery time, or the
// claim time for an abandoned delivery. The second value is false while still pending.
func (s *State) SettledAt() (time.Time, bool) {
	if s.LastSentAt.Valid {
		return s.LastSentAt.Time, true
	}
	if s.DeliveryAbandoned && s.LevelReachedAt.Valid {
		return s.LevelReachedAt.Time, true
	}
	return time.Time{}, false
}

// Delivery records the outcome of dispatching one level on one channel.
// Corresponds to the 'reminder_deliveries' table.
type Delivery struct {
	ID          int64
	StateID     int64
	Level       Level
	Channel     string
	Attempts    int
	Success     bool
	Permanent   bool
	Error       sql.NullString
	AttemptedAt time.Time
}
