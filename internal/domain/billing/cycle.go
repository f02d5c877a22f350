// internal/domain/billing/cycle.go
package billing

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Cycle is one due period of a project's recurring cost.
// Corresponds to the 'billing_cycles' table; (project_id, due_date) is unique.
type Cycle struct {
	ID          int64
	ProjectID   int64
	DueDate     time.Time
	TotalAmount decimal.Decimal
	ShareAmount decimal.Decimal // TotalAmount split across the recipients at generation time
	ConfirmedAt sql.NullTime    // Every debtor's payment confirmed
	ArchivedAt  sql.NullTime
	CreatedAt   time.Time
}

// CycleStatus is derived, never stored.
type CycleStatus string

const (
	CycleStatusUpcoming             CycleStatus = "UPCOMING"
	CycleStatusDueSoon              CycleStatus = "DUE_SOON"
	CycleStatusOverdue              CycleStatus = "OVERDUE"
	CycleStatusAwaitingConfirmation CycleStatus = "AWAITING_CONFIRMATION"
	CycleStatusConfirmed            CycleStatus = "CONFIRMED"
	CycleStatusArchived             CycleStatus = "ARCHIVED"
)

// Status derives the cycle status as of today. dueSoonDays is the gentle reminder window;
// awaiting is true when a submitted payment waits for the owner's confirmation.
func (c *Cycle) Status(today time.Time, dueSoonDays int, awaiting bool) CycleStatus {
	switch {
	case c.ArchivedAt.Valid:
		return CycleStatusArchived
	case c.ConfirmedAt.Valid:
		return CycleStatusConfirmed
	case awaiting:
		return CycleStatusAwaitingConfirmation
	}
	daysBefore := DaysBetween(today, c.DueDate)
	switch {
	case daysBefore < 0:
		return CycleStatusOverdue
	case daysBefore <= dueSoonDays:
		return CycleStatusDueSoon
	default:
		return CycleStatusUpcoming
	}
}

// Open reports whether the cycle still takes part in scheduling.
func (c *Cycle) Open() bool {
	return !c.ArchivedAt.Valid && !c.ConfirmedAt.Valid
}
