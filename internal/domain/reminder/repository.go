// internal/domain/reminder/repository.go
package reminder

import (
	"context"
	"time"
)

// StateRepository persists reminder states with a single writer per (cycle, recipient).
type StateRepository interface {
	Get(ctx context.Context, cycleID, recipientID int64) (*State, error)
	// Create inserts a fresh state; a concurrent insert of the same key fails with a duplicate error.
	Create(ctx context.Context, s *State) error
	// Update writes s only if its Version still matches the stored one, then bumps Version.
	Update(ctx context.Context, s *State) error
	// MarkTerminal freezes the state, creating it when the pair was never evaluated.
	MarkTerminal(ctx context.Context, cycleID, recipientID int64, at time.Time) error
	ListByCycle(ctx context.Context, cycleID int64) ([]*State, error)
}

// DeliveryRepository records per-channel dispatch outcomes for operators.
type DeliveryRepository interface {
	Record(ctx context.Context, d *Delivery) error
	ListByState(ctx context.Context, stateID int64) ([]*Delivery, error)
}
