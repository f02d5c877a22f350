// internal/domain/billing/repository.go
package billing

import (
	"context"
	"time"
)

// ProjectRepository reads projects and their recipients.
type ProjectRepository interface {
	GetByID(ctx context.Context, id int64) (*Project, error)
	ListActive(ctx context.Context) ([]*Project, error)
	// ListRecipients returns the owner and members of a project; IsOwner is set for the owner.
	ListRecipients(ctx context.Context, projectID int64) ([]*Recipient, error)
	GetRecipient(ctx context.Context, id int64) (*Recipient, error)
	GetRecipientByTelegramID(ctx context.Context, telegramID int64) (*Recipient, error)
}

// CycleRepository persists billing cycles.
type CycleRepository interface {
	GetByID(ctx context.Context, id int64) (*Cycle, error)
	// CreateIfAbsent inserts the cycle unless one exists for (project_id, due_date).
	// It reports whether a row was created; an existing row is not an error.
	CreateIfAbsent(ctx context.Context, cycle *Cycle) (bool, error)
	// ListByProject returns cycles ordered by due date. Archived cycles are included on request.
	ListByProject(ctx context.Context, projectID int64, includeArchived bool) ([]*Cycle, error)
	// Archive marks the cycle archived unless it already is or has a pending payment.
	Archive(ctx context.Context, cycleID int64, at time.Time) (bool, error)
	MarkConfirmed(ctx context.Context, cycleID int64, at time.Time) error
}

// PaymentRepository persists payment reports.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id int64) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByCycle(ctx context.Context, cycleID int64) ([]*Payment, error)
	HasPending(ctx context.Context, cycleID int64) (bool, error)
}
