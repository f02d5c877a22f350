package billing

import (
	"database/sql"
	"time"
)

// PaymentStatus tracks a recipient's reported payment for a cycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // Reported by the recipient, awaiting the owner
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED" // Owner confirmed the money arrived
	PaymentStatusRejected  PaymentStatus = "REJECTED"
)

// Payment is one recipient's payment report for a cycle.
// Corresponds to the 'payments' table.
type Payment struct {
	ID          int64
	CycleID     int64
	RecipientID int64
	Status      PaymentStatus
	SubmittedAt time.Time
	ResolvedAt  sql.NullTime
	UpdatedAt   time.Time
}
