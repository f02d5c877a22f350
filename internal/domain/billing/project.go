package billing

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Project is a shared subscription whose cost is split among its recipients.
type Project struct {
	ID               int64
	OwnerID          int64 // Recipient ID of the owner
	Name             string
	Cost             decimal.Decimal
	Currency         string
	Frequency        Frequency
	AnchorDate       time.Time // Subscription start / renewal date
	ReminderLeadDays sql.NullInt32 // Overrides the gentle reminder threshold when set
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Recipient is a person who owes a share of one or more projects.
type Recipient struct {
	ID         int64
	TelegramID sql.NullInt64
	Email      sql.NullString
	FirstName  string
	LastName   sql.NullString
	IsOwner    bool // Owner of the project the recipient was listed for
}

// DisplayName returns the first name with the last name when known.
func (r *Recipient) DisplayName() string {
	if r.LastName.Valid && r.LastName.String != "" {
		return r.FirstName + " " + r.LastName.String
	}
	return r.FirstName
}

// Debtors filters out the project owner: the owner collects, members pay.
func Debtors(recipients []*Recipient) []*Recipient {
	out := make([]*Recipient, 0, len(recipients))
	for _, r := range recipients {
		if !r.IsOwner {
			out = append(out, r)
		}
	}
	return out
}
