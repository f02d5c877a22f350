// internal/domain/notifier/notifier.go
package notifier

import (
	"context"
	"errors"
	"fmt"

	"subscription_split_bot/internal/domain/billing"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelTelegram Channel = "TELEGRAM"
	ChannelEmail    Channel = "EMAIL"
)

// Valid reports whether ch is a known channel.
func (ch Channel) Valid() bool {
	return ch == ChannelTelegram || ch == ChannelEmail
}

// Priority is a hint for how loudly a channel should deliver.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return "normal"
	}
}

// Action is an inline reply the recipient can choose (chat channels only).
type Action struct {
	Label string
	Data  string
}

// Message is a rendered notification.
type Message struct {
	Subject  string
	Body     string
	Priority Priority
	Actions  []Action
}

// Notifier delivers messages over one channel.
type Notifier interface {
	Channel() Channel
	// Send returns nil once the channel accepted the message.
	Send(ctx context.Context, recipient *billing.Recipient, msg Message) error
}

// ErrNoAddress means the recipient cannot be reached on the channel at all.
var ErrNoAddress = errors.New("recipient has no address for channel")

// DeliveryError wraps a channel failure with its classification.
type DeliveryError struct {
	Channel   Channel
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNoAddress) {
		return true
	}
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
