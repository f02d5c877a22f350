// internal/app/notification_dispatcher.go
package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"text/template"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// PaidCallbackPrefix starts the inline button data a recipient sends to report a payment.
const PaidCallbackPrefix = "paid_"

// ChannelOutcome is the result of sending on one channel.
type ChannelOutcome struct {
	Channel  notifier.Channel
	Attempts int
	Err      error
}

// DispatchResult summarises one dispatch across channels.
type DispatchResult struct {
	Delivered bool // At least one channel accepted the message
	Permanent bool // Nothing was delivered and no retry can help
	Outcomes  []ChannelOutcome
}

// messageData feeds the ladder templates.
type messageData struct {
	Name        string
	Project     string
	DueDate     string
	Amount      string
	Currency    string
	DaysBefore  int
	DaysOverdue int
}

// NotificationDispatcher renders a level's message and sends it on every enabled channel.
type NotificationDispatcher struct {
	notifiers  []notifier.Notifier
	deliveries reminder.DeliveryRepository
	retry      *RetryPolicy
	log        *logrus.Entry
}

func NewNotificationDispatcher(
	deliveries reminder.DeliveryRepository,
	retry *RetryPolicy,
	log *logrus.Entry,
	notifiers ...notifier.Notifier,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		notifiers:  notifiers,
		deliveries: deliveries,
		retry:      retry,
		log:        log.WithField("component", "notification_dispatcher"),
	}
}

// RenderMessage builds the notification for a transition.
func RenderMessage(tr *Transition, project *billing.Project, cycle *billing.Cycle, recipient *billing.Recipient) (notifier.Message, error) {
	r, ok := ladderByLevel[tr.Level]
	if !ok {
		return notifier.Message{}, fmt.Errorf("no message for reminder level %s", tr.Level)
	}
	data := messageData{
		Name:        recipient.FirstName,
		Project:     project.Name,
		DueDate:     cycle.DueDate.Format("02.01.2006"),
		Amount:      cycle.ShareAmount.StringFixed(2),
		Currency:    project.Currency,
		DaysBefore:  tr.DaysBefore,
		DaysOverdue: tr.DaysOverdue,
	}

	subject, err := execute(r.subject, data)
	if err != nil {
		return notifier.Message{}, err
	}
	body, err := execute(r.body, data)
	if err != nil {
		return notifier.Message{}, err
	}

	return notifier.Message{
		Subject:  subject,
		Body:     body,
		Priority: r.priority,
		Actions: []notifier.Action{
			{Label: "Я оплатил", Data: fmt.Sprintf("%s%d_%d", PaidCallbackPrefix, cycle.ID, recipient.ID)},
		},
	}, nil
}

func execute(t *template.Template, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Dispatch sends the transition's message. Each enabled channel is tried under the retry
// policy and its outcome recorded.
func (d *NotificationDispatcher) Dispatch(
	ctx context.Context,
	cfg reminder.Config,
	tr *Transition,
	project *billing.Project,
	cycle *billing.Cycle,
	recipient *billing.Recipient,
	now time.Time,
) DispatchResult {
	log := d.log.WithFields(logrus.Fields{
		"project_id":   project.ID,
		"cycle_id":     cycle.ID,
		"recipient_id": recipient.ID,
		"level":        tr.Level.String(),
	})

	msg, err := RenderMessage(tr, project, cycle, recipient)
	if err != nil {
		log.WithError(err).Error("Failed to render reminder")
		return DispatchResult{}
	}

	res := DispatchResult{Permanent: true}
	for _, n := range d.notifiers {
		ch := n.Channel()
		if !cfg.ChannelEnabled(ch) {
			continue
		}
		attempts, sendErr := d.retry.Do(ctx, func(ctx context.Context) error {
			return n.Send(ctx, recipient, msg)
		})
		out := ChannelOutcome{Channel: ch, Attempts: attempts, Err: sendErr}
		res.Outcomes = append(res.Outcomes, out)

		permanent := sendErr != nil && notifier.IsPermanent(sendErr)
		if sendErr == nil {
			res.Delivered = true
			log.WithField("channel", ch).Info("Reminder delivered")
		} else {
			log.WithError(sendErr).WithFields(logrus.Fields{"channel": ch, "attempts": attempts, "permanent": permanent}).Warn("Reminder delivery failed")
		}
		if !permanent {
			res.Permanent = false
		}
		d.record(ctx, tr, out, permanent, now, log)
	}

	if res.Delivered {
		res.Permanent = false
	}
	if len(res.Outcomes) == 0 {
		log.Warn("No enabled channel for reminder")
	}
	return res
}

func (d *NotificationDispatcher) record(ctx context.Context, tr *Transition, out ChannelOutcome, permanent bool, now time.Time, log *logrus.Entry) {
	if d.deliveries == nil || tr.State == nil || tr.State.ID == 0 {
		return
	}
	del := &reminder.Delivery{
		StateID:     tr.State.ID,
		Level:       tr.Level,
		Channel:     string(out.Channel),
		Attempts:    out.Attempts,
		Success:     out.Err == nil,
		Permanent:   permanent,
		AttemptedAt: now,
	}
	if out.Err != nil {
		del.Error = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	// The recorded outcome is for operators; losing it does not change the state machine.
	if err := d.deliveries.Record(ctx, del); err != nil {
		log.WithError(err).Error("Failed to record reminder delivery")
	}
}
