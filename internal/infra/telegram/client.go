// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"net/http"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"

	"gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot the adapter needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// permanentErrors are Telegram answers that no retry can fix.
var permanentErrors = []error{
	telebot.ErrBlockedByUser,
	telebot.ErrUserIsDeactivated,
	telebot.ErrChatNotFound,
	telebot.ErrNotStartedByUser,
}

// pollHeadroom is added to the long-poll timeout so getUpdates is not cut off mid-poll.
const pollHeadroom = 5 * time.Second

// NewHTTPClient returns the client the bot talks to the API with. telebot calls carry no
// context, so the client timeout is what bounds a send; it never drops below what a long
// poll needs.
func NewHTTPClient(sendTimeout, pollTimeout time.Duration) *http.Client {
	timeout := sendTimeout
	if floor := pollTimeout + pollHeadroom; timeout < floor {
		timeout = floor
	}
	return &http.Client{Timeout: timeout}
}

// TelebotAdapter delivers notifications as Telegram chat messages.
type TelebotAdapter struct {
	bot Sender
}

func NewTelebotAdapter(b Sender) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

func (tba *TelebotAdapter) Channel() notifier.Channel {
	return notifier.ChannelTelegram
}

// Send sends msg to the recipient's private chat, with its actions as inline buttons.
func (tba *TelebotAdapter) Send(ctx context.Context, recipient *billing.Recipient, msg notifier.Message) error {
	if !recipient.TelegramID.Valid {
		return &notifier.DeliveryError{Channel: notifier.ChannelTelegram, Permanent: true, Err: notifier.ErrNoAddress}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	options := &telebot.SendOptions{ParseMode: telebot.ModeDefault}
	if len(msg.Actions) > 0 {
		replyMarkup := &telebot.ReplyMarkup{ResizeKeyboard: true} // Inline keyboard
		buttons := make([]telebot.Btn, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			buttons = append(buttons, replyMarkup.Data(a.Label, a.Data))
		}
		replyMarkup.Inline(replyMarkup.Row(buttons...))
		options.ReplyMarkup = replyMarkup
	}
	if msg.Priority == notifier.PriorityNormal {
		options.DisableNotification = true
	}

	// telebot has no per-call context; the bot's http.Client timeout bounds the attempt.
	_, err := tba.bot.Send(&telebot.User{ID: recipient.TelegramID.Int64}, render(msg), options)
	if err != nil {
		return &notifier.DeliveryError{Channel: notifier.ChannelTelegram, Permanent: isPermanent(err), Err: err}
	}
	return nil
}

func render(msg notifier.Message) string {
	if msg.Subject == "" {
		return msg.Body
	}
	return msg.Subject + "\n\n" + msg.Body
}

func isPermanent(err error) bool {
	for _, p := range permanentErrors {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
