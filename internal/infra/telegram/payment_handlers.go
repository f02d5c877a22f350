// internal/infra/telegram/payment_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"subscription_split_bot/internal/app"
	"subscription_split_bot/internal/domain/billing"
	idb "subscription_split_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// PaymentActions is what the inline buttons trigger.
type PaymentActions interface {
	SubmitPayment(ctx context.Context, cycleID, recipientID int64) (*billing.Payment, error)
	ConfirmPayment(ctx context.Context, ownerTelegramID, paymentID int64) (*billing.Payment, error)
	RejectPayment(ctx context.Context, ownerTelegramID, paymentID int64) (*billing.Payment, error)
}

type callbackKind int

const (
	callbackUnknown callbackKind = iota
	callbackPaid
	callbackConfirm
	callbackReject
)

type callback struct {
	kind        callbackKind
	cycleID     int64
	recipientID int64
	paymentID   int64
}

// parseCallback decodes paid_<cycle>_<recipient>, confirm_<payment> and reject_<payment>.
// Buttons built with ReplyMarkup.Data arrive prefixed with \f.
func parseCallback(data string) (callback, error) {
	data = strings.TrimPrefix(data, "\f")
	switch {
	case strings.HasPrefix(data, app.PaidCallbackPrefix):
		parts := strings.Split(strings.TrimPrefix(data, app.PaidCallbackPrefix), "_")
		if len(parts) != 2 {
			return callback{}, fmt.Errorf("invalid callback data format for 'paid': %s", data)
		}
		cycleID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("invalid cycle ID in callback %q: %w", data, err)
		}
		recipientID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("invalid recipient ID in callback %q: %w", data, err)
		}
		return callback{kind: callbackPaid, cycleID: cycleID, recipientID: recipientID}, nil
	case strings.HasPrefix(data, app.ConfirmCallbackPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, app.ConfirmCallbackPrefix), 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("invalid payment ID in callback %q: %w", data, err)
		}
		return callback{kind: callbackConfirm, paymentID: id}, nil
	case strings.HasPrefix(data, app.RejectCallbackPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, app.RejectCallbackPrefix), 10, 64)
		if err != nil {
			return callback{}, fmt.Errorf("invalid payment ID in callback %q: %w", data, err)
		}
		return callback{kind: callbackReject, paymentID: id}, nil
	}
	return callback{kind: callbackUnknown}, nil
}

// RegisterPaymentHandlers handles the inline payment buttons.
func RegisterPaymentHandlers(ctx context.Context, b *telebot.Bot, payments PaymentActions, projects billing.ProjectRepository, baseLogger *logrus.Entry) {
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "callback", "sender_id": c.Sender().ID})

		cb, err := parseCallback(c.Callback().Data)
		if err != nil {
			c.Bot().OnError(err, c)
			return c.Respond(&telebot.CallbackResponse{Text: "Ошибка обработки ответа."})
		}

		switch cb.kind {
		case callbackPaid:
			return handlePaid(ctx, c, cb, payments, projects, logCtx)
		case callbackConfirm, callbackReject:
			return handleResolve(ctx, c, cb, payments, logCtx)
		}

		c.Bot().OnError(fmt.Errorf("unhandled callback data: %s", c.Callback().Data), c)
		return c.Respond(&telebot.CallbackResponse{Text: "Неизвестное действие."})
	})
}

func handlePaid(ctx context.Context, c telebot.Context, cb callback, payments PaymentActions, projects billing.ProjectRepository, logCtx *logrus.Entry) error {
	logCtx = logCtx.WithFields(logrus.Fields{"cycle_id": cb.cycleID, "recipient_id": cb.recipientID})

	// The button must be pressed by the recipient it was sent to.
	sender, err := projects.GetRecipientByTelegramID(ctx, c.Sender().ID)
	if err != nil || sender.ID != cb.recipientID {
		logCtx.WithError(err).Warn("Payment button pressed by someone else")
		return c.Respond(&telebot.CallbackResponse{Text: "Эта кнопка не для вас."})
	}

	_, err = payments.SubmitPayment(ctx, cb.cycleID, cb.recipientID)
	switch {
	case err == nil:
		logCtx.Info("Payment reported")
		return c.Respond(&telebot.CallbackResponse{Text: "Спасибо! Ждём подтверждения от владельца."})
	case errors.Is(err, idb.ErrDuplicatePendingPayment):
		return c.Respond(&telebot.CallbackResponse{Text: "Оплата уже ждёт подтверждения."})
	case errors.Is(err, app.ErrCycleClosed):
		return c.Respond(&telebot.CallbackResponse{Text: "Этот период уже закрыт."})
	case errors.Is(err, app.ErrNotProjectMember), errors.Is(err, idb.ErrCycleNotFound):
		return c.Respond(&telebot.CallbackResponse{Text: "Период оплаты не найден."})
	}
	c.Bot().OnError(fmt.Errorf("error submitting payment for cycle %d: %w", cb.cycleID, err), c)
	return c.Respond(&telebot.CallbackResponse{Text: "Произошла ошибка."})
}

func handleResolve(ctx context.Context, c telebot.Context, cb callback, payments PaymentActions, logCtx *logrus.Entry) error {
	logCtx = logCtx.WithField("payment_id", cb.paymentID)

	resolve, done := payments.ConfirmPayment, "Оплата подтверждена."
	if cb.kind == callbackReject {
		resolve, done = payments.RejectPayment, "Оплата отклонена, напоминания продолжатся."
	}

	_, err := resolve(ctx, c.Sender().ID, cb.paymentID)
	switch {
	case err == nil:
		logCtx.Info("Payment resolved")
		return c.Respond(&telebot.CallbackResponse{Text: done})
	case errors.Is(err, app.ErrNotProjectOwner):
		logCtx.Warn("Unauthorized payment resolution attempt")
		return c.Respond(&telebot.CallbackResponse{Text: "Только владелец может подтвердить оплату."})
	case errors.Is(err, app.ErrPaymentResolved):
		return c.Respond(&telebot.CallbackResponse{Text: "Эта оплата уже обработана."})
	case errors.Is(err, idb.ErrPaymentNotFound):
		return c.Respond(&telebot.CallbackResponse{Text: "Оплата не найдена."})
	}
	c.Bot().OnError(fmt.Errorf("error resolving payment %d: %w", cb.paymentID, err), c)
	return c.Respond(&telebot.CallbackResponse{Text: "Произошла ошибка."})
}
