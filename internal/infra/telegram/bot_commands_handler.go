// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"subscription_split_bot/internal/domain/billing"
	idb "subscription_split_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	adminTelegramID int64,
	projects billing.ProjectRepository,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Привет, Администратор %s! Я готов к работе. Используйте /help для списка команд.", c.Sender().FirstName))
		}

		recipient, err := projects.GetRecipientByTelegramID(ctx, senderID)
		if err == nil {
			logCtx.WithField("recipient_id", recipient.ID).Info("User identified as recipient")
			return c.Send(fmt.Sprintf("Привет, %s! Я напомню, когда придёт время оплатить вашу долю подписки. Когда оплатите, нажмите «Я оплатил» под напоминанием.", recipient.FirstName))
		} else if !errors.Is(err, idb.ErrRecipientNotFound) {
			logCtx.WithError(err).Error("Error checking recipient for /start command")
			return c.Send("Произошла ошибка при проверке вашего статуса. Пожалуйста, попробуйте позже.")
		}

		logCtx.Info("User is unknown")
		return c.Send("Привет! Я бот для разделения оплаты подписок. Попросите владельца подписки добавить вас в проект.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID == adminTelegramID {
			var helpText strings.Builder
			helpText.WriteString("Доступные команды Администратора:\n\n")
			helpText.WriteString("`/run_pass`\n - Запустить проход напоминаний прямо сейчас.\n\n")
			helpText.WriteString("`/preview <ID периода> <ID получателя>`\n - Показать, какой уровень напоминания сейчас применился бы.\n\n")
			helpText.WriteString("`/projects`\n - Показать активные проекты.\n\n")
			helpText.WriteString("`/help`\n - Показать это справочное сообщение.")
			return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}

		_, err := projects.GetRecipientByTelegramID(ctx, senderID)
		if err == nil {
			return c.Send("Я присылаю напоминания об оплате вашей доли: заранее, в день оплаты и, если оплата задерживается, всё настойчивее. Нажмите «Я оплатил» под напоминанием, и владелец подтвердит оплату.\n\n`/help` - Показать это сообщение.")
		} else if !errors.Is(err, idb.ErrRecipientNotFound) {
			logCtx.WithError(err).Error("Error checking recipient for /help command")
			return c.Send("Произошла ошибка при проверке вашего статуса. Пожалуйста, попробуйте позже.")
		}

		return c.Send("Доступных команд для вас нет. Попросите владельца подписки добавить вас в проект.")
	})
}
