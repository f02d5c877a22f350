package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"subscription_split_bot/internal/app"
	"subscription_split_bot/internal/domain/billing"
	idb "subscription_split_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// PassTrigger runs a reminder pass on demand.
type PassTrigger interface {
	RunOnce() (app.PassSummary, error)
}

// Previewer answers what a pass would do for one pair.
type Previewer interface {
	Evaluate(ctx context.Context, cycleID, recipientID int64, now time.Time) (*app.Preview, error)
}

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(
	ctx context.Context,
	b *telebot.Bot,
	passes PassTrigger,
	previewer Previewer,
	projects billing.ProjectRepository,
	adminTelegramID int64,
	baseLogger *logrus.Entry,
) {
	adminOnly := func(command string, h func(c telebot.Context, log *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   command,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")

			if c.Sender().ID != adminTelegramID {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
			}
			return h(c, handlerLogger)
		})
	}

	adminOnly("/run_pass", func(c telebot.Context, log *logrus.Entry) error {
		summary, err := passes.RunOnce()
		if err != nil {
			log.WithError(err).Error("Manual pass failed")
			return c.Send(fmt.Sprintf("Проход завершился с ошибкой: %s", err.Error()))
		}
		return c.Send(formatSummary(summary))
	})

	adminOnly("/preview", func(c telebot.Context, log *logrus.Entry) error {
		args := c.Args()
		// Expected format: /preview <CycleID> <RecipientID>
		if len(args) != 2 {
			return c.Send("Неверный формат команды. Используйте: /preview <ID периода> <ID получателя>")
		}
		cycleID, err1 := strconv.ParseInt(args[0], 10, 64)
		recipientID, err2 := strconv.ParseInt(args[1], 10, 64)
		if err1 != nil || err2 != nil {
			return c.Send("Ошибка: ID должны быть числами.")
		}

		p, err := previewer.Evaluate(ctx, cycleID, recipientID, time.Now())
		if err != nil {
			if errors.Is(err, idb.ErrCycleNotFound) || errors.Is(err, idb.ErrProjectNotFound) {
				return c.Send(fmt.Sprintf("Период %d не найден.", cycleID))
			}
			log.WithError(err).Error("Preview failed")
			return c.Send(fmt.Sprintf("Произошла ошибка: %s", err.Error()))
		}
		return c.Send(formatPreview(p))
	})

	adminOnly("/projects", func(c telebot.Context, log *logrus.Entry) error {
		list, err := projects.ListActive(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to list projects")
			return c.Send("Произошла ошибка при получении списка проектов.")
		}
		if len(list) == 0 {
			return c.Send("Активных проектов нет.")
		}
		var sb strings.Builder
		sb.WriteString("Активные проекты:\n")
		for _, p := range list {
			sb.WriteString(fmt.Sprintf("- %s (ID: %d): %s %s, %s, с %s\n",
				p.Name, p.ID, p.Cost.StringFixed(2), p.Currency, strings.ToLower(string(p.Frequency)), p.AnchorDate.Format("02.01.2006")))
		}
		return c.Send(sb.String())
	})
}

func formatSummary(s app.PassSummary) string {
	return fmt.Sprintf("Проход %s завершён.\nПроекты: обработано %d, пропущено %d, с ошибкой %d.\nПериоды: создано %d, в архиве %d.\nНапоминания: отправлено %d, не доставлено %d.",
		s.PassID, s.ProjectsProcessed, s.ProjectsSkipped, s.ProjectsFailed,
		s.CyclesCreated, s.CyclesArchived, s.NotificationsSent, s.NotificationsFailed)
}

func formatPreview(p *app.Preview) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Период %d, получатель %d\n", p.CycleID, p.RecipientID))
	sb.WriteString(fmt.Sprintf("Текущий уровень: %d (%s)\n", int(p.CurrentLevel), p.CurrentLevel))
	sb.WriteString(fmt.Sprintf("Уровень после прохода: %d (%s)\n", int(p.TargetLevel), p.TargetLevel))
	if p.DaysBefore > 0 {
		sb.WriteString(fmt.Sprintf("До оплаты: %d дн.\n", p.DaysBefore))
	} else {
		sb.WriteString(fmt.Sprintf("Просрочка: %d дн.\n", p.DaysOverdue))
	}
	switch {
	case p.Terminal:
		sb.WriteString("Оплачено, напоминаний не будет.")
	case p.WouldNotify:
		sb.WriteString("Следующий проход отправит напоминание.")
	case p.Pending:
		sb.WriteString("Напоминание ждёт повторной отправки.")
	default:
		sb.WriteString("Следующий проход ничего не отправит.")
	}
	return sb.String()
}
