// internal/app/ladder.go
package app

import (
	"text/template"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"
)

// axis says which clock a rung is measured on.
type axis int

const (
	axisBeforeDue  axis = iota // days before the due date
	axisOverdue                // days overdue after the grace period
	axisAfterFinal             // a later day than the settled final notice
)

// rung is one row of the escalation ladder. Adding a level means adding a row here.
type rung struct {
	level     reminder.Level
	axis      axis
	threshold func(reminder.Thresholds) int
	priority  notifier.Priority
	subject   *template.Template
	body      *template.Template
}

// ladder is ordered by level; the target level is the highest crossed row.
var ladder = []rung{
	{
		level:     reminder.LevelGentle,
		axis:      axisBeforeDue,
		threshold: func(t reminder.Thresholds) int { return t.GentleDaysBefore },
		priority:  notifier.PriorityNormal,
		subject:   tmpl("subject", "Скоро оплата: {{.Project}}"),
		body:      tmpl("gentle", "Привет, {{.Name}}! Через {{.DaysBefore}} дн. ({{.DueDate}}) нужно оплатить свою долю за «{{.Project}}»: {{.Amount}} {{.Currency}}."),
	},
	{
		level:     reminder.LevelStandard,
		axis:      axisOverdue,
		threshold: func(t reminder.Thresholds) int { return t.StandardDaysOverdue },
		priority:  notifier.PriorityNormal,
		subject:   tmpl("subject", "Напоминание об оплате: {{.Project}}"),
		body:      tmpl("standard", "Привет, {{.Name}}! Срок оплаты «{{.Project}}» прошёл {{.DueDate}}. Пожалуйста, переведите {{.Amount}} {{.Currency}}."),
	},
	{
		level:     reminder.LevelUrgent,
		axis:      axisOverdue,
		threshold: func(t reminder.Thresholds) int { return t.UrgentDaysOverdue },
		priority:  notifier.PriorityHigh,
		subject:   tmpl("subject", "Срочно: оплата {{.Project}} просрочена"),
		body:      tmpl("urgent", "{{.Name}}, оплата «{{.Project}}» просрочена на {{.DaysOverdue}} дн. Ваша доля: {{.Amount}} {{.Currency}}. Оплатите, пожалуйста, как можно скорее."),
	},
	{
		level:     reminder.LevelFinal,
		axis:      axisOverdue,
		threshold: func(t reminder.Thresholds) int { return t.FinalNoticeDaysOverdue },
		priority:  notifier.PriorityHighest,
		subject:   tmpl("subject", "Последнее напоминание: {{.Project}}"),
		body:      tmpl("final", "{{.Name}}, это последнее напоминание: оплата «{{.Project}}» просрочена на {{.DaysOverdue}} дн. Доля {{.Amount}} {{.Currency}} должна была поступить до {{.DueDate}}."),
	},
	{
		level:     reminder.LevelCritical,
		axis:      axisAfterFinal,
		threshold: func(reminder.Thresholds) int { return 1 },
		priority:  notifier.PriorityHighest,
		subject:   tmpl("subject", "Последнее напоминание: {{.Project}} (просрочка {{.DaysOverdue}} дн.)"),
		body:      tmpl("final_critical", "{{.Name}}, оплата «{{.Project}}» просрочена уже на {{.DaysOverdue}} дн., и напоминания больше не будут приходить. Владелец подписки получит уведомление. Сумма: {{.Amount}} {{.Currency}}."),
	},
}

func tmpl(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

var ladderByLevel = func() map[reminder.Level]*rung {
	m := make(map[reminder.Level]*rung, len(ladder))
	for i := range ladder {
		m[ladder[i].level] = &ladder[i]
	}
	return m
}()

// position is where a cycle stands relative to its due date on a calendar day.
type position struct {
	daysBefore  int // positive while not yet due
	daysOverdue int // zero until the grace period has passed
}

func positionOf(due, today time.Time, th reminder.Thresholds) position {
	before := billing.DaysBetween(today, due)
	overdue := -before - th.GracePeriodDays
	if overdue < 0 {
		overdue = 0
	}
	return position{daysBefore: before, daysOverdue: overdue}
}

func (r *rung) crossed(pos position, th reminder.Thresholds, st *reminder.State, today time.Time) bool {
	switch r.axis {
	case axisBeforeDue:
		return pos.daysBefore > 0 && pos.daysBefore <= r.threshold(th)
	case axisOverdue:
		return pos.daysOverdue >= r.threshold(th)
	case axisAfterFinal:
		if st == nil || st.Level < reminder.LevelFinal {
			return false
		}
		settled, ok := st.SettledAt()
		return ok && billing.DaysBetween(billing.DateOnly(settled, today.Location()), today) >= r.threshold(th)
	}
	return false
}

// targetLevel is the highest ladder row crossed on today. st may be nil for a pair never evaluated.
func targetLevel(due, today time.Time, th reminder.Thresholds, st *reminder.State) reminder.Level {
	pos := positionOf(due, today, th)
	target := reminder.LevelNone
	for i := range ladder {
		if ladder[i].level > target && ladder[i].crossed(pos, th, st, today) {
			target = ladder[i].level
		}
	}
	return target
}
