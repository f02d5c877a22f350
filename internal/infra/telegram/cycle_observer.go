package telegram

import (
	"context"
	"fmt"
	"strings"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"

	"github.com/sirupsen/logrus"
)

// OwnerDigest tells a project owner which billing cycles were just scheduled.
type OwnerDigest struct {
	chat     notifier.Notifier
	projects billing.ProjectRepository
	log      *logrus.Entry
}

func NewOwnerDigest(chat notifier.Notifier, projects billing.ProjectRepository, log *logrus.Entry) *OwnerDigest {
	return &OwnerDigest{chat: chat, projects: projects, log: log.WithField("component", "owner_digest")}
}

func (d *OwnerDigest) CyclesCreated(ctx context.Context, project *billing.Project, cycles []*billing.Cycle) {
	owner, err := d.projects.GetRecipient(ctx, project.OwnerID)
	if err != nil {
		d.log.WithError(err).WithField("project_id", project.ID).Warn("Cannot load project owner for digest")
		return
	}
	if err := d.chat.Send(ctx, owner, DigestMessage(project, cycles)); err != nil {
		d.log.WithError(err).WithField("project_id", project.ID).Warn("Failed to send cycle digest")
	}
}

// DigestMessage lists the new due dates with each member's share.
func DigestMessage(project *billing.Project, cycles []*billing.Cycle) notifier.Message {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Запланированы новые периоды оплаты «%s»:\n", project.Name))
	for _, c := range cycles {
		sb.WriteString(fmt.Sprintf("- %s: %s %s (доля %s %s)\n",
			c.DueDate.Format("02.01.2006"), c.TotalAmount.StringFixed(2), project.Currency, c.ShareAmount.StringFixed(2), project.Currency))
	}
	return notifier.Message{
		Subject: "Новые периоды оплаты",
		Body:    strings.TrimRight(sb.String(), "\n"),
	}
}
