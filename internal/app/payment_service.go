package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"

	"github.com/sirupsen/logrus"
)

// Callback data prefixes of the owner's confirmation buttons.
const (
	ConfirmCallbackPrefix = "confirm_"
	RejectCallbackPrefix  = "reject_"
)

var (
	ErrNotProjectOwner  = errors.New("only the project owner can resolve this payment")
	ErrNotProjectMember = errors.New("recipient does not owe a share of this project")
	ErrPaymentResolved  = errors.New("payment is already resolved")
	ErrCycleClosed      = errors.New("billing cycle is already confirmed or archived")
)

// PaymentService handles payment reports from members and their resolution by the owner.
type PaymentService struct {
	payments billing.PaymentRepository
	cycles   billing.CycleRepository
	projects billing.ProjectRepository
	engine   *EscalationEngine
	chat     notifier.Notifier // Optional; nil disables owner/member chat messages
	log      *logrus.Entry
	now      func() time.Time
}

func NewPaymentService(
	payments billing.PaymentRepository,
	cycles billing.CycleRepository,
	projects billing.ProjectRepository,
	engine *EscalationEngine,
	chat notifier.Notifier,
	log *logrus.Entry,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		cycles:   cycles,
		projects: projects,
		engine:   engine,
		chat:     chat,
		log:      log.WithField("component", "payment_service"),
		now:      time.Now,
	}
}

// SubmitPayment records that a member says they paid. The cycle awaits the owner's
// confirmation and reminders for the member pause meanwhile.
func (s *PaymentService) SubmitPayment(ctx context.Context, cycleID, recipientID int64) (*billing.Payment, error) {
	cycle, err := s.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Open() {
		return nil, ErrCycleClosed
	}
	project, err := s.projects.GetByID(ctx, cycle.ProjectID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.projects.ListRecipients(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	var member, owner *billing.Recipient
	for _, r := range recipients {
		if r.IsOwner {
			owner = r
		} else if r.ID == recipientID {
			member = r
		}
	}
	if member == nil {
		return nil, ErrNotProjectMember
	}

	p := &billing.Payment{
		CycleID:     cycleID,
		RecipientID: recipientID,
		Status:      billing.PaymentStatusPending,
		SubmittedAt: s.now(),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"payment_id": p.ID, "cycle_id": cycleID, "recipient_id": recipientID}).Info("Payment submitted")

	if owner != nil {
		s.tell(ctx, owner, notifier.Message{
			Subject: "Подтвердите оплату",
			Body: fmt.Sprintf("%s сообщает, что оплатил(а) «%s» за %s: %s %s. Деньги пришли?",
				member.DisplayName(), project.Name, cycle.DueDate.Format("02.01.2006"), cycle.ShareAmount.StringFixed(2), project.Currency),
			Actions: []notifier.Action{
				{Label: "Подтвердить", Data: fmt.Sprintf("%s%d", ConfirmCallbackPrefix, p.ID)},
				{Label: "Отклонить", Data: fmt.Sprintf("%s%d", RejectCallbackPrefix, p.ID)},
			},
		})
	}
	return p, nil
}

// ConfirmPayment is the owner confirming the money arrived. The member's reminders stop for
// good, and the cycle is confirmed once every member's payment is.
func (s *PaymentService) ConfirmPayment(ctx context.Context, ownerTelegramID, paymentID int64) (*billing.Payment, error) {
	p, cycle, project, err := s.resolvable(ctx, ownerTelegramID, paymentID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	// Freeze first: the payment stays pending and confirmable if this fails.
	if err := s.engine.MarkPaid(ctx, cycle.ID, p.RecipientID, now); err != nil {
		return nil, fmt.Errorf("failed to stop reminders: %w", err)
	}
	p.Status = billing.PaymentStatusConfirmed
	p.ResolvedAt.Time, p.ResolvedAt.Valid = now, true
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}
	if err := s.confirmCycleIfSettled(ctx, cycle, project, now); err != nil {
		return nil, err
	}

	if member, err := s.projects.GetRecipient(ctx, p.RecipientID); err == nil {
		s.tell(ctx, member, notifier.Message{
			Subject: "Оплата подтверждена",
			Body:    fmt.Sprintf("Владелец подтвердил вашу оплату «%s» за %s. Спасибо!", project.Name, cycle.DueDate.Format("02.01.2006")),
		})
	}
	s.log.WithFields(logrus.Fields{"payment_id": p.ID, "cycle_id": cycle.ID}).Info("Payment confirmed")
	return p, nil
}

// RejectPayment is the owner saying the money did not arrive. Reminders resume from the
// level the member had reached.
func (s *PaymentService) RejectPayment(ctx context.Context, ownerTelegramID, paymentID int64) (*billing.Payment, error) {
	p, cycle, project, err := s.resolvable(ctx, ownerTelegramID, paymentID)
	if err != nil {
		return nil, err
	}

	p.Status = billing.PaymentStatusRejected
	p.ResolvedAt.Time, p.ResolvedAt.Valid = s.now(), true
	if err := s.payments.Update(ctx, p); err != nil {
		return nil, err
	}

	if member, err := s.projects.GetRecipient(ctx, p.RecipientID); err == nil {
		s.tell(ctx, member, notifier.Message{
			Subject: "Оплата не подтверждена",
			Body:    fmt.Sprintf("Владелец не нашёл вашу оплату «%s» за %s. Проверьте перевод и отметьте оплату ещё раз.", project.Name, cycle.DueDate.Format("02.01.2006")),
			Actions: []notifier.Action{
				{Label: "Я оплатил", Data: fmt.Sprintf("%s%d_%d", PaidCallbackPrefix, cycle.ID, p.RecipientID)},
			},
		})
	}
	s.log.WithFields(logrus.Fields{"payment_id": p.ID, "cycle_id": cycle.ID}).Info("Payment rejected")
	return p, nil
}

func (s *PaymentService) resolvable(ctx context.Context, ownerTelegramID, paymentID int64) (*billing.Payment, *billing.Cycle, *billing.Project, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, nil, err
	}
	cycle, err := s.cycles.GetByID(ctx, p.CycleID)
	if err != nil {
		return nil, nil, nil, err
	}
	project, err := s.projects.GetByID(ctx, cycle.ProjectID)
	if err != nil {
		return nil, nil, nil, err
	}
	owner, err := s.projects.GetRecipient(ctx, project.OwnerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !owner.TelegramID.Valid || owner.TelegramID.Int64 != ownerTelegramID {
		return nil, nil, nil, ErrNotProjectOwner
	}
	if p.Status != billing.PaymentStatusPending {
		return nil, nil, nil, ErrPaymentResolved
	}
	return p, cycle, project, nil
}

func (s *PaymentService) confirmCycleIfSettled(ctx context.Context, cycle *billing.Cycle, project *billing.Project, now time.Time) error {
	recipients, err := s.projects.ListRecipients(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	payments, err := s.payments.ListByCycle(ctx, cycle.ID)
	if err != nil {
		return err
	}
	paid := make(map[int64]bool, len(payments))
	for _, pm := range payments {
		if pm.Status == billing.PaymentStatusConfirmed {
			paid[pm.RecipientID] = true
		}
	}
	for _, r := range billing.Debtors(recipients) {
		if !paid[r.ID] {
			return nil
		}
	}
	if err := s.cycles.MarkConfirmed(ctx, cycle.ID, now); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"project_id": project.ID, "cycle_id": cycle.ID}).Info("Billing cycle fully paid")
	return nil
}

func (s *PaymentService) tell(ctx context.Context, r *billing.Recipient, msg notifier.Message) {
	if s.chat == nil {
		return
	}
	if err := s.chat.Send(ctx, r, msg); err != nil {
		s.log.WithError(err).WithField("recipient_id", r.ID).Warn("Failed to send payment message")
	}
}
