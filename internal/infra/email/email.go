package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
)

// Config is the SMTP relay the channel sends through.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier delivers notifications as plain-text email.
type Notifier struct {
	cfg  Config
	auth smtp.Auth
	send sendFunc
}

func NewNotifier(cfg Config) *Notifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Notifier{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (n *Notifier) Channel() notifier.Channel {
	return notifier.ChannelEmail
}

func (n *Notifier) Send(ctx context.Context, recipient *billing.Recipient, msg notifier.Message) error {
	if !recipient.Email.Valid || strings.TrimSpace(recipient.Email.String) == "" {
		return &notifier.DeliveryError{Channel: notifier.ChannelEmail, Permanent: true, Err: notifier.ErrNoAddress}
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	body := compose(n.cfg.From, recipient, msg)

	// smtp.SendMail takes no context; run it aside so a cancelled attempt returns promptly.
	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, n.auth, n.cfg.From, []string{recipient.Email.String}, body)
	}()
	select {
	case <-ctx.Done():
		return &notifier.DeliveryError{Channel: notifier.ChannelEmail, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &notifier.DeliveryError{Channel: notifier.ChannelEmail, Permanent: isPermanent(err), Err: err}
		}
		return nil
	}
}

// isPermanent treats 5xx SMTP replies (mailbox unknown, rejected) as final.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}

var priorityHeader = map[notifier.Priority]string{
	notifier.PriorityNormal:  "3",
	notifier.PriorityHigh:    "2",
	notifier.PriorityHighest: "1",
}

func compose(from string, r *billing.Recipient, msg notifier.Message) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", r.Email.String)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&sb, "X-Priority: %s\r\n", priorityHeader[msg.Priority])
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
