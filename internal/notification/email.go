package notification

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// GomailSender delivers the email channel over SMTP.
type GomailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewGomailSender(host string, port int, username, password, from string) *GomailSender {
	return &GomailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *GomailSender) SendEmail(ctx context.Context, recipient, subject, htmlBody string) (SendResult, error) {
	if !strings.Contains(recipient, "@") {
		return SendResult{}, permanentErr("malformed email address", nil)
	}

	select {
	case <-ctx.Done():
		return SendResult{}, retryableErr("context cancelled before send", ctx.Err())
	default:
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		// SMTP failures are overwhelmingly transient from this side:
		// connection refused, throttling, greylisting.
		return SendResult{}, retryableErr("smtp send", err)
	}

	// SMTP does not hand back a message id; mint a local reference.
	return SendResult{
		MessageID: uuid.NewString(),
		Details:   map[string]string{"transport": "smtp", "to": recipient},
	}, nil
}
