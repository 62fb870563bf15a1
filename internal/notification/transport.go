package notification

import (
	"context"
	"errors"
	"fmt"
)

// SendResult carries transport response metadata stored on the record after
// a successful delivery.
type SendResult struct {
	MessageID string
	Details   map[string]string
}

// Channel transports are external collaborators. Implementations classify
// their failures via SendError so the dispatcher can tell a bad address from
// a throttled gateway.
type SMSSender interface {
	SendSMS(ctx context.Context, recipient, text string) (SendResult, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, recipient, subject, htmlBody string) (SendResult, error)
}

type PushSender interface {
	SendPush(ctx context.Context, deviceToken, title, body string) (SendResult, error)
}

// Transports bundles the configured channel senders. A nil sender means the
// channel is not configured in this deployment and is skipped during
// selection.
type Transports struct {
	SMS   SMSSender
	Email EmailSender
	Push  PushSender
}

func (t Transports) available(c Channel) bool {
	switch c {
	case ChannelSMS:
		return t.SMS != nil
	case ChannelEmail:
		return t.Email != nil
	case ChannelPush:
		return t.Push != nil
	}
	return false
}

// SendError classifies a transport failure. Permanent failures (malformed
// address, unregistered device) skip the retry budget entirely; everything
// unclassified defaults to retryable.
type SendError struct {
	Permanent bool
	Reason    string
	Err       error
}

func (e *SendError) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s send failure: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s send failure: %s", kind, e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func permanentErr(reason string, err error) error {
	return &SendError{Permanent: true, Reason: reason, Err: err}
}

func retryableErr(reason string, err error) error {
	return &SendError{Permanent: false, Reason: reason, Err: err}
}

// isPermanent reports whether err is classified as non-retryable.
func isPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}
