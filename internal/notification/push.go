package notification

import (
	"context"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// ExpoPushSender delivers the push channel through the Expo push service.
type ExpoPushSender struct {
	client *expo.PushClient
}

func NewExpoPushSender() *ExpoPushSender {
	return &ExpoPushSender{client: expo.NewPushClient(nil)}
}

func (s *ExpoPushSender) SendPush(ctx context.Context, deviceToken, title, body string) (SendResult, error) {
	pushToken, err := expo.NewExponentPushToken(deviceToken)
	if err != nil {
		return SendResult{}, permanentErr("invalid push token format", err)
	}

	select {
	case <-ctx.Done():
		return SendResult{}, retryableErr("context cancelled before send", ctx.Err())
	default:
	}

	response, err := s.client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{pushToken},
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return SendResult{}, retryableErr("expo publish", err)
	}

	if err := response.ValidateResponse(); err != nil {
		// A rejected ticket means the token is dead; retrying will not
		// revive the device.
		return SendResult{}, permanentErr("expo rejected push ticket", err)
	}

	return SendResult{
		MessageID: response.ID,
		Details:   map[string]string{"transport": "expo", "status": response.Status},
	}, nil
}
