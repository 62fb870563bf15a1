package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSMSSender delivers SMS through a JSON gateway: POST {to, message},
// 2xx returns {"message_id": "..."}.
type HTTPSMSSender struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPSMSSender(url, apiKey string) *HTTPSMSSender {
	return &HTTPSMSSender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, recipient, text string) (SendResult, error) {
	if !looksLikePhone(recipient) {
		return SendResult{}, permanentErr("malformed phone number", nil)
	}

	body, err := json.Marshal(map[string]string{
		"to":      recipient,
		"message": text,
	})
	if err != nil {
		return SendResult{}, permanentErr("encode sms payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, permanentErr("build sms request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, retryableErr("sms gateway unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			MessageID string `json:"message_id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return SendResult{
			MessageID: out.MessageID,
			Details:   map[string]string{"transport": "sms-gateway", "to": recipient},
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return SendResult{}, retryableErr(fmt.Sprintf("sms gateway status %d", resp.StatusCode), nil)
	default:
		return SendResult{}, permanentErr(fmt.Sprintf("sms gateway rejected message, status %d", resp.StatusCode), nil)
	}
}

func looksLikePhone(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if len(s) < 7 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
