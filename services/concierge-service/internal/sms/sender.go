package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// WebhookSender posts {"to","body"} to an SMS gateway webhook.
type WebhookSender struct {
	url   string
	token string
	http  *resty.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: resty.New().
			SetTimeout(5 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

func (s *WebhookSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	req := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"to":   to,
			"body": body,
		})
	if s.token != "" {
		req.SetAuthToken(s.token)
	}
	resp, err := req.Post(s.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("sms webhook returned %s", resp.Status())
	}
	return nil
}

// NoopSender accepts every message. Used when no gateway is configured.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}
