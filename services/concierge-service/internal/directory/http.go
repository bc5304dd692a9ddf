package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	otelx "github.com/md-rashed-zaman/apptconcierge/libs/otel"
)

// HTTPSyncer upserts contacts directly against a mailing-list REST API.
type HTTPSyncer struct {
	client *resty.Client
	listID string
}

func NewHTTPSyncer(baseURL, apiKey, listID string, timeout time.Duration) (*HTTPSyncer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("directory base url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPSyncer{client: client, listID: strings.TrimSpace(listID)}, nil
}

func (s *HTTPSyncer) Name() string {
	return "http"
}

func (s *HTTPSyncer) Sync(ctx context.Context, c Contact) error {
	path := "/contacts"
	if s.listID != "" {
		path = fmt.Sprintf("/lists/%s/contacts", s.listID)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeaders(otelx.TraceHeaders(ctx)).
		SetBody(c).
		Put(path)
	if err != nil {
		return fmt.Errorf("directory upsert request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("directory upsert: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}
