package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// NtfySender publishes push notifications to an ntfy topic over HTTP.
// The message body is the request body; the title rides in the Title
// header, per the ntfy publish protocol.
type NtfySender struct {
	client *resty.Client
	topic  string
}

// NewNtfySender creates a sender for the given server and topic. Returns
// nil when topic is empty (push delivery disabled). The timeout bounds
// every publish call.
func NewNtfySender(server, topic string, timeout time.Duration) *NtfySender {
	if topic == "" {
		return nil
	}
	client := resty.New()
	client.SetBaseURL(server)
	client.SetTimeout(timeout)
	return &NtfySender{client: client, topic: topic}
}

// Push publishes one notification. Returns the transport status line for
// the audit record, or an error on failure or timeout.
func (s *NtfySender) Push(ctx context.Context, title, body string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Title", title).
		SetHeader("Tags", "airplane").
		SetBody(body).
		Post("/" + url.PathEscape(s.topic))
	if err != nil {
		return "", fmt.Errorf("ntfy publish: %w", err)
	}
	if resp.IsError() {
		return resp.Status(), fmt.Errorf("ntfy publish: %s", resp.Status())
	}
	return resp.Status(), nil
}
