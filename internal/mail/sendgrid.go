package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultSendGridURL is the SendGrid v3 mail send endpoint.
const DefaultSendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	APIKey   string
	FromAddr string
	FromName string
	URL      string        // default: DefaultSendGridURL
	Retries  uint64        // retries after the first attempt (default: 3)
	Backoff  time.Duration // first retry delay (default: 500ms)
	Client   *http.Client  // default: 15s timeout client
}

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	config SendGridConfig
	client *http.Client
}

var _ Sender = (*SendGridSender)(nil)

// NewSendGridSender creates a sender. APIKey and FromAddr are required.
func NewSendGridSender(config SendGridConfig) (*SendGridSender, error) {
	if config.APIKey == "" || config.FromAddr == "" {
		return nil, oops.Code(CodeInvalid).Errorf("sendgrid api key and from address are required")
	}
	if config.URL == "" {
		config.URL = DefaultSendGridURL
	}
	if config.Retries == 0 {
		config.Retries = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = 500 * time.Millisecond
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SendGridSender{config: config, client: client}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgRequest struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	Attachments      []Attachment        `json:"attachments,omitempty"`
}

type sgErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Send posts msg to SendGrid. Rate limiting (429) and server errors are
// retried with exponential backoff; other non-2xx responses are rejections.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	msg, err := Normalize(msg)
	if err != nil {
		return err
	}

	payload := sgRequest{
		From:    sgAddress{Email: s.config.FromAddr, Name: s.config.FromName},
		Subject: msg.Subject,
		Content: []sgContent{{Type: "text/plain", Value: msg.Content}},
	}
	p := sgPersonalization{}
	for _, addr := range msg.To {
		p.To = append(p.To, sgAddress{Email: addr})
	}
	payload.Personalizations = []sgPersonalization{p}
	if msg.Attachment != nil {
		payload.Attachments = []Attachment{*msg.Attachment}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}

	backoff := retry.WithMaxRetries(s.config.Retries, retry.NewExponential(s.config.Backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return s.post(ctx, body)
	})
}

func (s *SendGridSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return oops.Code(CodeTransport).Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return retry.RetryableError(oops.Code(CodeTransport).With("url", s.config.URL).Wrap(err))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := describeFailure(resp.StatusCode, respBody)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.RetryableError(oops.Code(CodeTransport).With("status", resp.StatusCode).Errorf("sendgrid: %s", reason))
	}
	return oops.Code(CodeRejected).With("status", resp.StatusCode).Errorf("sendgrid: %s", reason)
}

func describeFailure(status int, body []byte) string {
	var parsed sgErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return fmt.Sprintf("%d %s", status, parsed.Errors[0].Message)
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
