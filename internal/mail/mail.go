// Package mail sends the portal's outbound email.
package mail

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

// Error codes attached to mail errors.
const (
	CodeInvalid   = "MAIL_INVALID"   // the message is missing required fields
	CodeRejected  = "MAIL_REJECTED"  // the provider refused the message
	CodeTransport = "MAIL_TRANSPORT" // the provider could not be reached
)

// Attachment is a file attached to a message. Content is base64-encoded.
type Attachment struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Type        string `json:"type,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// Message is an outbound email.
type Message struct {
	To         []string
	Subject    string
	Content    string // plain text body
	Attachment *Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Normalize trims recipients, drops empty ones, and checks that the message
// has at least one recipient, a subject and content.
func Normalize(msg Message) (Message, error) {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	msg.To = to
	if len(msg.To) == 0 || msg.Subject == "" || msg.Content == "" {
		return msg, oops.Code(CodeInvalid).Errorf("missing required fields")
	}
	if a := msg.Attachment; a != nil && (a.Content == "" || a.Filename == "") {
		return msg, oops.Code(CodeInvalid).Errorf("attachment requires content and filename")
	}
	return msg, nil
}

// HasCode reports whether err carries the given mail error code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}

// LogSender logs messages instead of sending them. Used when no provider is
// configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	msg, err := Normalize(msg)
	if err != nil {
		return err
	}
	slog.Info("email not sent, no provider configured",
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.Content),
		"attachment", msg.Attachment != nil,
	)
	return nil
}
