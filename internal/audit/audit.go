package audit

import "log/slog"

// Enabled controls whether audit log entries are emitted. Tests that don't
// exercise auditing turn it off.
var Enabled = true

// Anonymous is the actor recorded when no session is present.
const Anonymous = "anonymous"

// Event is a structured audit log entry. Only non-zero fields are logged.
type Event struct {
	Actor      string // Session email, or Anonymous.
	Action     string // Operation ID or action name (login_success, logout, send_email).
	Status     string // "granted", "denied", "failed".
	Resource   string // Target resource, e.g. the page path or event id.
	Method     string // HTTP method.
	HTTPStatus int    // HTTP response status code.
	Reason     string // Explanation for denial or failure.
	IP         string // Client IP address.
	Provider   string // Identity provider name (static, oidc, google, jwt).
	Recipients int    // Number of email recipients.
	Extra      []any  // Additional slog attrs for one-off fields.
}

// Info emits the event at INFO level.
func (e Event) Info(msg string) {
	if !Enabled {
		return
	}
	slog.Info(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// Warn emits the event at WARN level.
func (e Event) Warn(msg string) {
	if !Enabled {
		return
	}
	slog.Warn(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// attrs builds the slog attribute list, skipping zero-value fields.
func (e Event) attrs() []any {
	var attrs []any
	str := func(key, v string) {
		if v != "" {
			attrs = append(attrs, slog.String(key, v))
		}
	}
	str("actor", e.Actor)
	str("action", e.Action)
	str("status", e.Status)
	str("resource", e.Resource)
	str("method", e.Method)
	if e.HTTPStatus != 0 {
		attrs = append(attrs, slog.Int("http_status", e.HTTPStatus))
	}
	str("reason", e.Reason)
	str("ip_address", e.IP)
	str("provider", e.Provider)
	if e.Recipients != 0 {
		attrs = append(attrs, slog.Int("recipients", e.Recipients))
	}
	attrs = append(attrs, e.Extra...)
	return attrs
}
