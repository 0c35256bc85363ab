package api

import (
	"github.com/nutripublic/portal/internal/mail"
	"github.com/nutripublic/portal/internal/session"
)

// --- Health ---

type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type ReadinessOutput struct {
	Body struct {
		Status      string `json:"status"`
		Database    string `json:"database"`
		Initialized bool   `json:"initialized"`
	}
}

// --- Session ---

type SessionBody struct {
	Initialized     bool             `json:"initialized"`
	IsAuthenticated bool             `json:"isAuthenticated"`
	Session         *session.Session `json:"session,omitempty"`
}

type GetSessionInput struct {
	Wait bool `query:"wait" doc:"Block until the identity provider has reported the initial sign-in state"`
}

type GetSessionOutput struct {
	Body SessionBody
}

// SessionEvent is one message on the session stream.
type SessionEvent struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	Session         *session.Session `json:"session,omitempty"`
}

type LogoutOutput struct{}

// --- Auth ---

type TokenSignInInput struct {
	Body struct {
		Token string `json:"token" doc:"Signed JWT"`
	}
}

type GoogleSignInInput struct {
	Body struct {
		IDToken string `json:"idToken" doc:"Google ID token"`
	}
}

type SignInOutput struct {
	Body struct {
		UID   string `json:"uid"`
		Email string `json:"email"`
	}
}

// --- Events ---

type LocationEvent struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Location string `json:"location"`
}

type TimeEvent struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

type LocationEventsOutput struct {
	Body struct {
		Events []LocationEvent `json:"events"`
		Total  int             `json:"total"`
	}
}

type TimeEventsOutput struct {
	Body struct {
		Events []TimeEvent `json:"events"`
		Total  int         `json:"total"`
	}
}

type CreateEventInput struct {
	Body struct {
		Title    string `json:"title" required:"true" minLength:"1"`
		Content  string `json:"content"`
		Location string `json:"location"`
		Time     string `json:"time,omitempty" doc:"RFC 3339 timestamp"`
	}
}

type CreateEventOutput struct {
	Body struct {
		ID string `json:"id"`
	}
}

// --- Users ---

type CountUsersOutput struct {
	Body struct {
		RoleCounts map[string]int `json:"roleCounts"`
	}
}

type UpdateProfileInput struct {
	Body struct {
		Username string   `json:"username"`
		Role     string   `json:"role,omitempty"`
		Rating   *float64 `json:"rating,omitempty" minimum:"0" maximum:"5"`
	}
}

type UpdateProfileOutput struct {
	Body struct {
		Email    string   `json:"email"`
		Username string   `json:"username"`
		Role     string   `json:"role,omitempty"`
		Rating   *float64 `json:"rating,omitempty"`
	}
}

// --- Email ---

type SendEmailInput struct {
	Body struct {
		To         []string         `json:"to"`
		Subject    string           `json:"subject"`
		Content    string           `json:"content"`
		Attachment *mail.Attachment `json:"attachment,omitempty"`
	}
}

type SendEmailOutput struct {
	Body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
}
