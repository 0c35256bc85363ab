package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/session"
)

func (s *Server) registerSession(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Tags:        []string{"Session"},
		Summary:     "Current sign-in state",
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		if input.Wait {
			select {
			case <-s.gate.Done():
			case <-ctx.Done():
				return nil, huma.Error503ServiceUnavailable("identity provider has not reported yet")
			}
		}
		out := &GetSessionOutput{}
		out.Body = s.sessionBody()
		return out, nil
	})

	sse.Register(api, huma.Operation{
		OperationID: "streamSession",
		Method:      http.MethodGet,
		Path:        "/api/session/stream",
		Tags:        []string{"Session"},
		Summary:     "Stream sign-in state changes",
	}, map[string]any{
		"session": SessionEvent{},
	}, func(ctx context.Context, input *struct{}, send sse.Sender) {
		s.streamSession(ctx, send)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/api/session/logout",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct{}) (*LogoutOutput, error) {
		if err := s.logout(ctx, remoteAddrFromContext(ctx)); err != nil {
			return nil, huma.Error502BadGateway("sign-out failed", err)
		}
		return &LogoutOutput{}, nil
	})
}

func (s *Server) sessionBody() SessionBody {
	snap := s.sessions.Snapshot()
	return SessionBody{
		Initialized:     s.gate.Settled(),
		IsAuthenticated: snap.IsAuthenticated,
		Session:         snap.Current,
	}
}

// streamSession sends the settled state, then every subsequent change.
// Slow clients only ever see the latest state.
func (s *Server) streamSession(ctx context.Context, send sse.Sender) {
	sessionStreamsActive.Inc()
	defer sessionStreamsActive.Dec()

	updates := make(chan session.Snapshot, 1)
	unsubscribe := s.sessions.Subscribe(func(snap session.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case <-s.gate.Done():
	case <-ctx.Done():
		return
	}
	if err := send.Data(toSessionEvent(s.sessions.Snapshot())); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := send.Data(toSessionEvent(snap)); err != nil {
				slog.Debug("session stream closed", "error", err)
				return
			}
		}
	}
}

func toSessionEvent(snap session.Snapshot) SessionEvent {
	return SessionEvent{IsAuthenticated: snap.IsAuthenticated, Session: snap.Current}
}

// logout asks the provider to sign out and waits for the store to follow.
func (s *Server) logout(ctx context.Context, ip string) error {
	actor := s.actor()
	if err := s.provider.SignOut(ctx); err != nil {
		slog.Error("sign-out failed", "provider", s.provider.Name(), "error", err)
		audit.Event{Actor: actor, Action: "logout", Status: "failed", Reason: err.Error(), IP: ip, Provider: s.provider.Name()}.Warn("Audit Log: Logout Failed")
		return err
	}
	s.waitForSession(ctx, func(snap session.Snapshot) bool { return !snap.IsAuthenticated })
	audit.Event{Actor: actor, Action: "logout", Status: "granted", IP: ip, Provider: s.provider.Name()}.Info("Audit Log: Logout")
	return nil
}

// waitForSession blocks until the gate has settled and pred holds for the
// current snapshot, or until signInWait elapses or ctx ends. It reports
// whether pred was satisfied.
func (s *Server) waitForSession(ctx context.Context, pred func(session.Snapshot) bool) bool {
	changed := make(chan struct{}, 1)
	unsubscribe := s.sessions.Subscribe(func(session.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, s.signInWait)
	defer cancel()

	gateDone := s.gate.Done()
	for {
		if s.gate.Settled() && pred(s.sessions.Snapshot()) {
			return true
		}
		select {
		case <-changed:
		case <-gateDone:
			gateDone = nil
		case <-ctx.Done():
			slog.Warn("session did not reach the expected state in time", "wait", s.signInWait)
			return false
		}
	}
}

type remoteAddrKey struct{}

// withRemoteAddr records the client address for handlers that audit.
func withRemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), remoteAddrKey{}, r.RemoteAddr)))
	})
}

func remoteAddrFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(remoteAddrKey{}).(string)
	return ip
}
