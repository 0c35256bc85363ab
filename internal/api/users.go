package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/nutripublic/portal/internal/storage"
)

func (s *Server) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "countUsers",
		Method:      http.MethodGet,
		Path:        "/api/users/count",
		Tags:        []string{"Users"},
		Summary:     "Count users by role",
	}, func(ctx context.Context, input *struct{}) (*CountUsersOutput, error) {
		counts, err := s.store.CountUsersByRole(ctx)
		if err != nil {
			slog.Error("count users failed", "error", err)
			return nil, huma.NewError(http.StatusInternalServerError, "Error counting users")
		}
		out := &CountUsersOutput{}
		out.Body.RoleCounts = counts
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateProfile",
		Method:      http.MethodPut,
		Path:        "/api/profile",
		Tags:        []string{"Users"},
		Summary:     "Create or update the signed-in user's profile",
		Middlewares: huma.Middlewares{s.requireSession(api)},
	}, func(ctx context.Context, input *UpdateProfileInput) (*UpdateProfileOutput, error) {
		sess := sessionFromContext(ctx)
		username := strings.TrimSpace(input.Body.Username)
		if err := validateUsername(username); err != nil {
			return nil, huma.NewError(http.StatusBadRequest, err.Error())
		}

		u := &storage.User{
			Email:    sess.Email,
			UID:      sess.UID,
			Username: username,
			Role:     strings.TrimSpace(input.Body.Role),
			Rating:   input.Body.Rating,
		}
		if err := s.store.UpsertUser(ctx, u); err != nil {
			slog.Error("update profile failed", "email", sess.Email, "error", err)
			return nil, huma.NewError(http.StatusInternalServerError, "failed to update profile")
		}
		if s.profiles != nil {
			s.profiles.Invalidate(sess.Email)
		}

		out := &UpdateProfileOutput{}
		out.Body.Email = u.Email
		out.Body.Username = u.Username
		out.Body.Role = u.Role
		out.Body.Rating = u.Rating
		return out, nil
	})
}
