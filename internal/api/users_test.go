package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/nutripublic/portal/internal/storage"
)

func TestCountUsers(t *testing.T) {
	store := new(MockStore)
	h, p := signedOut(t)
	srv := newTestServer(store, h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerUsers(api)

	store.On("CountUsersByRole", mock.Anything).Return(map[string]int{
		"admin":               1,
		"user":                4,
		storage.UndefinedRole: 2,
	}, nil)

	resp := api.Get("/api/users/count")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"roleCounts":{"admin":1,"user":4,"undefined":2}}`, resp.Body.String())
}

func TestCountUsers_StoreError(t *testing.T) {
	store := new(MockStore)
	h, p := signedOut(t)
	srv := newTestServer(store, h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerUsers(api)

	store.On("CountUsersByRole", mock.Anything).Return(nil, errors.New("locked"))

	resp := api.Get("/api/users/count")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.JSONEq(t, `{"code":500,"message":"Error counting users"}`, resp.Body.String())
}

func TestUpdateProfile(t *testing.T) {
	store := new(MockStore)
	cache := &recordingInvalidator{}
	h, p := signedIn(t, "uid-ada", "ada@example.com", nil)
	srv := newTestServer(store, h, p, WithProfileCache(cache))
	_, api := humatest.New(t, newHumaConfig())
	srv.registerUsers(api)

	store.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u *storage.User) bool {
		return u.Email == "ada@example.com" && u.UID == "uid-ada" && u.Username == "Ada L" &&
			u.Role == "admin" && u.Rating != nil && *u.Rating == 4.5
	})).Return(nil)

	resp := api.Put("/api/profile", map[string]any{"username": "  Ada L ", "role": "admin", "rating": 4.5})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"email":"ada@example.com","username":"Ada L","role":"admin","rating":4.5}`, resp.Body.String())
	store.AssertExpectations(t)
	assert.Equal(t, []string{"ada@example.com"}, cache.emails)
}

func TestUpdateProfile_Validation(t *testing.T) {
	store := new(MockStore)
	h, p := signedIn(t, "uid-ada", "ada@example.com", nil)
	srv := newTestServer(store, h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerUsers(api)

	resp := api.Put("/api/profile", map[string]any{"username": "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.JSONEq(t, `{"code":400,"message":"username must be at least 3 characters"}`, resp.Body.String())
	store.AssertNotCalled(t, "UpsertUser", mock.Anything, mock.Anything)
}

func TestUpdateProfile_RequiresSession(t *testing.T) {
	store := new(MockStore)
	h, p := signedOut(t)
	srv := newTestServer(store, h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerUsers(api)

	resp := api.Put("/api/profile", map[string]any{"username": "Ada Lovelace"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
