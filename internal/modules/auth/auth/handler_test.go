package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(f *fixture) *gin.Engine {
	r := gin.New()
	api := r.Group("/api")
	NewHandler(f.svc).RegisterRoutes(api, middleware.Auth(f.svc, nil))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func registerVia(t *testing.T, r http.Handler) AuthResult {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/auth/register", "", RegisterDTO{
		Email: "a@x.com", Password: "pw-secret", Name: "Ann",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[AuthResult](t, w)
}

func TestHandlerRegisterLoginVerify(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	reg := registerVia(t, r)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "a@x.com", reg.User.Email)

	w := doJSON(t, r, http.MethodPost, "/api/auth/register", "", RegisterDTO{
		Email: "a@x.com", Password: "pw-secret", Name: "Ann",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/auth/login", "", LoginDTO{Email: "a@x.com", Password: "pw-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[AuthResult](t, w)

	w = doJSON(t, r, http.MethodGet, "/api/auth/verify", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[verifyResponse](t, w).Valid)

	w = doJSON(t, r, http.MethodPost, "/api/auth/login", "", LoginDTO{Email: "a@x.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerRegisterValidation(t *testing.T) {
	r := newRouter(newFixture(t))

	w := doJSON(t, r, http.MethodPost, "/api/auth/register", "", RegisterDTO{Email: "not-an-email", Password: "pw-secret", Name: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/auth/register", "", RegisterDTO{Email: "a@x.com", Password: "123", Name: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerLogoutThenVerify(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	reg := registerVia(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/auth/logout", reg.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/auth/verify", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[verifyResponse](t, w).Valid)

	// repeated logout and logout without credential are still fine
	assert.Equal(t, http.StatusNoContent, doJSON(t, r, http.MethodPost, "/api/auth/logout", reg.Token, nil).Code)
	assert.Equal(t, http.StatusNoContent, doJSON(t, r, http.MethodPost, "/api/auth/logout", "", nil).Code)
}

func TestHandlerVerifyWithoutCredential(t *testing.T) {
	r := newRouter(newFixture(t))
	w := doJSON(t, r, http.MethodGet, "/api/auth/verify", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[verifyResponse](t, w).Valid)
}

func TestHandlerRefreshReasons(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	reg := registerVia(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/auth/refresh", "unknown", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, reasonInvalidToken, decode[map[string]any](t, w)["reason"])

	f.clock.Advance(tokenTTL + time.Minute)
	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", RefreshDTO{Token: reg.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	next := decode[AuthResult](t, w)

	f.clock.Advance(tokenTTL + 5*time.Minute)
	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", next.Token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, reasonGracePeriodExceeded, decode[map[string]any](t, w)["reason"])

	w = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerRefreshDeletedUser(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	reg := registerVia(t, r)
	require.NoError(t, f.users.Delete(context.Background(), reg.User.ID))

	w := doJSON(t, r, http.MethodPost, "/api/auth/refresh", reg.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerMeAndLogoutAll(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodGet, "/api/auth/me", "", nil).Code)

	reg := registerVia(t, r)
	w := doJSON(t, r, http.MethodGet, "/api/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reg.User.ID, decode[Profile](t, w).ID)

	w = doJSON(t, r, http.MethodPost, "/api/auth/logout-all", reg.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, r, http.MethodGet, "/api/auth/me", reg.Token, nil).Code)
}

func TestHandlerCredentialExhaustionIsRetryable(t *testing.T) {
	f := newFixture(t)
	store := &collidingSessions{MemoryStore: f.sessions, remaining: issueAttempts}
	f.svc = NewService(f.users, store, f.codec, WithClock(f.clock.Now), WithHashCost(bcrypt.MinCost))
	r := newRouter(f)

	body := RegisterDTO{Email: "a@x.com", Password: "pw-secret", Name: "Ann"}
	w := doJSON(t, r, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "already registered")

	w = doJSON(t, r, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
