package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) (*AuthService, *VerificationService, *captureMailer) {
	t.Helper()
	repo := newTestRepo(t)
	mailer := &captureMailer{}
	return NewAuthService(repo, "test-secret", false),
		NewVerificationService(repo, NewDBRateLimiter(repo), mailer),
		mailer
}

func TestSignupAndLogin(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	ctx := context.Background()

	resp, err := auth.Signup(ctx, " New@Example.com ", "password123", "New User")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.Equal(t, 2, resp.User.DocumentCredits)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	_, err = auth.Signup(ctx, "new@example.com", "password123", "")
	assert.EqualError(t, err, "user already exists")
	_, err = auth.Signup(ctx, "short@example.com", "pw", "")
	assert.Error(t, err)

	login, err := auth.Login(ctx, "NEW@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, login.User.ID)

	_, err = auth.Login(ctx, "new@example.com", "wrong-password")
	assert.EqualError(t, err, "invalid credentials")
	_, err = auth.Login(ctx, "ghost@example.com", "password123")
	assert.EqualError(t, err, "invalid credentials")
}

func TestAccessAndRefreshTokens(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	ctx := context.Background()

	resp, err := auth.Signup(ctx, "tokens@example.com", "password123", "")
	require.NoError(t, err)

	user, err := auth.VerifyAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, user.ID)

	other := NewAuthService(auth.repo, "another-secret", false)
	_, err = other.VerifyAccessToken(ctx, resp.AccessToken)
	assert.Error(t, err)

	refreshed, err := auth.RefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)

	require.NoError(t, auth.Logout(ctx, resp.User.ID))
	_, err = auth.RefreshToken(ctx, resp.RefreshToken)
	assert.Error(t, err)
	_, err = auth.VerifyPermanentToken(ctx, resp.PermanentToken)
	assert.Error(t, err)
}

func TestMiddlewareFallsBackToRefreshCookie(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	resp, err := auth.Signup(context.Background(), "cookie@example.com", "password123", "")
	require.NoError(t, err)

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(userFromContext(r.Context()).Email))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "garbage"})
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: resp.RefreshToken})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cookie@example.com", rec.Body.String())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "access_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalMiddlewareAllowsAnonymous(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	var sawUser bool
	handler := auth.OptionalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUser = userFromContext(r.Context()) != nil
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sawUser)
}

func TestAuthEndpoints(t *testing.T) {
	auth, verification, mailer := newTestAuth(t)
	router := chi.NewRouter()
	NewAuthEndpoints(auth, verification).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email": "flow@example.com", "password": "password123", "full_name": "Flow"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		User map[string]interface{} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "flow@example.com", body.User["email"])
	assert.Equal(t, false, body.User["email_verified"])
	assert.NotContains(t, rec.Body.String(), "password")

	var access *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "access_token" {
			access = c
		}
	}
	require.NotNil(t, access)

	token := mailer.last("flow@example.com")
	require.NotEmpty(t, token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token": "`+token+`"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/verify", strings.NewReader(`{"token": "`+token+`"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(access)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email_verified":true`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email": "flow@example.com", "password": "nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/verification/resend", strings.NewReader(`{"email": "nobody@example.com"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
