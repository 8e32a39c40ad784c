package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"evalgo.org/nimbus/internal/config"
)

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		AuthEnabled:   true,
		JWTSecret:     "test-secret",
		JWTExpiration: time.Hour,
	}
}

func TestParseRole(t *testing.T) {
	for _, name := range []string{"admin", "user", "viewer"} {
		r, err := ParseRole(name)
		require.NoError(t, err)
		assert.Equal(t, Role(name), r)
	}

	_, err := ParseRole("root")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(testSecurity())

	token, err := svc.GenerateToken("alice", []Role{RoleViewer}, 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "nimbus", claims.Issuer)
	assert.True(t, claims.HasRole(RoleViewer))
	assert.False(t, claims.HasRole(RoleAdmin, RoleUser))
}

func TestJWTService_Invalid(t *testing.T) {
	svc := NewJWTService(testSecurity())

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTService(config.SecurityConfig{JWTSecret: "other", JWTExpiration: time.Hour})
	token, err := other.GenerateToken("bob", []Role{RoleAdmin}, 0)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = svc.GenerateToken("bob", []Role{RoleAdmin}, -time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.NoError(t, err, "non-positive expiration uses the configured one")

	_, err = NewJWTService(config.SecurityConfig{}).GenerateToken("x", nil, time.Hour)
	assert.Error(t, err)
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService(testSecurity())
	token, err := svc.GenerateToken("alice", []Role{RoleUser}, time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAPIKeys(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Contains(t, key, "nb_")

	hash, err := HashAPIKey(key)
	require.NoError(t, err)

	assert.NoError(t, CompareAPIKey(key, []string{"bogus", hash}))
	assert.ErrorIs(t, CompareAPIKey("wrong", []string{hash}), ErrInvalidAPIKey)
	assert.ErrorIs(t, CompareAPIKey(key, nil), ErrInvalidAPIKey)
}

func TestMiddleware(t *testing.T) {
	sec := testSecurity()
	hash, err := bcrypt.GenerateFromPassword([]byte("static-key"), bcrypt.MinCost)
	require.NoError(t, err)
	sec.APIKeys = []string{string(hash)}

	svc := NewJWTService(sec)
	viewer, err := svc.GenerateToken("v", []Role{RoleViewer}, 0)
	require.NoError(t, err)
	admin, err := svc.GenerateToken("a", []Role{RoleAdmin}, 0)
	require.NoError(t, err)

	m := NewMiddleware(sec)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	tests := []struct {
		name       string
		middleware echo.MiddlewareFunc
		header     string
		value      string
		query      string
		wantStatus int
	}{
		{name: "no credentials", middleware: m.RequireRead, wantStatus: http.StatusUnauthorized},
		{name: "bad scheme", middleware: m.RequireRead, header: echo.HeaderAuthorization, value: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "bad token", middleware: m.RequireRead, header: echo.HeaderAuthorization, value: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "viewer reads", middleware: m.RequireRead, header: echo.HeaderAuthorization, value: "Bearer " + viewer, wantStatus: http.StatusNoContent},
		{name: "viewer cannot write", middleware: m.RequireWrite, header: echo.HeaderAuthorization, value: "Bearer " + viewer, wantStatus: http.StatusForbidden},
		{name: "admin writes", middleware: m.RequireWrite, header: echo.HeaderAuthorization, value: "Bearer " + admin, wantStatus: http.StatusNoContent},
		{name: "token in query is ignored", middleware: m.RequireRead, query: "?token=" + viewer, wantStatus: http.StatusUnauthorized},
		{name: "token in query on a stream", middleware: m.RequireStream, query: "?token=" + viewer, wantStatus: http.StatusNoContent},
		{name: "bad token in query on a stream", middleware: m.RequireStream, query: "?token=nope", wantStatus: http.StatusUnauthorized},
		{name: "header on a stream", middleware: m.RequireStream, header: echo.HeaderAuthorization, value: "Bearer " + viewer, wantStatus: http.StatusNoContent},
		{name: "api key writes", middleware: m.RequireWrite, header: HeaderAPIKey, value: "static-key", wantStatus: http.StatusNoContent},
		{name: "api key is not admin", middleware: m.RequireAdmin, header: HeaderAPIKey, value: "static-key", wantStatus: http.StatusForbidden},
		{name: "wrong api key", middleware: m.RequireRead, header: HeaderAPIKey, value: "nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/", ok, tt.middleware)

			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	m := NewMiddleware(config.SecurityConfig{})

	e := echo.New()
	e.POST("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, m.RequireAdmin)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
