package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/nimbus/internal/config"
)

const (
	// ContextKeyClaims is the key for storing JWT claims in context
	ContextKeyClaims = "claims"

	// HeaderAPIKey carries a static API key
	HeaderAPIKey = "X-API-Key"
)

// Middleware is the authentication middleware
type Middleware struct {
	jwtService *JWTService
	config     config.SecurityConfig
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg config.SecurityConfig) *Middleware {
	return &Middleware{
		jwtService: NewJWTService(cfg),
		config:     cfg,
	}
}

// RequireAuth is middleware that requires a bearer token or an API key.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return m.authenticate(next, false)
}

// RequireStream is RequireAuth for streaming endpoints. Websocket clients
// that cannot set headers may pass the token in the "token" query
// parameter.
func (m *Middleware) RequireStream(next echo.HandlerFunc) echo.HandlerFunc {
	return m.authenticate(next, true)
}

func (m *Middleware) authenticate(next echo.HandlerFunc, allowQuery bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Skip if auth is disabled
		if !m.config.AuthEnabled {
			return next(c)
		}

		if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
			if err := CompareAPIKey(key, m.config.APIKeys); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			c.Set(ContextKeyClaims, &Claims{Name: "api-key", Roles: []Role{RoleUser}})
			return next(c)
		}

		tokenString, err := bearerToken(c, allowQuery)
		if err != nil {
			return err
		}

		claims, err := m.jwtService.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		// Store claims in context
		c.Set(ContextKeyClaims, claims)

		return next(c)
	}
}

func bearerToken(c echo.Context, allowQuery bool) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" && allowQuery {
			return token, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
	}
	return parts[1], nil
}

// RequireRole is middleware that authenticates the request and requires
// one of roles.
func (m *Middleware) RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return m.RequireAuth(func(c echo.Context) error {
			if !m.config.AuthEnabled {
				return next(c)
			}

			claims, ok := GetClaims(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !claims.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}

			return next(c)
		})
	}
}

// RequireAdmin is middleware that requires admin role
func (m *Middleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(RoleAdmin)(next)
}

// RequireWrite is middleware that requires write permissions (admin or user role)
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(RoleAdmin, RoleUser)(next)
}

// RequireRead is middleware that requires read permissions (any authenticated user)
func (m *Middleware) RequireRead(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(next)
}

// GetClaims extracts JWT claims from Echo context
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}
