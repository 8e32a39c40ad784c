// Package auth provides authentication and authorization services for Nimbus.
// It implements JWT-based authentication with role-based access control (RBAC)
// and bcrypt hashed static API keys.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"evalgo.org/nimbus/internal/config"
)

var (
	// ErrInvalidToken is returned when a JWT token is invalid
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a JWT token has expired
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidAPIKey is returned when an API key matches none of the configured hashes
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrUnknownRole is returned when a role name is not recognized
	ErrUnknownRole = errors.New("unknown role")
)

// Role is the name of an access level.
type Role string

const (
	// RoleAdmin may do everything
	RoleAdmin Role = "admin"
	// RoleUser may read and modify instances
	RoleUser Role = "user"
	// RoleViewer may only read
	RoleViewer Role = "viewer"
)

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleUser, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Claims represents JWT custom claims
type Claims struct {
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant any of roles.
func (c *Claims) HasRole(roles ...Role) bool {
	for _, required := range roles {
		for _, r := range c.Roles {
			if r == required {
				return true
			}
		}
	}
	return false
}

// JWTService provides JWT authentication services
type JWTService struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.SecurityConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.JWTSecret),
		expiration: cfg.JWTExpiration,
	}
}

// GenerateToken issues a signed token for subject with the given roles.
// A non-positive expiration falls back to the configured one.
func (s *JWTService) GenerateToken(subject string, roles []Role, expiration time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("jwt secret is required")
	}
	if expiration <= 0 {
		expiration = s.expiration
	}

	now := time.Now()
	claims := Claims{
		Name:  subject,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "nimbus",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateAPIKey generates a random API key
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return "nb_" + base64.URLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key for storage in the configuration
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// CompareAPIKey checks key against the configured hashes.
func CompareAPIKey(key string, hashes []string) error {
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidAPIKey
}
