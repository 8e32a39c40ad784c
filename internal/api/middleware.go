package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/nimbus/internal/metrics"
)

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
			contentType := c.Request().Header.Get(echo.HeaderContentType)

			// Allow empty body for some requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json'. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get(echo.HeaderAccept)

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, echo.MIMEApplicationJSON) &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates the :id and :node path parameters
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"id", "node"} {
			value := c.Param(name)
			if value == "" {
				continue
			}

			if strings.ContainsAny(value, " \t\n") {
				return BadRequestError(
					"Invalid ID format",
					name+" cannot contain whitespace",
				)
			}

			if len(value) > 256 {
				return BadRequestError(
					"Invalid ID format",
					name+" must not exceed 256 characters",
				)
			}
		}

		return next(c)
	}
}

// ValidateQueryParams middleware rejects malformed paging parameters on
// list routes.
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"page", "pageCount", "page_count"} {
			raw := c.QueryParam(name)
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return BadRequestError(
					"Invalid "+name+" parameter",
					name+" must be a non-negative integer. Got: "+raw,
				)
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}

// RequestMetrics counts requests by method, route pattern and status.
func RequestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				var ae *APIError
				switch {
				case errors.As(err, &he):
					status = he.Code
				case errors.As(err, &ae):
					status = ae.Code
				default:
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, route, status)

			return err
		}
	}
}
