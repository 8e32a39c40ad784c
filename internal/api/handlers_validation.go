package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// validateInstance validates an instance document without storing it
// @Summary Validate an instance document
// @Description Checks field rules and, when @context is present, JSON-LD expansion
// @Tags validation
// @Accept json
// @Produce json
// @Success 200 {object} validation.ValidationResult
// @Failure 400 {object} validation.ValidationResult
// @Router /validate/instance [post]
func (s *Server) validateInstance(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("Failed to read request body", err.Error())
	}

	result, err := s.validator.ValidateInstance(body)
	if err != nil {
		return InternalError("Validation error", err.Error())
	}

	if result.Valid {
		return c.JSON(http.StatusOK, result)
	}

	return c.JSON(http.StatusBadRequest, result)
}
