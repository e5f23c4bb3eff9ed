package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/bini59/kiko-vooster/internal/middleware"
	"github.com/bini59/kiko-vooster/internal/service"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator { return &Validator{v: validator.New()} }

func (cv *Validator) Validate(i interface{}) error { return cv.v.Struct(i) }

// bindBody decodes and validates a JSON body.  On failure it writes the 400
// response itself and returns false.
func bindBody(c echo.Context, dst interface{}) (bool, error) {
	if err := c.Bind(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": "invalid request body"})
	}
	if err := c.Validate(dst); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": validationMessage(err)})
	}
	return true, nil
}

func validationMessage(err error) string {
	var fe validator.ValidationErrors
	if !errors.As(err, &fe) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fe))
	for _, f := range fe {
		m := f.Field() + " failed " + f.Tag()
		if f.Param() != "" {
			m += "=" + f.Param()
		}
		msgs = append(msgs, m)
	}
	return strings.Join(msgs, "; ")
}

// writeError maps a service error kind to its HTTP status.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		c.Set("error", err) // picked up by the request logger
	}
	return c.JSON(status, echo.Map{"error": service.Code(err), "message": service.Message(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_error", "message": msg})
}

// actor returns the authenticated user id or nil for anonymous callers.
func actor(c echo.Context) *string {
	if uid := middleware.UserID(c); uid != "" {
		return &uid
	}
	return nil
}

// clientInfo describes the caller for the audit trail.
func clientInfo(c echo.Context) map[string]any {
	return map[string]any{
		"ip":         c.RealIP(),
		"user_agent": c.Request().UserAgent(),
	}
}
