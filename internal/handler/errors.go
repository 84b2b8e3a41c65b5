package handler // handler contains the HTTP handlers of the circulation API

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/apperr"
)

// errorPayload is the body of every error response.
type errorPayload struct {
	Code          apperr.Code    `json:"code"`
	Kind          apperr.Kind    `json:"kind"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDelivery:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Infrastructure failures are logged with
// the request id and answered with that id only.
func respondError(c echo.Context, err error) error {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Infra("unexpected error", err)
	}
	status := statusFor(e.Kind)
	body := errorPayload{Code: e.Code, Kind: e.Kind, Message: e.Message, Details: e.Details}
	if status >= http.StatusInternalServerError {
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		c.Logger().Errorf("request %s %s failed [%s]: %v", c.Request().Method, c.Path(), rid, err)
		body = errorPayload{
			Code:          e.Code,
			Kind:          e.Kind,
			Message:       "internal error, quote the correlation id when reporting it",
			CorrelationID: rid,
		}
	}
	return c.JSON(status, echo.Map{"error": body})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": echo.Map{"code": "FORBIDDEN", "message": "forbidden"}})
}

// bind decodes and validates a request body.
func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("malformed request body")
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return apperr.Validation(verrs[0].Field() + " is " + describeTag(verrs[0].Tag())).With("fields", fields)
		}
		return apperr.Validation(err.Error())
	}
	return nil
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "max":
		return "too long"
	case "oneof":
		return "not an allowed value"
	}
	return "invalid"
}
