package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/enrich"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateID), errors.Is(err, domain.ErrSetMismatch), errors.Is(err, ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, enrich.ErrAllProvidersFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorStage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return "upstream"
	default:
		return "service"
	}
}

// writeError maps err onto an HTTP status and a {"error": ...} body.
func writeError(c echo.Context, logger *log.Logger, err error) error {
	status := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(errorStage(status))
	}
	if status >= http.StatusInternalServerError && logger != nil {
		logger.WithError(err).WithFields(log.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage("invalid_body")
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}
