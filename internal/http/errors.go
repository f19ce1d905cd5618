package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/push-relay/internal/provider"
	"github.com/jmehdipour/push-relay/internal/ratelimit"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/jmehdipour/push-relay/internal/service/queue"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type failureResponse struct {
	Status string     `json:"status"`
	Errors []apiError `json:"errors"`
}

func success(c echo.Context, status int, extra map[string]any) error {
	body := map[string]any{"status": "SUCCESS"}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}

func fail(c echo.Context, status int, name, message string) error {
	return c.JSON(status, failureResponse{
		Status: "FAILURE",
		Errors: []apiError{{Name: name, Message: message}},
	})
}

// writeError maps error classes to statuses in one place.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, registry.ErrInvalidInput):
		return fail(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, registry.ErrProviderNotAvailable), errors.Is(err, provider.ErrProviderNotAvailable):
		return fail(c, http.StatusBadRequest, "provider_not_available", err.Error())
	case errors.Is(err, registry.ErrTenantNotFound):
		return fail(c, http.StatusNotFound, "tenant_not_found", "tenant is not registered")
	case errors.Is(err, repository.ErrNotFound):
		return fail(c, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, repository.ErrAlreadyExists):
		return fail(c, http.StatusConflict, "already_exists", "resource already exists")
	case errors.Is(err, repository.ErrStorageUnavailable), errors.Is(err, ratelimit.ErrUnavailable):
		loggerFrom(c).Error("storage unavailable", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, http.StatusServiceUnavailable, "storage_unavailable", "storage is unavailable, retry later")
	case errors.Is(err, queue.ErrPublish):
		loggerFrom(c).Error("enqueue failed", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, http.StatusServiceUnavailable, "queue_unavailable", "could not enqueue, retry later")
	default:
		loggerFrom(c).Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
