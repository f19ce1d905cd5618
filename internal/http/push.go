package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/push-relay/internal/dispatcher"
	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/labstack/echo/v4"
)

type pushReq struct {
	ID      string               `json:"id"`
	Payload model.MessagePayload `json:"payload"`
}

func pushMessageHandler(deps Deps, jobTimeout time.Duration) func(tenantFunc) echo.HandlerFunc {
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}
	return func(tenantOf tenantFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := tenantOf(c)
			if !registry.ValidTenantID(tenantID) {
				return fail(c, http.StatusBadRequest, "tenant_id", "tenant_id must be a UUID")
			}
			clientID := registry.NormalizeClientID(c.Param("client_id"))

			var req pushReq
			if err := c.Bind(&req); err != nil {
				return fail(c, http.StatusBadRequest, "body", "malformed JSON body")
			}
			req.ID = strings.TrimSpace(req.ID)
			if req.ID == "" {
				return fail(c, http.StatusBadRequest, "id", "message id is required")
			}
			if req.Payload.Blob == "" {
				return fail(c, http.StatusBadRequest, "payload.blob", "blob is required")
			}
			msg := model.PushMessage{ID: req.ID, Payload: req.Payload}
			ctx := c.Request().Context()

			if deps.Queue != nil {
				return enqueuePush(c, deps, tenantID, clientID, msg)
			}

			metrics.ReceivedNotifications.Inc()
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			res := deps.Dispatcher.Dispatch(jobCtx, tenantID, clientID, msg)
			return writeJobResult(c, res)
		}
	}
}

// enqueuePush checks the client exists, then hands the trigger to the worker.
func enqueuePush(c echo.Context, deps Deps, tenantID, clientID string, msg model.PushMessage) error {
	ctx := c.Request().Context()
	if _, err := deps.Registry.Lookup(ctx, tenantID, clientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "client_not_found", "client is not registered")
		}
		return writeError(c, err)
	}

	jobID, err := deps.Queue.Enqueue(ctx, tenantID, clientID, msg)
	if err != nil {
		return writeError(c, err)
	}
	metrics.ReceivedNotifications.Inc()
	return success(c, http.StatusAccepted, map[string]any{"job_id": jobID})
}

func writeJobResult(c echo.Context, res dispatcher.JobResult) error {
	switch res.State {
	case dispatcher.StateDelivered:
		return success(c, http.StatusAccepted, map[string]any{"job_id": res.ID, "attempts": res.Attempts})
	case dispatcher.StateDuplicate:
		return success(c, http.StatusOK, map[string]any{"job_id": res.ID, "duplicate": true})
	}

	switch res.Reason {
	case dispatcher.ReasonUnknownClient:
		return fail(c, http.StatusNotFound, "client_not_found", "client is not registered")
	case dispatcher.ReasonPermanentFailure:
		return fail(c, http.StatusGone, "client_removed", "provider rejected the token; registration removed")
	case dispatcher.ReasonRejected:
		return fail(c, http.StatusBadRequest, "message_rejected", res.LastErr)
	case dispatcher.ReasonTenantSuspended:
		return fail(c, http.StatusForbidden, "tenant_suspended", "tenant provider credentials were rejected")
	case dispatcher.ReasonProviderUnavailable:
		return fail(c, http.StatusBadRequest, "provider_not_available", res.LastErr)
	case dispatcher.ReasonStorageUnavailable, dispatcher.ReasonCanceled:
		return fail(c, http.StatusServiceUnavailable, string(res.Reason), "retry later")
	default:
		return fail(c, http.StatusBadGateway, "delivery_failed", res.LastErr)
	}
}
