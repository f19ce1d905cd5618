package http

import (
	"net/http"

	"github.com/jmehdipour/push-relay/internal/metrics"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/labstack/echo/v4"
)

type tenantFunc func(echo.Context) string

type registerReq struct {
	ClientID string `json:"client_id"`
	Type     string `json:"type"` // apns|fcm|fcm_v1|noop
	Token    string `json:"token"`
}

func registerClientHandler(reg *registry.Registry, tenantOf tenantFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerReq
		if err := c.Bind(&req); err != nil {
			return fail(c, http.StatusBadRequest, "body", "malformed JSON body")
		}

		if _, err := reg.Register(c.Request().Context(), tenantOf(c), req.ClientID, req.Type, req.Token); err != nil {
			return writeError(c, err)
		}
		return success(c, http.StatusOK, nil)
	}
}

func deleteClientHandler(reg *registry.Registry, tenantOf tenantFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID := tenantOf(c)
		if !registry.ValidTenantID(tenantID) {
			return fail(c, http.StatusBadRequest, "tenant_id", "tenant_id must be a UUID")
		}

		if err := reg.Remove(c.Request().Context(), tenantID, c.Param("client_id")); err != nil {
			return writeError(c, err)
		}
		metrics.ClientsRemoved.WithLabelValues("api").Inc()
		return success(c, http.StatusOK, nil)
	}
}
