package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/jmehdipour/push-relay/internal/provider"
	"github.com/jmehdipour/push-relay/internal/registry"
	"github.com/jmehdipour/push-relay/internal/repository"
	"github.com/labstack/echo/v4"
)

type createTenantReq struct {
	ID string `json:"id"`
}

type tenantResp struct {
	ID               string               `json:"id"`
	EnabledProviders []model.ProviderType `json:"enabled_providers"`
	APNSTopic        *string              `json:"apns_topic,omitempty"`
	APNSSandbox      bool                 `json:"apns_sandbox"`
	Suspended        bool                 `json:"suspended"`
	SuspendedReason  *string              `json:"suspended_reason,omitempty"`
}

func createTenantHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTenantReq
		if c.Request().ContentLength > 0 {
			if err := c.Bind(&req); err != nil {
				return fail(c, http.StatusBadRequest, "body", "malformed JSON body")
			}
		}
		id := strings.TrimSpace(req.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if !registry.ValidTenantID(id) {
			return fail(c, http.StatusBadRequest, "id", "tenant id must be a UUID")
		}

		t, err := tenants.Create(c.Request().Context(), id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"id": t.ID})
	}
}

func getTenantHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := tenants.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		providers := t.Providers()
		if providers == nil {
			providers = []model.ProviderType{}
		}
		return c.JSON(http.StatusOK, tenantResp{
			ID:               t.ID,
			EnabledProviders: providers,
			APNSTopic:        t.APNSTopic,
			APNSSandbox:      t.APNSSandbox,
			Suspended:        t.Suspended,
			SuspendedReason:  t.SuspendedReason,
		})
	}
}

func deleteTenantHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := tenants.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return success(c, http.StatusOK, nil)
	}
}

type updateFCMReq struct {
	APIKey string `json:"api_key" form:"api_key"`
}

func updateFCMHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateFCMReq
		if err := c.Bind(&req); err != nil {
			return fail(c, http.StatusBadRequest, "body", "malformed body")
		}
		key := strings.TrimSpace(req.APIKey)
		if key == "" {
			return fail(c, http.StatusBadRequest, "api_key", "api_key is required")
		}
		if err := tenants.UpdateFCM(c.Request().Context(), c.Param("id"), key); err != nil {
			return writeError(c, err)
		}
		return success(c, http.StatusOK, nil)
	}
}

type updateFCMV1Req struct {
	Credentials json.RawMessage `json:"credentials"`
}

type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

func updateFCMV1Handler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateFCMV1Req
		if err := c.Bind(&req); err != nil {
			return fail(c, http.StatusBadRequest, "body", "malformed JSON body")
		}

		// credentials may arrive as an object or as a JSON encoded string
		raw := []byte(req.Credentials)
		var asString string
		if json.Unmarshal(raw, &asString) == nil {
			raw = []byte(asString)
		}
		var sa serviceAccount
		if err := json.Unmarshal(raw, &sa); err != nil || sa.ProjectID == "" || sa.ClientEmail == "" || sa.PrivateKey == "" {
			return fail(c, http.StatusBadRequest, "credentials", "credentials must be a service account key with project_id, client_email and private_key")
		}

		if err := tenants.UpdateFCMV1(c.Request().Context(), c.Param("id"), string(raw)); err != nil {
			return writeError(c, err)
		}
		return success(c, http.StatusOK, nil)
	}
}

type updateAPNSReq struct {
	Type                string `json:"apns_type"                 form:"apns_type"`
	Topic               string `json:"apns_topic"                form:"apns_topic"`
	Sandbox             bool   `json:"apns_sandbox"              form:"apns_sandbox"`
	Certificate         string `json:"apns_certificate"          form:"apns_certificate"`
	CertificatePassword string `json:"apns_certificate_password" form:"apns_certificate_password"`
	PKCS8PEM            string `json:"apns_pkcs8_pem"            form:"apns_pkcs8_pem"`
	KeyID               string `json:"apns_key_id"               form:"apns_key_id"`
	TeamID              string `json:"apns_team_id"              form:"apns_team_id"`
}

func updateAPNSHandler(tenants repository.TenantsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateAPNSReq
		if err := c.Bind(&req); err != nil {
			return fail(c, http.StatusBadRequest, "body", "malformed body")
		}

		p := repository.APNSParams{
			Type:     model.APNSAuthType(strings.ToLower(strings.TrimSpace(req.Type))),
			Topic:    strings.TrimSpace(req.Topic),
			Sandbox:  req.Sandbox,
			CertB64:  req.Certificate,
			Password: req.CertificatePassword,
			PKCS8PEM: req.PKCS8PEM,
			KeyID:    req.KeyID,
			TeamID:   req.TeamID,
		}
		if p.Topic == "" {
			return fail(c, http.StatusBadRequest, "apns_topic", "apns_topic is required")
		}

		// build a throwaway adapter to prove the credentials parse
		cfg := provider.APNSConfig{Topic: p.Topic, Sandbox: p.Sandbox, HTTPClient: http.DefaultClient}
		switch p.Type {
		case model.APNSAuthToken:
			p.CertB64, p.Password = "", ""
			cfg.PKCS8PEM, cfg.KeyID, cfg.TeamID = []byte(p.PKCS8PEM), p.KeyID, p.TeamID
		case model.APNSAuthCertificate:
			p.PKCS8PEM, p.KeyID, p.TeamID = "", "", ""
			cert, err := provider.LoadAPNSCertificate(p.CertB64, p.Password)
			if err != nil {
				return fail(c, http.StatusBadRequest, "apns_certificate", err.Error())
			}
			cfg.Certificate = cert
		default:
			return fail(c, http.StatusBadRequest, "apns_type", "apns_type must be certificate or token")
		}
		if _, err := provider.NewAPNS(cfg); err != nil {
			return fail(c, http.StatusBadRequest, "apns", err.Error())
		}

		if err := tenants.UpdateAPNS(c.Request().Context(), c.Param("id"), p); err != nil {
			return writeError(c, err)
		}
		return success(c, http.StatusOK, nil)
	}
}
