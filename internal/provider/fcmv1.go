package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmehdipour/push-relay/internal/model"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// FCMV1 sends through the HTTP v1 API using a service account.
type FCMV1 struct {
	parent string
	svc    *fcm.Service
}

type FCMV1Config struct {
	// CredentialsJSON is a service account key file. project_id is read from it.
	CredentialsJSON []byte
	// ClientOptions replace the credentials based transport when set.
	ClientOptions []option.ClientOption
}

func NewFCMV1(ctx context.Context, cfg FCMV1Config) (*FCMV1, error) {
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(cfg.CredentialsJSON, &sa); err != nil {
		return nil, fmt.Errorf("fcm_v1: credentials are not json: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, errors.New("fcm_v1: credentials carry no project_id")
	}

	opts := cfg.ClientOptions
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithCredentialsJSON(cfg.CredentialsJSON)}
	}
	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("fcm_v1: new service: %w", err)
	}
	return &FCMV1{parent: "projects/" + sa.ProjectID, svc: svc}, nil
}

func (f *FCMV1) Type() model.ProviderType { return model.ProviderFCMV1 }

func (f *FCMV1) Send(ctx context.Context, reg model.ClientRegistration, msg model.PushMessage) Result {
	data, blob, err := fcmData(msg.Payload)
	if err != nil {
		return permanent(CauseMessage, "undecodable blob: "+err.Error())
	}
	m := &fcm.Message{
		Token:   reg.PushToken,
		Data:    data,
		Android: &fcm.AndroidConfig{Priority: "HIGH"},
	}
	if blob != nil {
		m.Notification = &fcm.Notification{Title: blob.Title, Body: blob.Body}
		if blob.Image != nil {
			m.Notification.Image = *blob.Image
		}
	}

	_, err = f.svc.Projects.Messages.Send(f.parent, &fcm.SendMessageRequest{Message: m}).Context(ctx).Do()
	if err == nil {
		return delivered()
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return transient("fcm_v1 request failed", err)
	}
	return classifyFCMV1(gerr.Code, fcmErrorCode(gerr), gerr.Message)
}

// fcmErrorCode digs the FcmError.errorCode out of the status details.
func fcmErrorCode(e *googleapi.Error) string {
	for _, d := range e.Details {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if code, ok := m["errorCode"].(string); ok {
			return code
		}
	}
	return ""
}

func classifyFCMV1(status int, code, message string) Result {
	reason := fmt.Sprintf("fcm_v1: %d %s", status, code)
	switch {
	case code == "UNREGISTERED" || code == "SENDER_ID_MISMATCH" || status == http.StatusNotFound:
		return permanent(CauseToken, reason)
	case code == "INVALID_ARGUMENT" || status == http.StatusBadRequest:
		if strings.Contains(strings.ToLower(message), "registration token") {
			return permanent(CauseToken, reason)
		}
		return permanent(CauseMessage, reason+" "+message)
	case code == "THIRD_PARTY_AUTH_ERROR" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return permanent(CauseTenant, reason)
	case status == http.StatusTooManyRequests || status >= 500:
		return transient(reason, nil)
	default:
		return permanent(CauseMessage, reason)
	}
}
