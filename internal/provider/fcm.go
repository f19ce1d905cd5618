package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/push-relay/internal/model"
)

const FCMLegacyURL = "https://fcm.googleapis.com/fcm/send"

// FCM talks to the legacy HTTP API with a server key.
type FCM struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type FCMConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

func NewFCM(cfg FCMConfig) (*FCM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("fcm: api key is required")
	}
	f := &FCM{apiKey: cfg.APIKey, endpoint: cfg.Endpoint, client: cfg.HTTPClient}
	if f.endpoint == "" {
		f.endpoint = FCMLegacyURL
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 10 * time.Second}
	}
	return f, nil
}

func (f *FCM) Type() model.ProviderType { return model.ProviderFCM }

type fcmNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Data         map[string]string `json:"data"`
	Notification *fcmNotification  `json:"notification,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// fcmData flattens the payload into the string map both FCM APIs expect.
// Plain blobs also yield a visible notification.
func fcmData(p model.MessagePayload) (map[string]string, *model.PlainBlob, error) {
	data := map[string]string{
		"topic": p.Topic,
		"flags": fmt.Sprintf("%d", p.Flags),
		"blob":  p.Blob,
	}
	if p.Encrypted() {
		return data, nil, nil
	}
	blob, err := p.DecodeBlob()
	if err != nil {
		return nil, nil, err
	}
	return data, &blob, nil
}

func (f *FCM) Send(ctx context.Context, reg model.ClientRegistration, msg model.PushMessage) Result {
	data, blob, err := fcmData(msg.Payload)
	if err != nil {
		return permanent(CauseMessage, "undecodable blob: "+err.Error())
	}
	body := fcmRequest{To: reg.PushToken, Priority: "high", Data: data}
	if blob != nil {
		body.Notification = &fcmNotification{Title: blob.Title, Body: blob.Body}
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(b))
	if err != nil {
		return transient("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+f.apiKey)

	res, err := f.client.Do(req)
	if err != nil {
		return transient("fcm request failed", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return permanent(CauseTenant, "fcm: invalid server key")
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return transient(fmt.Sprintf("fcm: status=%d", res.StatusCode), nil)
	case res.StatusCode != http.StatusOK:
		return permanent(CauseMessage, fmt.Sprintf("fcm: status=%d", res.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return transient("fcm: read response", err)
	}
	var out fcmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return transient("fcm: malformed response", err)
	}
	if out.Failure == 0 && out.Success > 0 {
		return delivered()
	}
	code := ""
	if len(out.Results) > 0 {
		code = out.Results[0].Error
	}
	return classifyFCM(code)
}

func classifyFCM(code string) Result {
	switch code {
	case "":
		return transient("fcm: empty result", nil)
	case "NotRegistered", "InvalidRegistration", "MissingRegistration", "MismatchSenderId":
		return permanent(CauseToken, "fcm: "+code)
	case "Unavailable", "InternalServerError", "DeviceMessageRateExceeded", "TopicsMessageRateExceeded":
		return transient("fcm: "+code, nil)
	default:
		// MessageTooBig, InvalidDataKey, InvalidTtl, ...
		return permanent(CauseMessage, "fcm: "+code)
	}
}
