package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/jmehdipour/push-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func plainMessage(t *testing.T, title, body string) model.PushMessage {
	t.Helper()
	raw, err := json.Marshal(model.PlainBlob{Title: title, Body: body})
	require.NoError(t, err)
	return model.PushMessage{ID: "msg-1", Payload: model.MessagePayload{
		Topic: "chat",
		Blob:  base64.StdEncoding.EncodeToString(raw),
	}}
}

func encryptedMessage() model.PushMessage {
	return model.PushMessage{ID: "msg-2", Payload: model.MessagePayload{
		Topic: "chat",
		Flags: model.FlagEncrypted,
		Blob:  "c2VhbGVk",
	}}
}

func mockClient(t *testing.T) (*http.Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	return &http.Client{Transport: mt}, mt
}

func testSigningKey(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func newTestAPNS(t *testing.T, hc *http.Client) *APNS {
	t.Helper()
	a, err := NewAPNS(APNSConfig{
		Topic:      "com.example.app",
		Endpoint:   "https://apns.test",
		KeyID:      "KEY123",
		TeamID:     "TEAM42",
		PKCS8PEM:   testSigningKey(t),
		HTTPClient: hc,
	})
	require.NoError(t, err)
	return a
}

func TestAPNS_SendPlain(t *testing.T) {
	hc, mt := mockClient(t)
	var gotBody apnsBody
	var gotHeaders http.Header
	mt.RegisterResponder(http.MethodPost, "https://apns.test/3/device/devtok",
		func(req *http.Request) (*http.Response, error) {
			gotHeaders = req.Header.Clone()
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &gotBody)
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	a := newTestAPNS(t, hc)
	res := a.Send(context.Background(), model.ClientRegistration{PushToken: "devtok"}, plainMessage(t, "Hi", "there"))

	require.Equal(t, Delivered, res.Outcome, res.String())
	assert.Equal(t, "com.example.app", gotHeaders.Get("apns-topic"))
	assert.True(t, strings.HasPrefix(gotHeaders.Get("Authorization"), "bearer "))
	require.NotNil(t, gotBody.Aps.Alert)
	assert.Equal(t, "Hi", gotBody.Aps.Alert.Title)
	assert.Equal(t, "there", gotBody.Aps.Alert.Body)
	assert.Equal(t, "chat", gotBody.Topic)
}

func TestAPNS_SendEncryptedIsMutable(t *testing.T) {
	hc, mt := mockClient(t)
	var gotBody apnsBody
	mt.RegisterResponder(http.MethodPost, "https://apns.test/3/device/devtok",
		func(req *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &gotBody)
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	a := newTestAPNS(t, hc)
	res := a.Send(context.Background(), model.ClientRegistration{PushToken: "devtok"}, encryptedMessage())

	require.Equal(t, Delivered, res.Outcome)
	assert.Equal(t, 1, gotBody.Aps.MutableContent)
	assert.Equal(t, "c2VhbGVk", gotBody.Blob)
	assert.Equal(t, model.FlagEncrypted, gotBody.Flags)
}

func TestAPNS_BearerIsCached(t *testing.T) {
	a := newTestAPNS(t, nil)
	t1, err := a.bearer()
	require.NoError(t, err)
	t2, err := a.bearer()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)

	a.resetBearer()
	assert.Empty(t, a.token)
}

func TestAPNS_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		reason  string
		outcome Outcome
		cause   Cause
	}{
		{"unregistered", http.StatusGone, "Unregistered", Permanent, CauseToken},
		{"bad_token", http.StatusBadRequest, "BadDeviceToken", Permanent, CauseToken},
		{"wrong_topic", http.StatusBadRequest, "DeviceTokenNotForTopic", Permanent, CauseToken},
		{"bad_topic", http.StatusBadRequest, "BadTopic", Permanent, CauseTenant},
		{"bad_cert", http.StatusForbidden, "BadCertificate", Permanent, CauseTenant},
		{"invalid_provider_token", http.StatusForbidden, "InvalidProviderToken", Permanent, CauseTenant},
		{"expired_provider_token", http.StatusForbidden, "ExpiredProviderToken", Transient, 0},
		{"payload_too_large", http.StatusRequestEntityTooLarge, "PayloadTooLarge", Permanent, CauseMessage},
		{"throttled", http.StatusTooManyRequests, "TooManyRequests", Transient, 0},
		{"internal", http.StatusInternalServerError, "InternalServerError", Transient, 0},
		{"unavailable", http.StatusServiceUnavailable, "ServiceUnavailable", Transient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc, mt := mockClient(t)
			mt.RegisterResponder(http.MethodPost, "https://apns.test/3/device/devtok",
				httpmock.NewStringResponder(tt.status, `{"reason":"`+tt.reason+`"}`))

			a := newTestAPNS(t, hc)
			res := a.Send(context.Background(), model.ClientRegistration{PushToken: "devtok"}, encryptedMessage())
			assert.Equal(t, tt.outcome, res.Outcome, res.String())
			if tt.outcome == Permanent {
				assert.Equal(t, tt.cause, res.Cause)
			}
		})
	}
}

func TestAPNS_TokenIsPathEscaped(t *testing.T) {
	hc, mt := mockClient(t)
	var path, query string
	mt.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		path, query = req.URL.EscapedPath(), req.URL.RawQuery
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	a := newTestAPNS(t, hc)
	res := a.Send(context.Background(), model.ClientRegistration{PushToken: "../x?y=1"}, encryptedMessage())

	require.Equal(t, Delivered, res.Outcome, res.String())
	assert.Equal(t, "/3/device/..%2Fx%3Fy=1", path)
	assert.Empty(t, query)
}

func TestAPNS_UndecodableBlob(t *testing.T) {
	a := newTestAPNS(t, nil)
	msg := model.PushMessage{ID: "x", Payload: model.MessagePayload{Blob: "***"}}
	res := a.Send(context.Background(), model.ClientRegistration{PushToken: "devtok"}, msg)
	assert.Equal(t, Permanent, res.Outcome)
	assert.Equal(t, CauseMessage, res.Cause)
}

func TestNewAPNS_RequiresCredentials(t *testing.T) {
	_, err := NewAPNS(APNSConfig{Topic: "com.example.app"})
	require.Error(t, err)

	_, err = NewAPNS(APNSConfig{PKCS8PEM: []byte("x")})
	require.Error(t, err)

	_, err = NewAPNS(APNSConfig{Topic: "t", PKCS8PEM: []byte("not a key"), KeyID: "k", TeamID: "t"})
	require.Error(t, err)
}

func TestFCM_Send(t *testing.T) {
	hc, mt := mockClient(t)
	var got fcmRequest
	var auth string
	mt.RegisterResponder(http.MethodPost, "https://fcm.test/send",
		func(req *http.Request) (*http.Response, error) {
			auth = req.Header.Get("Authorization")
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &got)
			return httpmock.NewStringResponse(http.StatusOK, `{"success":1,"failure":0,"results":[{"message_id":"0:1"}]}`), nil
		})

	f, err := NewFCM(FCMConfig{APIKey: "server-key", Endpoint: "https://fcm.test/send", HTTPClient: hc})
	require.NoError(t, err)

	res := f.Send(context.Background(), model.ClientRegistration{PushToken: "regid"}, plainMessage(t, "Hi", "there"))
	require.Equal(t, Delivered, res.Outcome, res.String())
	assert.Equal(t, "key=server-key", auth)
	assert.Equal(t, "regid", got.To)
	assert.Equal(t, "chat", got.Data["topic"])
	require.NotNil(t, got.Notification)
	assert.Equal(t, "Hi", got.Notification.Title)
}

func TestFCM_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome Outcome
		cause   Cause
	}{
		{"not_registered", 200, `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`, Permanent, CauseToken},
		{"invalid_registration", 200, `{"success":0,"failure":1,"results":[{"error":"InvalidRegistration"}]}`, Permanent, CauseToken},
		{"unavailable", 200, `{"success":0,"failure":1,"results":[{"error":"Unavailable"}]}`, Transient, 0},
		{"too_big", 200, `{"success":0,"failure":1,"results":[{"error":"MessageTooBig"}]}`, Permanent, CauseMessage},
		{"bad_key", 401, ``, Permanent, CauseTenant},
		{"server_error", 502, ``, Transient, 0},
		{"throttled", 429, ``, Transient, 0},
		{"bad_request", 400, ``, Permanent, CauseMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc, mt := mockClient(t)
			mt.RegisterResponder(http.MethodPost, "https://fcm.test/send", httpmock.NewStringResponder(tt.status, tt.body))

			f, err := NewFCM(FCMConfig{APIKey: "k", Endpoint: "https://fcm.test/send", HTTPClient: hc})
			require.NoError(t, err)
			res := f.Send(context.Background(), model.ClientRegistration{PushToken: "regid"}, encryptedMessage())
			assert.Equal(t, tt.outcome, res.Outcome, res.String())
			if tt.outcome == Permanent {
				assert.Equal(t, tt.cause, res.Cause)
			}
		})
	}
}

func newTestFCMV1(t *testing.T, hc *http.Client) *FCMV1 {
	t.Helper()
	f, err := NewFCMV1(context.Background(), FCMV1Config{
		CredentialsJSON: []byte(`{"type":"service_account","project_id":"demo"}`),
		ClientOptions: []option.ClientOption{
			option.WithHTTPClient(hc),
			option.WithEndpoint("https://fcm.test/"),
		},
	})
	require.NoError(t, err)
	return f
}

func TestFCMV1_Send(t *testing.T) {
	hc, mt := mockClient(t)
	var got struct {
		Message struct {
			Token        string            `json:"token"`
			Data         map[string]string `json:"data"`
			Notification struct {
				Title string `json:"title"`
			} `json:"notification"`
		} `json:"message"`
	}
	mt.RegisterResponder(http.MethodPost, "https://fcm.test/v1/projects/demo/messages:send",
		func(req *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &got)
			return httpmock.NewStringResponse(http.StatusOK, `{"name":"projects/demo/messages/1"}`), nil
		})

	f := newTestFCMV1(t, hc)
	res := f.Send(context.Background(), model.ClientRegistration{PushToken: "regid"}, plainMessage(t, "Hi", "there"))

	require.Equal(t, Delivered, res.Outcome, res.String())
	assert.Equal(t, "regid", got.Message.Token)
	assert.Equal(t, "chat", got.Message.Data["topic"])
	assert.Equal(t, "Hi", got.Message.Notification.Title)
}

func TestFCMV1_Unregistered(t *testing.T) {
	hc, mt := mockClient(t)
	mt.RegisterResponder(http.MethodPost, "https://fcm.test/v1/projects/demo/messages:send",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND","details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"UNREGISTERED"}]}}`))

	f := newTestFCMV1(t, hc)
	res := f.Send(context.Background(), model.ClientRegistration{PushToken: "regid"}, encryptedMessage())
	assert.Equal(t, Permanent, res.Outcome)
	assert.Equal(t, CauseToken, res.Cause)
}

func TestClassifyFCMV1(t *testing.T) {
	assert.Equal(t, CauseToken, classifyFCMV1(400, "INVALID_ARGUMENT", "The registration token is not a valid FCM registration token").Cause)
	assert.Equal(t, CauseMessage, classifyFCMV1(400, "INVALID_ARGUMENT", "Invalid JSON payload").Cause)
	assert.Equal(t, CauseTenant, classifyFCMV1(401, "THIRD_PARTY_AUTH_ERROR", "").Cause)
	assert.Equal(t, CauseToken, classifyFCMV1(403, "SENDER_ID_MISMATCH", "").Cause)
	assert.Equal(t, Transient, classifyFCMV1(429, "QUOTA_EXCEEDED", "").Outcome)
	assert.Equal(t, Transient, classifyFCMV1(503, "UNAVAILABLE", "").Outcome)
}

func TestNewFCMV1_NeedsProjectID(t *testing.T) {
	_, err := NewFCMV1(context.Background(), FCMV1Config{CredentialsJSON: []byte(`{"type":"service_account"}`)})
	require.Error(t, err)

	_, err = NewFCMV1(context.Background(), FCMV1Config{CredentialsJSON: []byte(`nope`)})
	require.Error(t, err)
}
