package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmehdipour/push-relay/internal/model"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/net/http2"
)

const (
	APNSProductionURL = "https://api.push.apple.com"
	APNSSandboxURL    = "https://api.sandbox.push.apple.com"

	// Apple rejects provider tokens older than one hour.
	apnsTokenTTL = 50 * time.Minute

	encryptedAlertTitle = "You have a new message"
)

type APNSConfig struct {
	Topic    string
	Sandbox  bool
	Endpoint string // overrides the production/sandbox URL

	// token based auth
	KeyID    string
	TeamID   string
	PKCS8PEM []byte

	// certificate based auth
	Certificate *tls.Certificate

	HTTPClient *http.Client
}

type APNS struct {
	topic    string
	endpoint string
	client   *http.Client

	keyID  string
	teamID string
	key    *ecdsa.PrivateKey

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

func NewAPNS(cfg APNSConfig) (*APNS, error) {
	if cfg.Topic == "" {
		return nil, errors.New("apns: topic is required")
	}
	a := &APNS{topic: cfg.Topic, endpoint: cfg.Endpoint, keyID: cfg.KeyID, teamID: cfg.TeamID}
	if a.endpoint == "" {
		a.endpoint = APNSProductionURL
		if cfg.Sandbox {
			a.endpoint = APNSSandboxURL
		}
	}

	switch {
	case len(cfg.PKCS8PEM) > 0:
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, errors.New("apns: key_id and team_id are required for token auth")
		}
		key, err := jwt.ParseECPrivateKeyFromPEM(cfg.PKCS8PEM)
		if err != nil {
			return nil, fmt.Errorf("apns: parse signing key: %w", err)
		}
		a.key = key
	case cfg.Certificate != nil:
	default:
		return nil, errors.New("apns: either a signing key or a certificate is required")
	}

	a.client = cfg.HTTPClient
	if a.client == nil {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.Certificate != nil {
			tlsCfg.Certificates = []tls.Certificate{*cfg.Certificate}
		}
		a.client = &http.Client{Transport: &http2.Transport{TLSClientConfig: tlsCfg}}
	}
	return a, nil
}

// LoadAPNSCertificate decodes a base64 PKCS#12 bundle into a client certificate.
func LoadAPNSCertificate(b64, password string) (*tls.Certificate, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("apns: certificate is not base64: %w", err)
	}
	key, cert, err := pkcs12.Decode(raw, password)
	if err != nil {
		return nil, fmt.Errorf("apns: decode pkcs12: %w", err)
	}
	return &tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key, Leaf: cert}, nil
}

func (a *APNS) Type() model.ProviderType { return model.ProviderAPNS }

// bearer returns a cached ES256 provider token, minting a new one when stale.
func (a *APNS) bearer() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Since(a.issuedAt) < apnsTokenTTL {
		return a.token, nil
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = a.keyID
	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", err
	}
	a.token, a.issuedAt = signed, now
	return signed, nil
}

func (a *APNS) resetBearer() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

type apnsAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type apnsAps struct {
	Alert          *apnsAlert `json:"alert,omitempty"`
	MutableContent int        `json:"mutable-content,omitempty"`
	Sound          string     `json:"sound,omitempty"`
}

type apnsBody struct {
	Aps   apnsAps `json:"aps"`
	Topic string  `json:"topic"`
	Flags uint32  `json:"flags"`
	Blob  string  `json:"blob"`
}

func buildAPNSBody(msg model.PushMessage) (apnsBody, error) {
	p := msg.Payload
	body := apnsBody{Topic: p.Topic, Flags: p.Flags, Blob: p.Blob}
	if p.Encrypted() {
		body.Aps = apnsAps{Alert: &apnsAlert{Title: encryptedAlertTitle}, MutableContent: 1, Sound: "default"}
		return body, nil
	}
	blob, err := p.DecodeBlob()
	if err != nil {
		return body, err
	}
	body.Aps = apnsAps{Alert: &apnsAlert{Title: blob.Title, Body: blob.Body}, Sound: "default"}
	return body, nil
}

func (a *APNS) Send(ctx context.Context, reg model.ClientRegistration, msg model.PushMessage) Result {
	body, err := buildAPNSBody(msg)
	if err != nil {
		return permanent(CauseMessage, "undecodable blob: "+err.Error())
	}
	b, err := json.Marshal(body)
	if err != nil {
		return permanent(CauseMessage, "marshal payload: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/3/device/"+url.PathEscape(reg.PushToken), bytes.NewReader(b))
	if err != nil {
		return permanent(CauseToken, "bad device token: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", a.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	if a.key != nil {
		tok, err := a.bearer()
		if err != nil {
			return permanent(CauseTenant, "sign provider token: "+err.Error())
		}
		req.Header.Set("Authorization", "bearer "+tok)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return transient("apns request failed", err)
	}
	defer res.Body.Close()

	var reply struct {
		Reason string `json:"reason"`
	}
	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		_ = json.Unmarshal(raw, &reply)
	}
	out := classifyAPNS(res.StatusCode, reply.Reason)
	if reply.Reason == "ExpiredProviderToken" {
		a.resetBearer()
	}
	return out
}

func classifyAPNS(status int, reason string) Result {
	switch status {
	case http.StatusOK:
		return delivered()
	case http.StatusGone:
		return permanent(CauseToken, "apns: "+orDefault(reason, "Unregistered"))
	case http.StatusBadRequest:
		switch reason {
		case "BadDeviceToken", "DeviceTokenNotForTopic", "Unregistered", "MissingDeviceToken":
			return permanent(CauseToken, "apns: "+reason)
		case "BadTopic", "TopicDisallowed", "MissingTopic":
			return permanent(CauseTenant, "apns: "+reason)
		default:
			return permanent(CauseMessage, "apns: "+orDefault(reason, "bad request"))
		}
	case http.StatusForbidden:
		if reason == "ExpiredProviderToken" {
			return transient("apns: "+reason, nil)
		}
		return permanent(CauseTenant, "apns: "+orDefault(reason, "forbidden"))
	case http.StatusRequestEntityTooLarge:
		return permanent(CauseMessage, "apns: "+orDefault(reason, "PayloadTooLarge"))
	default:
		// 429, 500, 503 and anything unexpected
		return transient(fmt.Sprintf("apns: status=%d %s", status, reason), nil)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
