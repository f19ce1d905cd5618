package model

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const FlagEncrypted uint32 = 1 << 0

// MessagePayload is the opaque echo body relayed to the device.
type MessagePayload struct {
	Topic string `json:"topic"`
	Flags uint32 `json:"flags"`
	Blob  string `json:"blob"`
}

func (p MessagePayload) Encrypted() bool { return p.Flags&FlagEncrypted == FlagEncrypted }

// PlainBlob is what an unencrypted blob decodes to.
type PlainBlob struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Image *string `json:"image,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// DecodeBlob expects base64(JSON(PlainBlob)).
func (p MessagePayload) DecodeBlob() (PlainBlob, error) {
	var b PlainBlob
	raw, err := base64.StdEncoding.DecodeString(p.Blob)
	if err != nil {
		return b, err
	}
	err = json.Unmarshal(raw, &b)
	return b, err
}

// PushMessage is an inbound echo trigger body.
type PushMessage struct {
	ID      string         `json:"id"`
	Payload MessagePayload `json:"payload"`
}

// Envelope is the payload published to Kafka for async dispatch.
type Envelope struct {
	JobID    string      `json:"job_id"`
	TenantID string      `json:"tenant_id"`
	ClientID string      `json:"client_id"`
	Message  PushMessage `json:"message"`
}

// Notification is a dedupe row: one per delivered message id and client.
type Notification struct {
	ID             string    `db:"id"`
	TenantID       string    `db:"tenant_id"`
	ClientID       string    `db:"client_id"`
	LastReceivedAt time.Time `db:"last_received_at"`
}
