package model

import "time"

// ClientRegistration is one device's push binding, keyed by (TenantID, ClientID).
type ClientRegistration struct {
	TenantID     string       `db:"tenant_id"     json:"tenant_id"`
	ClientID     string       `db:"client_id"     json:"client_id"`
	ProviderType ProviderType `db:"push_type"     json:"type"`
	PushToken    string       `db:"device_token"  json:"token"`
	RegisteredAt time.Time    `db:"registered_at" json:"registered_at"`
	UpdatedAt    time.Time    `db:"updated_at"    json:"updated_at"`
}

// ClientKey identifies a registration. A client id alone never addresses a record.
type ClientKey struct {
	TenantID string
	ClientID string
}

func (r ClientRegistration) Key() ClientKey {
	return ClientKey{TenantID: r.TenantID, ClientID: r.ClientID}
}
