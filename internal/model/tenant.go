package model

import "time"

type APNSAuthType string

const (
	APNSAuthCertificate APNSAuthType = "certificate"
	APNSAuthToken       APNSAuthType = "token"
)

// Tenant holds per-tenant provider credentials. Nullable columns stay pointers.
type Tenant struct {
	ID string `db:"id"`

	FCMAPIKey        *string `db:"fcm_api_key"`
	FCMV1Credentials *string `db:"fcm_v1_credentials"`

	APNSType    *string `db:"apns_type"` // certificate|token
	APNSTopic   *string `db:"apns_topic"`
	APNSSandbox bool    `db:"apns_sandbox"`

	// certificate based
	APNSCertificate         *string `db:"apns_certificate"` // base64 PKCS#12
	APNSCertificatePassword *string `db:"apns_certificate_password"`

	// token based
	APNSPKCS8PEM *string `db:"apns_pkcs8_pem"`
	APNSKeyID    *string `db:"apns_key_id"`
	APNSTeamID   *string `db:"apns_team_id"`

	Suspended       bool    `db:"suspended"`
	SuspendedReason *string `db:"suspended_reason"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Providers lists the provider types this tenant has credentials for.
func (t Tenant) Providers() []ProviderType {
	var out []ProviderType
	if t.APNSType != nil && t.APNSTopic != nil {
		out = append(out, ProviderAPNS)
	}
	if t.FCMAPIKey != nil && *t.FCMAPIKey != "" {
		out = append(out, ProviderFCM)
	}
	if t.FCMV1Credentials != nil && *t.FCMV1Credentials != "" {
		out = append(out, ProviderFCMV1)
	}
	return out
}

func (t Tenant) Supports(p ProviderType) bool {
	for _, x := range t.Providers() {
		if x == p {
			return true
		}
	}
	return false
}
