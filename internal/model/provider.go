package model

import "strings"

type ProviderType string

const (
	ProviderAPNS  ProviderType = "apns"
	ProviderFCM   ProviderType = "fcm"
	ProviderFCMV1 ProviderType = "fcm_v1"
	ProviderNoop  ProviderType = "noop"
)

func (t ProviderType) String() string { return string(t) }

// ParseProviderType normalizes input. There is no default provider:
// an empty or unknown value is rejected.
func ParseProviderType(s string) (ProviderType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apns":
		return ProviderAPNS, true
	case "fcm":
		return ProviderFCM, true
	case "fcm_v1", "fcmv1":
		return ProviderFCMV1, true
	case "noop":
		return ProviderNoop, true
	default:
		return "", false
	}
}

func (t ProviderType) Valid() bool {
	return t == ProviderAPNS || t == ProviderFCM || t == ProviderFCMV1 || t == ProviderNoop
}
