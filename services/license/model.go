package license

import "time"

type Tier string

const (
	TierBasic      Tier = "BASIC"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Features lists the human readable entitlements of a tier.
func (t Tier) Features() []string {
	switch t {
	case TierBasic:
		return []string{"Core functionality"}
	case TierPro:
		return []string{"Core functionality", "Updates", "Email support"}
	case TierEnterprise:
		return []string{"Core functionality", "Updates", "Priority support", "API access", "Multi-tenant"}
	default:
		return []string{}
	}
}

const (
	Lifetime      = "LIFETIME"
	FeatureUpdate = "UPD"
	expiryLayout  = "20060102"
)

// Source tells how a verdict was reached.
type Source string

const (
	SourceOnline  Source = "online"
	SourceOffline Source = "offline"
	SourceNone    Source = "none"
)

type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Tier          Tier     `json:"tier,omitempty"`
	ExpiresAt     *string  `json:"expiresAt"`
	Features      []string `json:"features"`
	UpdateAllowed bool     `json:"updateAllowed"`
	MaxVersion    *string  `json:"maxVersion"`
	Message       string   `json:"message"`
	Source        Source   `json:"source,omitempty"`
}

type Info struct {
	LicenseKey *string    `json:"licenseKey"`
	Tier       *Tier      `json:"tier"`
	ValidUntil *time.Time `json:"validUntil"`
	Features   []string   `json:"features"`
	IsValid    bool       `json:"isValid"`
	InstanceID string     `json:"instanceId"`
}

// MaskKey hides all but the first 12 and last 4 characters of a key.
func MaskKey(key string) string {
	if len(key) < 20 {
		return "****"
	}
	return key[:12] + "****" + key[len(key)-4:]
}
