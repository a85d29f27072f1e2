package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Key is a decoded license key: PRODUCT-TIER-EXPIRY-FEATURES-CHECKSUM.
type Key struct {
	Product  string
	Tier     Tier
	Expiry   string
	Features []string
}

func (k *Key) IsLifetime() bool {
	return k.Expiry == Lifetime
}

// ExpiresAt is the last second of the expiry day in local time, or nil for
// lifetime keys.
func (k *Key) ExpiresAt() *time.Time {
	if k.IsLifetime() {
		return nil
	}
	day, err := time.ParseInLocation(expiryLayout, k.Expiry, time.Local)
	if err != nil {
		return nil
	}
	end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.Local)
	return &end
}

func (k *Key) Expired(now time.Time) bool {
	exp := k.ExpiresAt()
	return exp != nil && now.After(*exp)
}

func (k *Key) HasFeature(f string) bool {
	return slices.Contains(k.Features, f)
}

func (k *Key) expiryString() *string {
	if k.IsLifetime() {
		return nil
	}
	s := k.Expiry
	return &s
}

// Codec signs and verifies license keys with a shared HMAC secret.
type Codec struct {
	product string
	secret  []byte
}

func NewCodec(product, secret string) *Codec {
	return &Codec{product: product, secret: []byte(secret)}
}

func (c *Codec) Product() string {
	return c.product
}

func (c *Codec) Decode(raw string) (*Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	// Segments past the checksum are ignored. The expiry is not parsed here:
	// an unreadable date never expires.
	if len(parts) < 5 || parts[0] != c.product {
		return nil, fmt.Errorf("%w: expected %s-TIER-EXPIRY-FEATURES-CHECKSUM", ErrMalformedKey, c.product)
	}

	tier, expiry, features, checksum := Tier(parts[1]), parts[2], parts[3], parts[4]
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, parts[1])
	}

	expected := c.checksum(c.payload(string(tier), expiry, features))
	if !hmac.Equal([]byte(strings.ToUpper(checksum)), []byte(expected)) {
		return nil, ErrInvalidChecksum
	}

	return &Key{
		Product:  c.product,
		Tier:     tier,
		Expiry:   expiry,
		Features: splitFeatures(features),
	}, nil
}

// Encode issues a key. It is used by tooling and tests, never on the
// validation path.
func (c *Codec) Encode(tier Tier, expiry string, features []string) (string, error) {
	if !tier.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if err := validateExpiry(expiry); err != nil {
		return "", err
	}
	for _, f := range features {
		if f == "" || strings.ContainsAny(f, "-+") {
			return "", fmt.Errorf("%w: invalid feature token %q", ErrMalformedKey, f)
		}
	}

	payload := c.payload(string(tier), expiry, strings.Join(features, "+"))
	return payload + "-" + c.checksum(payload), nil
}

func (c *Codec) payload(tier, expiry, features string) string {
	return c.product + "-" + tier + "-" + expiry + "-" + features
}

func (c *Codec) checksum(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil))[:8])
}

func validateExpiry(expiry string) error {
	if expiry == Lifetime {
		return nil
	}
	if len(expiry) != len(expiryLayout) {
		return fmt.Errorf("%w: expiry %q is not YYYYMMDD or %s", ErrMalformedKey, expiry, Lifetime)
	}
	if _, err := time.Parse(expiryLayout, expiry); err != nil {
		return fmt.Errorf("%w: expiry %q is not YYYYMMDD or %s", ErrMalformedKey, expiry, Lifetime)
	}
	return nil
}

func splitFeatures(s string) []string {
	out := make([]string, 0, 4)
	for _, f := range strings.Split(s, "+") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
