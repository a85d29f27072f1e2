package license

import "errors"

var (
	ErrMalformedKey        = errors.New("malformed license key")
	ErrUnknownTier         = errors.New("unknown license tier")
	ErrInvalidChecksum     = errors.New("license key checksum mismatch")
	ErrLicenseExpired      = errors.New("license expired")
	ErrUpdateNotLicensed   = errors.New("license does not permit updates")
	ErrLicenseNotActivated = errors.New("license is not activated")
	ErrAuthorityOffline    = errors.New("license authority unavailable")
)
