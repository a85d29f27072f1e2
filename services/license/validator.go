package license

import (
	"context"
	"fmt"
	"strings"
	"time"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/errutil"
	"updater-controlplane/pkg/logger"
	"updater-controlplane/pkg/version"
	"updater-controlplane/services/sysinfo"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// InfoStore is the slice of the SystemInfo store the validator needs.
type InfoStore interface {
	Get(ctx context.Context) (*sysinfo.SystemInfo, error)
	SaveLicense(ctx context.Context, key, tier string, validUntil *time.Time) error
}

type Validator struct {
	codec       *Codec
	authority   Authority
	store       InfoStore
	fingerprint Fingerprint
	now         func() time.Time
}

type ValidatorParams struct {
	fx.In
	Codec     *Codec
	Authority Authority
	Store     InfoStore
}

func NewValidator(p ValidatorParams) *Validator {
	return &Validator{
		codec:       p.Codec,
		authority:   p.Authority,
		store:       p.Store,
		fingerprint: MachineID,
		now:         time.Now,
	}
}

func ProvideCodec(cfg *config.Config) *Codec {
	if cfg.License.Secret == "" {
		zap.L().Warn("[License] LICENSE.SECRET is empty, offline validation will reject every key")
	}
	return NewCodec(cfg.License.Product, cfg.License.Secret)
}

func ProvideAuthority(cfg *config.Config) Authority {
	return NewHTTPAuthority(cfg.License.ServerURL, cfg.License.Timeout)
}

// ValidateForUpdate decides whether the stored license permits installing
// targetVersion. The remote authority is authoritative when reachable; on any
// failure to reach it the stored key is checked offline.
func (v *Validator) ValidateForUpdate(ctx context.Context, targetVersion string) (*ValidationResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("target_version", targetVersion))

	info, err := v.store.Get(ctx)
	if err != nil {
		zapLog.Error("[License] failed to load system info", zap.Error(err))
		return nil, errutil.Internal("failed to load system info", err)
	}

	if info.LicenseKey == nil || *info.LicenseKey == "" {
		res := &ValidationResult{
			Features: []string{},
			Message:  ErrLicenseNotActivated.Error(),
			Source:   SourceNone,
		}
		observe(res)
		return res, nil
	}

	key := *info.LicenseKey
	res, err := v.authority.Validate(ctx, AuthorityRequest{
		LicenseKey:     key,
		InstanceID:     info.InstanceID,
		CurrentVersion: info.CurrentVersion,
		TargetVersion:  targetVersion,
		MachineID:      v.fingerprint(ctx),
	})
	if err != nil {
		zapLog.Warn("[License] online validation unavailable, falling back to offline check", zap.Error(err))
		res = v.offline(key)
	} else {
		enforceMaxVersion(res, targetVersion)
	}

	observe(res)
	zapLog.Info("[License] validated for update",
		zap.String("source", string(res.Source)),
		zap.Bool("valid", res.Valid),
		zap.Bool("update_allowed", res.UpdateAllowed),
	)

	return res, nil
}

func enforceMaxVersion(res *ValidationResult, target string) {
	if res.MaxVersion == nil || *res.MaxVersion == "" || !res.UpdateAllowed {
		return
	}
	if version.IsNewer(target, *res.MaxVersion) {
		res.UpdateAllowed = false
		res.Message = fmt.Sprintf("version %s exceeds the licensed maximum %s", target, *res.MaxVersion)
	}
}

// offline never grants more than the key itself encodes.
func (v *Validator) offline(raw string) *ValidationResult {
	k, err := v.codec.Decode(raw)
	if err != nil {
		return &ValidationResult{
			Features: []string{},
			Message:  fmt.Sprintf("license key rejected (offline check): %v", err),
			Source:   SourceOffline,
		}
	}

	res := &ValidationResult{
		Tier:      k.Tier,
		ExpiresAt: k.expiryString(),
		Features:  k.Features,
		Source:    SourceOffline,
	}

	if k.Expired(v.now()) {
		res.Message = "license expired (offline check)"
		return res
	}

	res.Valid = true
	res.UpdateAllowed = k.HasFeature(FeatureUpdate)
	if res.UpdateAllowed {
		res.Message = "update allowed (offline check)"
	} else {
		res.Message = "updates are not included in the license (offline check)"
	}
	return res
}

// SaveLicenseKey validates key and, when valid, stores it on SystemInfo.
func (v *Validator) SaveLicenseKey(ctx context.Context, raw string) (*ValidationResult, error) {
	zapLog := logger.FromContext(ctx)
	raw = strings.TrimSpace(raw)

	k, err := v.codec.Decode(raw)
	if err != nil {
		zapLog.Warn("[License] rejected license key", zap.Error(err))
		return nil, errutil.BadRequest("invalid license key", err)
	}

	info, err := v.store.Get(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load system info", err)
	}

	res, err := v.authority.Validate(ctx, AuthorityRequest{
		LicenseKey:     raw,
		InstanceID:     info.InstanceID,
		CurrentVersion: info.CurrentVersion,
		TargetVersion:  info.CurrentVersion,
		MachineID:      v.fingerprint(ctx),
	})
	if err != nil {
		zapLog.Warn("[License] online validation unavailable, using offline check", zap.Error(err))
		if k.Expired(v.now()) {
			return nil, errutil.UnprocessableEntity("license expired", ErrLicenseExpired)
		}
		res = &ValidationResult{
			Valid:         true,
			Tier:          k.Tier,
			ExpiresAt:     k.expiryString(),
			Features:      k.Features,
			UpdateAllowed: k.HasFeature(FeatureUpdate),
			Message:       "license activated (offline)",
			Source:        SourceOffline,
		}
	}
	observe(res)

	if !res.Valid {
		zapLog.Warn("[License] license key refused by authority", zap.String("message", res.Message))
		return res, nil
	}

	tier := res.Tier
	if tier == "" {
		tier = k.Tier
	}
	validUntil := k.ExpiresAt()
	if res.ExpiresAt != nil {
		validUntil = parseExpiry(*res.ExpiresAt)
	}

	if err := v.store.SaveLicense(ctx, raw, string(tier), validUntil); err != nil {
		zapLog.Error("[License] failed to persist license", zap.Error(err))
		return nil, errutil.Internal("failed to save license", err)
	}

	zapLog.Info("[License] license activated", zap.String("tier", string(tier)), zap.String("source", string(res.Source)))
	return res, nil
}

func (v *Validator) GetLicenseInfo(ctx context.Context) (*Info, error) {
	info, err := v.store.Get(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load system info", err)
	}

	out := &Info{
		Features:   []string{},
		InstanceID: info.InstanceID,
		ValidUntil: info.LicenseValidUntil,
	}

	if info.LicenseKey != nil && *info.LicenseKey != "" {
		masked := MaskKey(*info.LicenseKey)
		out.LicenseKey = &masked
		out.IsValid = info.LicenseValidUntil == nil || info.LicenseValidUntil.After(v.now())
	}
	if info.LicenseType != nil {
		tier := Tier(*info.LicenseType)
		out.Tier = &tier
		out.Features = tier.Features()
	}

	return out, nil
}

// parseExpiry accepts YYYYMMDD, YYYY-MM-DD (both end of day) or RFC 3339.
func parseExpiry(s string) *time.Time {
	for _, layout := range []string{expiryLayout, "2006-01-02"} {
		if d, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.Local)
			return &end
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}
