package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/db"
	"updater-controlplane/pkg/version"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("sysinfo",
	fx.Provide(NewStore),
	fx.Invoke(Migrate),
)

var ErrVersionNotNewer = errors.New("version is not newer than the installed version")

// Store persists the singleton SystemInfo row. Each method is a single
// atomic write; no lock is held across calls.
type Store struct {
	db             *gorm.DB
	initialVersion string
	now            func() time.Time
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewStore(p StoreParams) *Store {
	initial := "0.0.0"
	if p.Config != nil && p.Config.AppVersion != "" {
		initial = p.Config.AppVersion
	}

	return &Store{
		db:             p.DB,
		initialVersion: initial,
		now:            time.Now,
	}
}

func Migrate(s *Store) error {
	return db.Migrate(s.db, &SystemInfo{})
}

// Get returns the SystemInfo row, creating it on first use.
func (s *Store) Get(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	err := s.db.WithContext(ctx).First(&info, SingletonID).Error
	if err == nil {
		return &info, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	row := &SystemInfo{
		ID:             SingletonID,
		CurrentVersion: s.initialVersion,
		InstalledAt:    s.now(),
		InstanceID:     uuid.NewString(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}

	zap.L().Info("[SystemInfo] initialized",
		zap.String("version", s.initialVersion),
		zap.String("instance_id", row.InstanceID),
	)

	// Re-read: a concurrent initializer may have won the insert.
	if err := s.db.WithContext(ctx).First(&info, SingletonID).Error; err != nil {
		return nil, err
	}
	return &info, nil
}

// AdvanceVersion records a successful deploy of v. It refuses to move the
// version backwards or sideways.
func (s *Store) AdvanceVersion(ctx context.Context, v string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var info SystemInfo
		if err := tx.First(&info, SingletonID).Error; err != nil {
			return err
		}
		if !version.IsNewer(v, info.CurrentVersion) {
			return fmt.Errorf("%w: %s -> %s", ErrVersionNotNewer, info.CurrentVersion, v)
		}
		return tx.Model(&SystemInfo{}).Where("id = ?", SingletonID).Updates(map[string]any{
			"current_version": v,
			"last_update_at":  at,
		}).Error
	})
}

// RestoreVersion sets the version back to v after a rollback.
func (s *Store) RestoreVersion(ctx context.Context, v string) error {
	return s.update(ctx, map[string]any{"current_version": v})
}

func (s *Store) TouchUpdateCheck(ctx context.Context, at time.Time) error {
	return s.update(ctx, map[string]any{"last_update_check": at})
}

func (s *Store) SaveLicense(ctx context.Context, key, tier string, validUntil *time.Time) error {
	return s.update(ctx, map[string]any{
		"license_key":         key,
		"license_type":        tier,
		"license_valid_until": validUntil,
	})
}

func (s *Store) update(ctx context.Context, values map[string]any) error {
	if _, err := s.Get(ctx); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&SystemInfo{}).Where("id = ?", SingletonID).Updates(values).Error
}
