package update

import (
	"context"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/db"
	"updater-controlplane/services/license"
	"updater-controlplane/services/sysinfo"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("update",
	fx.Provide(
		func(cfg *config.Config) Registry { return NewGitHubRegistry(cfg) },
		provideReleaseCache,
		func(r Registry, c ReleaseCache) ReleaseChecker { return NewReleaseSource(r, c) },
		func(cfg *config.Config) ArtifactFetcher { return NewFetcher(cfg) },
		func(cfg *config.Config) Backupper { return NewBackupManager(cfg) },
		NewScriptExecutor,
		func(e *ScriptExecutor) Deployer { return e },
		func(e *ScriptExecutor) RollbackExecutor { return e },
		provideArchive,
		func(s *sysinfo.Store) VersionStore { return s },
		func(v *license.Validator) LicenseChecker { return v },
		NewService,
		NewHandler,
		NewScheduler,
	),
	fx.Invoke(
		migrate,
		registerLifecycle,
		StartScheduler,
		RegisterRoutes,
	),
)

type cacheParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func provideReleaseCache(p cacheParams) ReleaseCache {
	ttl := p.Config.Release.CacheTTL
	switch {
	case ttl <= 0:
		return nil
	case p.Redis != nil:
		return NewRedisReleaseCache(p.Redis, p.Config.Release.Repo, ttl)
	default:
		return NewMemoryReleaseCache(ttl)
	}
}

type archiveParams struct {
	fx.In
	Config *config.Config
	Minio  *minio.Client `optional:"true"`
}

func provideArchive(p archiveParams) Archive {
	if p.Minio == nil {
		return nil
	}
	return NewMinioArchive(p.Minio, p.Config.Minio.BucketName)
}

func migrate(gdb *gorm.DB) error {
	return db.Migrate(gdb, &UpdateLog{})
}

// registerLifecycle fails attempts orphaned by a previous process on start and
// lets running workers finish on stop.
func registerLifecycle(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.RecoverInterrupted(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := svc.Wait(ctx); err != nil {
				zap.L().Warn("[Update] shutdown while update still running", zap.Error(err))
			}
			return nil
		},
	})
}
