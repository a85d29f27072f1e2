package update

import (
	"context"
	"time"

	"updater-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler periodically checks for new releases. It only reports; starting
// an update always needs an operator.
type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, interval: cfg.Update.CheckInterval}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	if s.interval <= 0 {
		zap.L().Info("[Scheduler] periodic update check disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started update check scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	res, err := s.service.Check(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] update check failed", zap.Error(err))
		return
	}

	if res.Available {
		zap.L().Info("[Scheduler] update available",
			zap.String("current", res.CurrentVersion),
			zap.String("latest", res.Update.Version),
			zap.Bool("license_allowed", res.LicenseAllowed),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}

	zap.L().Debug("[Scheduler] no update available", zap.Duration("duration", time.Since(start)))
}
