package update

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"updater-controlplane/pkg/db/pagination"
	"updater-controlplane/pkg/errutil"
	"updater-controlplane/pkg/logger"
	"updater-controlplane/pkg/version"
	"updater-controlplane/services/license"
	"updater-controlplane/services/sysinfo"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LicenseChecker interface {
	ValidateForUpdate(ctx context.Context, targetVersion string) (*license.ValidationResult, error)
	SaveLicenseKey(ctx context.Context, key string) (*license.ValidationResult, error)
	GetLicenseInfo(ctx context.Context) (*license.Info, error)
}

type VersionStore interface {
	Get(ctx context.Context) (*sysinfo.SystemInfo, error)
	AdvanceVersion(ctx context.Context, v string, at time.Time) error
	RestoreVersion(ctx context.Context, v string) error
	TouchUpdateCheck(ctx context.Context, at time.Time) error
}

type ReleaseChecker interface {
	CheckLatest(ctx context.Context, current string) (*Release, error)
}

type ArtifactFetcher interface {
	Download(ctx context.Context, url, version, checksum string) (*Artifact, error)
}

type Backupper interface {
	Create(ctx context.Context, updateID, fromVersion string) (string, error)
	Exists(path string) bool
}

type Deployer interface {
	Deploy(ctx context.Context, artifactPath, backupPath string) (*ScriptOutput, error)
}

type RollbackExecutor interface {
	Rollback(ctx context.Context, backupPath string) (*ScriptOutput, error)
}

// Service drives update attempts through the status pipeline. It is the only
// writer of UpdateLog rows and of the installed version.
type Service struct {
	logs       *LogStore
	system     VersionStore
	license    LicenseChecker
	releases   ReleaseChecker
	fetcher    ArtifactFetcher
	backups    Backupper
	deployer   Deployer
	rollbacker RollbackExecutor
	archive    Archive
	node       *snowflake.Node
	tracer     trace.Tracer
	now        func() time.Time

	// admission guards the check-then-create of a new attempt and rollbacks.
	admission sync.Mutex
	workers   sync.WaitGroup
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	System     VersionStore
	License    LicenseChecker
	Releases   ReleaseChecker
	Fetcher    ArtifactFetcher
	Backups    Backupper
	Deployer   Deployer
	Rollbacker RollbackExecutor
	Archive    Archive              `optional:"true"`
	Tracing    trace.TracerProvider `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	tp := p.Tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Service{
		logs:       NewLogStore(p.DB),
		system:     p.System,
		license:    p.License,
		releases:   p.Releases,
		fetcher:    p.Fetcher,
		backups:    p.Backups,
		deployer:   p.Deployer,
		rollbacker: p.Rollbacker,
		archive:    p.Archive,
		node:       p.Node,
		tracer:     tp.Tracer("updater-controlplane/services/update"),
		now:        time.Now,
	}
}

type StartRequest struct {
	Version     string `json:"version" binding:"required"`
	DownloadURL string `json:"downloadUrl" binding:"required,url"`
	Checksum    string `json:"checksum"`
}

type CheckResult struct {
	Available      bool     `json:"available"`
	CurrentVersion string   `json:"currentVersion"`
	Update         *Release `json:"update,omitempty"`
	LicenseAllowed bool     `json:"licenseAllowed"`
	LicenseMessage string   `json:"licenseMessage,omitempty"`
	Message        string   `json:"message"`
}

type InfoView struct {
	System  *sysinfo.SystemInfo `json:"system"`
	License *license.Info       `json:"license"`
}

func (s *Service) Info(ctx context.Context) (*InfoView, error) {
	var out InfoView

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := s.system.Get(gctx)
		out.System = info
		return err
	})
	g.Go(func() error {
		info, err := s.license.GetLicenseInfo(gctx)
		out.License = info
		return err
	})
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx).Error("[Update] failed to load system info", zap.Error(err))
		return nil, errutil.Internal("failed to load system info", err)
	}

	return &out, nil
}

// Check looks up the newest release and whether the license permits it.
func (s *Service) Check(ctx context.Context) (*CheckResult, error) {
	ctx, span := s.tracer.Start(ctx, "update.Check")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	if err := s.system.TouchUpdateCheck(ctx, s.now()); err != nil {
		zapLog.Warn("[Update] failed to record update check", zap.Error(err))
	}

	info, err := s.system.Get(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load system info", err)
	}

	rel, err := s.releases.CheckLatest(ctx, info.CurrentVersion)
	if err != nil {
		zapLog.Warn("[Update] release lookup failed", zap.Error(err))
		return nil, errutil.BadGateway("failed to check for updates", err)
	}

	res := &CheckResult{CurrentVersion: info.CurrentVersion}
	if rel == nil {
		res.Message = "you are running the latest version"
		return res, nil
	}

	verdict, err := s.license.ValidateForUpdate(ctx, rel.Version)
	if err != nil {
		return nil, err
	}

	res.Available = true
	res.Update = rel
	res.LicenseAllowed = verdict.Valid && verdict.UpdateAllowed
	res.LicenseMessage = verdict.Message
	res.Message = fmt.Sprintf("version %s is available", rel.Version)

	zapLog.Info("[Update] update available",
		zap.String("current", info.CurrentVersion),
		zap.String("latest", rel.Version),
		zap.Bool("license_allowed", res.LicenseAllowed),
	)
	return res, nil
}

// StartUpdate admits a new update attempt and runs it in the background. The
// returned log is in status started.
func (s *Service) StartUpdate(ctx context.Context, req StartRequest, operator string) (*UpdateLog, error) {
	ctx, span := s.tracer.Start(ctx, "update.StartUpdate", trace.WithAttributes(attribute.String("update.version", req.Version)))
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("version", req.Version), zap.String("operator", operator))

	req.Version = version.Normalize(req.Version)
	if req.Version == "" || strings.TrimSpace(req.DownloadURL) == "" {
		return nil, errutil.BadRequest("version and downloadUrl are required", nil)
	}

	verdict, err := s.license.ValidateForUpdate(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid || !verdict.UpdateAllowed {
		zapLog.Warn("[Update] update rejected by license", zap.String("message", verdict.Message))
		return nil, errutil.Forbidden(verdict.Message, license.ErrUpdateNotLicensed)
	}

	s.admission.Lock()
	defer s.admission.Unlock()

	active, err := s.logs.FindActive(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to check running updates", err)
	}
	if active != nil {
		return nil, errutil.Conflict(fmt.Sprintf("update %s is %s", active.ID, active.Status), ErrUpdateInProgress)
	}

	info, err := s.system.Get(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to load system info", err)
	}
	if !version.IsNewer(req.Version, info.CurrentVersion) {
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("version %s is not newer than installed %s", req.Version, info.CurrentVersion),
			ErrVersionNotNewer,
		)
	}

	log := &UpdateLog{
		ID:          s.node.Generate().String(),
		FromVersion: info.CurrentVersion,
		ToVersion:   req.Version,
		Details:     datatypes.NewJSONType(Details{DownloadURL: req.DownloadURL, Checksum: req.Checksum}),
	}
	if operator != "" {
		log.PerformedBy = &operator
	}

	if err := s.logs.Create(ctx, log, fmt.Sprintf("update to %s started", req.Version)); err != nil {
		zapLog.Error("[Update] failed to create update log", zap.Error(err))
		return nil, errutil.Internal("failed to create update log", err)
	}

	zapLog.Info("[Update] update started", zap.String("update_id", log.ID), zap.String("from", log.FromVersion))

	s.workers.Add(1)
	go s.run(log.ID, req)

	return log, nil
}

func (s *Service) run(id string, req StartRequest) {
	defer s.workers.Done()

	ctx, span := s.tracer.Start(context.Background(), "update.run", trace.WithAttributes(
		attribute.String("update.id", id),
		attribute.String("update.version", req.Version),
	))
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("update_id", id), zap.String("version", req.Version))

	defer func() {
		if r := recover(); r != nil {
			zapLog.Error("[Update] update worker panicked", zap.Any("panic", r))
			s.fail(ctx, id, fmt.Errorf("internal error: %v", r))
			updateAttempts.WithLabelValues("failed").Inc()
		}
	}()

	if err := s.execute(ctx, id, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		zapLog.Error("[Update] update failed", zap.Error(err))
		s.fail(ctx, id, err)
		updateAttempts.WithLabelValues("failed").Inc()
		return
	}

	zapLog.Info("[Update] update completed")
	updateAttempts.WithLabelValues("completed").Inc()
}

func (s *Service) execute(ctx context.Context, id string, req StartRequest) error {
	log, err := s.logs.Transition(ctx, id, StatusDownloading, fmt.Sprintf("downloading %s", req.Version), nil)
	if err != nil {
		return err
	}

	var artifact *Artifact
	err = timed("download", func() error {
		var err error
		artifact, err = s.fetcher.Download(ctx, req.DownloadURL, req.Version, req.Checksum)
		return err
	})
	if err != nil {
		return err
	}

	archived := s.archiveArtifact(ctx, req.Version, artifact)
	if err := s.logs.Annotate(ctx, id, func(l *UpdateLog) {
		d := l.Details.Data()
		d.ArtifactPath = artifact.Path
		d.Checksum = artifact.SHA256
		d.ArchiveObject = archived
		l.Details = datatypes.NewJSONType(d)
	}); err != nil {
		return err
	}

	if _, err := s.logs.Transition(ctx, id, StatusBackingUp, "creating backup", nil); err != nil {
		return err
	}

	var backupPath string
	err = timed("backup", func() error {
		var err error
		backupPath, err = s.backups.Create(ctx, id, log.FromVersion)
		return err
	})
	if err != nil {
		return err
	}
	if err := s.logs.Annotate(ctx, id, func(l *UpdateLog) { l.BackupPath = &backupPath }); err != nil {
		return err
	}

	if _, err := s.logs.Transition(ctx, id, StatusDeploying, fmt.Sprintf("deploying %s", req.Version), nil); err != nil {
		return err
	}

	var out *ScriptOutput
	deployErr := timed("deploy", func() error {
		var err error
		out, err = s.deployer.Deploy(ctx, artifact.Path, backupPath)
		return err
	})
	if out != nil {
		if err := s.logs.Annotate(ctx, id, func(l *UpdateLog) {
			d := l.Details.Data()
			d.DeployOutput = out
			l.Details = datatypes.NewJSONType(d)
		}); err != nil {
			zap.L().Warn("[Update] failed to store deploy output", zap.String("update_id", id), zap.Error(err))
		}
	}
	if deployErr != nil {
		return deployErr
	}

	if err := s.system.AdvanceVersion(ctx, log.ToVersion, s.now()); err != nil {
		return fmt.Errorf("record installed version: %w", err)
	}

	_, err = s.logs.Transition(ctx, id, StatusCompleted, fmt.Sprintf("updated to %s", log.ToVersion), nil)
	return err
}

func (s *Service) archiveArtifact(ctx context.Context, v string, a *Artifact) string {
	if s.archive == nil {
		return ""
	}
	object, err := s.archive.Store(ctx, v, a)
	if err != nil {
		zap.L().Warn("[Update] failed to archive artifact", zap.String("version", v), zap.Error(err))
		return ""
	}
	return object
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	if _, err := s.logs.Transition(ctx, id, StatusFailed, cause.Error(), nil); err != nil {
		zap.L().Error("[Update] failed to mark update as failed",
			zap.String("update_id", id),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

func timed(step string, fn func() error) error {
	start := time.Now()
	err := fn()
	stepDuration.WithLabelValues(step, outcome(err)).Observe(time.Since(start).Seconds())
	return err
}

func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	log, err := s.logs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, errutil.NotFound("update not found", err)
		}
		return nil, errutil.Internal("failed to load update", err)
	}
	return log.View(), nil
}

func (s *Service) History(ctx context.Context, limit int) ([]*UpdateLog, error) {
	p := pagination.Pagination{Limit: limit}.Normalize()
	logs, err := s.logs.History(ctx, p.Limit)
	if err != nil {
		return nil, errutil.Internal("failed to load update history", err)
	}
	return logs, nil
}

// HistoryTotal counts every recorded update attempt.
func (s *Service) HistoryTotal(ctx context.Context) (int64, error) {
	n, err := s.logs.Count(ctx)
	if err != nil {
		return 0, errutil.Internal("failed to count update history", err)
	}
	return n, nil
}

// Rollback restores the backup taken by a completed update. A failed
// rollback script leaves the log untouched.
func (s *Service) Rollback(ctx context.Context, id string) (*UpdateLog, error) {
	ctx, span := s.tracer.Start(ctx, "update.Rollback", trace.WithAttributes(attribute.String("update.id", id)))
	defer span.End()

	zapLog := logger.FromContext(ctx).With(zap.String("update_id", id))

	s.admission.Lock()
	defer s.admission.Unlock()

	log, err := s.logs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, errutil.NotFound("update not found", err)
		}
		return nil, errutil.Internal("failed to load update", err)
	}

	if log.Status == StatusRolledBack {
		return nil, errutil.Conflict("update was already rolled back", ErrAlreadyRolledBack)
	}
	if log.BackupPath == nil || *log.BackupPath == "" || !s.backups.Exists(*log.BackupPath) {
		return nil, errutil.UnprocessableEntity("no backup available for this update", ErrNoBackupAvailable)
	}
	if log.Status != StatusCompleted {
		return nil, errutil.UnprocessableEntity(fmt.Sprintf("update is %s", log.Status), ErrRollbackNotAllowed)
	}

	active, err := s.logs.FindActive(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to check running updates", err)
	}
	if active != nil {
		return nil, errutil.Conflict(fmt.Sprintf("update %s is %s", active.ID, active.Status), ErrUpdateInProgress)
	}

	zapLog.Info("[Update] rolling back", zap.String("backup_path", *log.BackupPath), zap.String("to_version", log.FromVersion))

	// The script must finish even if the caller goes away.
	runCtx := context.WithoutCancel(ctx)

	out, err := s.rollbacker.Rollback(runCtx, *log.BackupPath)
	rollbacks.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		zapLog.Error("[Update] rollback script failed", zap.Error(err))
		return nil, errutil.Internal("rollback failed", err)
	}

	if err := s.system.RestoreVersion(runCtx, log.FromVersion); err != nil {
		return nil, errutil.Internal("failed to restore installed version", err)
	}

	updated, err := s.logs.Transition(runCtx, id, StatusRolledBack, fmt.Sprintf("rolled back to %s", log.FromVersion), func(l *UpdateLog) {
		d := l.Details.Data()
		d.RollbackOutput = out
		l.Details = datatypes.NewJSONType(d)
	})
	if err != nil {
		return nil, errutil.Internal("failed to record rollback", err)
	}

	zapLog.Info("[Update] rollback completed", zap.String("version", log.FromVersion))
	return updated, nil
}

func (s *Service) LicenseInfo(ctx context.Context) (*license.Info, error) {
	return s.license.GetLicenseInfo(ctx)
}

func (s *Service) ActivateLicense(ctx context.Context, key string) (*license.ValidationResult, error) {
	return s.license.SaveLicenseKey(ctx, key)
}

// RecoverInterrupted fails attempts left mid-pipeline by a previous process.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	active, err := s.logs.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, l := range active {
		zap.L().Warn("[Update] marking interrupted update as failed", zap.String("update_id", l.ID), zap.String("status", string(l.Status)))
		if _, err := s.logs.Transition(ctx, l.ID, StatusFailed, fmt.Sprintf("interrupted by restart while %s", l.Status), nil); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until running update workers finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
