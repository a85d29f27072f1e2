package update

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"updater-controlplane/pkg/config"
	"updater-controlplane/pkg/errutil"
	"updater-controlplane/services/license"
	"updater-controlplane/services/sysinfo"
	"updater-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

type licenseMock struct {
	validateForUpdateFn func(ctx context.Context, target string) (*license.ValidationResult, error)
	saveLicenseKeyFn    func(ctx context.Context, key string) (*license.ValidationResult, error)
}

func (m *licenseMock) ValidateForUpdate(ctx context.Context, target string) (*license.ValidationResult, error) {
	if m.validateForUpdateFn != nil {
		return m.validateForUpdateFn(ctx, target)
	}
	return &license.ValidationResult{Valid: true, Tier: license.TierPro, UpdateAllowed: true, Message: "update allowed"}, nil
}

func (m *licenseMock) SaveLicenseKey(ctx context.Context, key string) (*license.ValidationResult, error) {
	if m.saveLicenseKeyFn != nil {
		return m.saveLicenseKeyFn(ctx, key)
	}
	return &license.ValidationResult{Valid: true, Tier: license.TierPro, Message: "license activated"}, nil
}

func (m *licenseMock) GetLicenseInfo(context.Context) (*license.Info, error) {
	tier := license.TierPro
	return &license.Info{Tier: &tier, IsValid: true, Features: tier.Features()}, nil
}

type releaseCheckerMock struct {
	checkLatestFn func(ctx context.Context, current string) (*Release, error)
}

func (m *releaseCheckerMock) CheckLatest(ctx context.Context, current string) (*Release, error) {
	if m.checkLatestFn != nil {
		return m.checkLatestFn(ctx, current)
	}
	return nil, nil
}

type fetcherMock struct {
	downloadFn func(ctx context.Context, url, version, checksum string) (*Artifact, error)
}

func (m *fetcherMock) Download(ctx context.Context, url, version, checksum string) (*Artifact, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, url, version, checksum)
	}
	return &Artifact{Path: "/tmp/release-v" + version + ".tar.gz", SHA256: "abc123", Size: 3}, nil
}

type scriptsMock struct {
	deployCalls   atomic.Int32
	rollbackCalls atomic.Int32
	deployFn      func(ctx context.Context, artifactPath, backupPath string) (*ScriptOutput, error)
	rollbackFn    func(ctx context.Context, backupPath string) (*ScriptOutput, error)
}

func (m *scriptsMock) Deploy(ctx context.Context, artifactPath, backupPath string) (*ScriptOutput, error) {
	m.deployCalls.Add(1)
	if m.deployFn != nil {
		return m.deployFn(ctx, artifactPath, backupPath)
	}
	return &ScriptOutput{ExitCode: 0, Stdout: "deployed"}, nil
}

func (m *scriptsMock) Rollback(ctx context.Context, backupPath string) (*ScriptOutput, error) {
	m.rollbackCalls.Add(1)
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx, backupPath)
	}
	return &ScriptOutput{ExitCode: 0, Stdout: "restored"}, nil
}

type serviceFixture struct {
	svc      *Service
	system   *sysinfo.Store
	license  *licenseMock
	releases *releaseCheckerMock
	fetcher  *fetcherMock
	scripts  *scriptsMock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &UpdateLog{}, &sysinfo.SystemInfo{})

	cfg := &config.Config{AppVersion: "1.2.0"}
	cfg.Update.BackupDir = t.TempDir()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &serviceFixture{
		system:   sysinfo.NewStore(sysinfo.StoreParams{DB: db, Config: cfg}),
		license:  &licenseMock{},
		releases: &releaseCheckerMock{},
		fetcher:  &fetcherMock{},
		scripts:  &scriptsMock{},
	}

	f.svc = NewService(ServiceParams{
		DB:         db,
		Node:       node,
		System:     f.system,
		License:    f.license,
		Releases:   f.releases,
		Fetcher:    f.fetcher,
		Backups:    NewBackupManager(cfg),
		Deployer:   f.scripts,
		Rollbacker: f.scripts,
	})
	return f
}

func (f *serviceFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))
}

func (f *serviceFixture) currentVersion(t *testing.T) string {
	t.Helper()
	info, err := f.system.Get(context.Background())
	require.NoError(t, err)
	return info.CurrentVersion
}

func (f *serviceFixture) completeUpdate(t *testing.T, v string) *UpdateLog {
	t.Helper()
	log, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: v, DownloadURL: "https://example.com/r.tar.gz"}, "admin")
	require.NoError(t, err)
	f.wait(t)

	got, err := f.svc.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	return got
}

func requireStatus(t *testing.T, err error, code errutil.CoreStatus) errutil.BaseError {
	t.Helper()
	require.Error(t, err)
	be, ok := errutil.As(err)
	require.True(t, ok, "expected errutil.BaseError, got %v", err)
	require.Equal(t, code, be.Code)
	return be
}

func TestStartUpdateCompletes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	log, err := f.svc.StartUpdate(ctx, StartRequest{Version: "v1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, "admin")
	require.NoError(t, err)
	require.Equal(t, StatusStarted, log.Status)
	require.Equal(t, "1.2.0", log.FromVersion)
	require.Equal(t, "1.3.0", log.ToVersion)
	require.Equal(t, "admin", *log.PerformedBy)

	f.wait(t)

	view, err := f.svc.Status(ctx, log.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, view.Status)
	require.Equal(t, 100, view.Progress)
	require.Equal(t, "/tmp/release-v1.3.0.tar.gz", view.Details.ArtifactPath)
	require.Equal(t, "deployed", view.Details.DeployOutput.Stdout)

	var statuses []Status
	for _, e := range view.Details.History {
		statuses = append(statuses, e.Status)
	}
	require.Equal(t, []Status{StatusStarted, StatusDownloading, StatusBackingUp, StatusDeploying, StatusCompleted}, statuses)

	stored, err := f.svc.logs.Get(ctx, log.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BackupPath)
	require.DirExists(t, *stored.BackupPath)
	require.NotNil(t, stored.CompletedAt)

	require.Equal(t, "1.3.0", f.currentVersion(t))
}

func TestStartUpdateRejectedByLicense(t *testing.T) {
	f := newServiceFixture(t)
	f.license.validateForUpdateFn = func(context.Context, string) (*license.ValidationResult, error) {
		return &license.ValidationResult{Valid: true, Tier: license.TierBasic, Message: "updates are not included in the license"}, nil
	}

	_, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, "")
	be := requireStatus(t, err, errutil.StatusForbidden)
	require.Equal(t, "updates are not included in the license", be.Message)
	require.ErrorIs(t, err, license.ErrUpdateNotLicensed)

	logs, err := f.svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Equal(t, "1.2.0", f.currentVersion(t))
}

func TestStartUpdateRejectsInvalidLicense(t *testing.T) {
	f := newServiceFixture(t)
	f.license.validateForUpdateFn = func(context.Context, string) (*license.ValidationResult, error) {
		return &license.ValidationResult{Valid: false, UpdateAllowed: true, Message: "license revoked"}, nil
	}

	_, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, "")
	be := requireStatus(t, err, errutil.StatusForbidden)
	require.Equal(t, "license revoked", be.Message)

	logs, err := f.svc.History(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestStartUpdateRequiresFields(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: " ", DownloadURL: "https://example.com"}, "")
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestStartUpdateNotNewer(t *testing.T) {
	f := newServiceFixture(t)

	for _, v := range []string{"1.2.0", "1.1.9"} {
		_, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: v, DownloadURL: "https://example.com/r.tar.gz"}, "")
		requireStatus(t, err, errutil.StatusUnprocessableEntity)
		require.ErrorIs(t, err, ErrVersionNotNewer)
	}
}

func TestStartUpdateWhileInProgress(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.scripts.deployFn = func(context.Context, string, string) (*ScriptOutput, error) {
		<-release
		return &ScriptOutput{}, nil
	}

	first, err := f.svc.StartUpdate(ctx, StartRequest{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, "")
	require.NoError(t, err)

	_, err = f.svc.StartUpdate(ctx, StartRequest{Version: "1.4.0", DownloadURL: "https://example.com/r.tar.gz"}, "")
	requireStatus(t, err, errutil.StatusConflict)
	require.ErrorIs(t, err, ErrUpdateInProgress)

	close(release)
	f.wait(t)

	view, err := f.svc.Status(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, view.Status)

	logs, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestStartUpdateDownloadFails(t *testing.T) {
	f := newServiceFixture(t)
	f.fetcher.downloadFn = func(context.Context, string, string, string) (*Artifact, error) {
		return nil, ErrChecksumMismatch
	}

	log, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz", Checksum: "bad"}, "")
	require.NoError(t, err)
	f.wait(t)

	stored, err := f.svc.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Contains(t, *stored.ErrorMessage, "checksum mismatch")
	require.Nil(t, stored.BackupPath)
	require.Zero(t, f.scripts.deployCalls.Load())
	require.Equal(t, "1.2.0", f.currentVersion(t))

	// A failed attempt does not block the next one.
	f.fetcher.downloadFn = nil
	f.completeUpdate(t, "1.3.0")
}

func TestStartUpdateDeployFails(t *testing.T) {
	f := newServiceFixture(t)
	f.scripts.deployFn = func(context.Context, string, string) (*ScriptOutput, error) {
		return &ScriptOutput{ExitCode: 2, Stderr: "docker compose failed"}, errors.Join(ErrDeployScriptFailed, errors.New("exit code 2"))
	}

	log, err := f.svc.StartUpdate(context.Background(), StartRequest{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, "")
	require.NoError(t, err)
	f.wait(t)

	stored, err := f.svc.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Contains(t, *stored.ErrorMessage, "deploy script failed")
	require.NotNil(t, stored.BackupPath)
	require.Equal(t, 2, stored.Details.Data().DeployOutput.ExitCode)
	require.Equal(t, "1.2.0", f.currentVersion(t))

	_, err = f.svc.Rollback(context.Background(), log.ID)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
	require.ErrorIs(t, err, ErrRollbackNotAllowed)
	require.Zero(t, f.scripts.rollbackCalls.Load())
}

func TestRollbackRestoresPreviousVersion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	done := f.completeUpdate(t, "1.3.0")
	require.Equal(t, "1.3.0", f.currentVersion(t))

	log, err := f.svc.Rollback(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRolledBack, log.Status)
	require.Equal(t, "restored", log.Details.Data().RollbackOutput.Stdout)
	require.Equal(t, "1.2.0", f.currentVersion(t))

	_, err = f.svc.Rollback(ctx, done.ID)
	requireStatus(t, err, errutil.StatusConflict)
	require.ErrorIs(t, err, ErrAlreadyRolledBack)
	require.EqualValues(t, 1, f.scripts.rollbackCalls.Load())
}

func TestRollbackFailureLeavesLogUntouched(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	done := f.completeUpdate(t, "1.3.0")
	f.scripts.rollbackFn = func(context.Context, string) (*ScriptOutput, error) {
		return &ScriptOutput{ExitCode: 1}, ErrRollbackScriptFailed
	}

	_, err := f.svc.Rollback(ctx, done.ID)
	requireStatus(t, err, errutil.StatusInternal)
	require.ErrorIs(t, err, ErrRollbackScriptFailed)

	stored, err := f.svc.logs.Get(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Nil(t, stored.Details.Data().RollbackOutput)
	require.Equal(t, "1.3.0", f.currentVersion(t))
}

func TestRollbackWithoutBackupOnDisk(t *testing.T) {
	f := newServiceFixture(t)

	done := f.completeUpdate(t, "1.3.0")
	require.NoError(t, os.RemoveAll(*done.BackupPath))

	_, err := f.svc.Rollback(context.Background(), done.ID)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
	require.ErrorIs(t, err, ErrNoBackupAvailable)
	require.Zero(t, f.scripts.rollbackCalls.Load())
}

func TestRollbackUnknownUpdate(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Rollback(context.Background(), "404")
	requireStatus(t, err, errutil.StatusNotFound)

	_, err = f.svc.Status(context.Background(), "404")
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestCheck(t *testing.T) {
	t.Run("no_release", func(t *testing.T) {
		f := newServiceFixture(t)

		res, err := f.svc.Check(context.Background())
		require.NoError(t, err)
		require.False(t, res.Available)
		require.Equal(t, "1.2.0", res.CurrentVersion)

		info, err := f.system.Get(context.Background())
		require.NoError(t, err)
		require.NotNil(t, info.LastUpdateCheck)
	})

	t.Run("basic_license", func(t *testing.T) {
		f := newServiceFixture(t)
		f.releases.checkLatestFn = func(_ context.Context, current string) (*Release, error) {
			require.Equal(t, "1.2.0", current)
			return &Release{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, nil
		}
		f.license.validateForUpdateFn = func(_ context.Context, target string) (*license.ValidationResult, error) {
			require.Equal(t, "1.3.0", target)
			return &license.ValidationResult{Valid: true, Tier: license.TierBasic, Message: "updates are not included in the license"}, nil
		}

		res, err := f.svc.Check(context.Background())
		require.NoError(t, err)
		require.True(t, res.Available)
		require.False(t, res.LicenseAllowed)
		require.Equal(t, "updates are not included in the license", res.LicenseMessage)
		require.Equal(t, "1.3.0", res.Update.Version)
	})

	t.Run("registry_down", func(t *testing.T) {
		f := newServiceFixture(t)
		f.releases.checkLatestFn = func(context.Context, string) (*Release, error) {
			return nil, ErrReleaseUnavailable
		}

		_, err := f.svc.Check(context.Background())
		requireStatus(t, err, errutil.StatusBadGateway)
	})
}

func TestInfo(t *testing.T) {
	f := newServiceFixture(t)

	info, err := f.svc.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.0", info.System.CurrentVersion)
	require.True(t, info.License.IsValid)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	stuck := &UpdateLog{ID: "7", FromVersion: "1.2.0", ToVersion: "1.3.0"}
	require.NoError(t, f.svc.logs.Create(ctx, stuck, "started"))
	_, err := f.svc.logs.Transition(ctx, "7", StatusDownloading, "downloading", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.RecoverInterrupted(ctx))

	got, err := f.svc.logs.Get(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "interrupted")

	active, err := f.svc.logs.FindActive(ctx)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newServiceFixture(t)

	f.completeUpdate(t, "1.3.0")
	f.completeUpdate(t, "1.4.0")

	logs, err := f.svc.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "1.4.0", logs[0].ToVersion)
}
