package update

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"updater-controlplane/pkg/config"

	"go.uber.org/zap"
)

type backupManifest struct {
	UpdateID    string    `json:"updateId"`
	FromVersion string    `json:"fromVersion"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BackupManager allocates timestamped snapshot directories. The deploy
// script fills them; the manager only guarantees they exist beforehand.
type BackupManager struct {
	dir string
	now func() time.Time
}

func NewBackupManager(cfg *config.Config) *BackupManager {
	return &BackupManager{dir: cfg.Update.BackupDir, now: time.Now}
}

func (b *BackupManager) Create(ctx context.Context, updateID, fromVersion string) (string, error) {
	now := b.now().UTC()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format("2006-01-02T15:04:05.000Z"))
	dir := filepath.Join(b.dir, "backup-"+stamp)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	manifest, err := json.MarshalIndent(backupManifest{UpdateID: updateID, FromVersion: fromVersion, CreatedAt: now}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o640); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	zap.L().Info("[Backup] backup location created", zap.String("path", dir), zap.String("from_version", fromVersion))
	return dir, nil
}

func (b *BackupManager) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
