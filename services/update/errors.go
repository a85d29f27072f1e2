package update

import "errors"

var (
	ErrChecksumMismatch     = errors.New("artifact checksum mismatch")
	ErrDownloadFailed       = errors.New("artifact download failed")
	ErrBackupFailed         = errors.New("backup failed")
	ErrDeployScriptFailed   = errors.New("deploy script failed")
	ErrRollbackScriptFailed = errors.New("rollback script failed")
	ErrNoBackupAvailable    = errors.New("no backup available for this update")
	ErrAlreadyRolledBack    = errors.New("update already rolled back")
	ErrRollbackNotAllowed   = errors.New("only completed updates can be rolled back")
	ErrUpdateInProgress     = errors.New("another update is in progress")
	ErrUpdateNotFound       = errors.New("update not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrVersionNotNewer      = errors.New("target version is not newer than the installed version")
	ErrReleaseUnavailable   = errors.New("release registry unavailable")
)
