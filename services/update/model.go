package update

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusStarted     Status = "started"
	StatusDownloading Status = "downloading"
	StatusBackingUp   Status = "backing_up"
	// StatusMigrating is reserved for a database migration step; the current
	// pipeline goes from backing_up straight to deploying.
	StatusMigrating  Status = "migrating"
	StatusDeploying  Status = "deploying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// validTransitions is the transition matrix. Key is the current status,
// value the set of allowed next statuses.
var validTransitions = map[Status]map[Status]bool{
	StatusStarted:     {StatusDownloading: true, StatusFailed: true},
	StatusDownloading: {StatusBackingUp: true, StatusFailed: true},
	StatusBackingUp:   {StatusMigrating: true, StatusDeploying: true, StatusFailed: true},
	StatusMigrating:   {StatusDeploying: true, StatusFailed: true},
	StatusDeploying:   {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:   {StatusRolledBack: true},
	StatusFailed:      {},
	StatusRolledBack:  {},
}

var progress = map[Status]int{
	StatusStarted:     10,
	StatusDownloading: 30,
	StatusBackingUp:   50,
	StatusMigrating:   70,
	StatusDeploying:   90,
	StatusCompleted:   100,
	StatusFailed:      0,
	StatusRolledBack:  0,
}

func (s Status) CanTransitionTo(to Status) bool {
	return validTransitions[s][to]
}

// Terminal reports whether no pipeline step can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// Progress is an approximate percentage for display only.
func (s Status) Progress() int {
	return progress[s]
}

func terminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusRolledBack}
}

type Event struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ScriptOutput struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Details accumulates progress notes on an UpdateLog.
type Details struct {
	Message        string        `json:"message,omitempty"`
	Timestamp      *time.Time    `json:"timestamp,omitempty"`
	DownloadURL    string        `json:"downloadUrl,omitempty"`
	Checksum       string        `json:"checksum,omitempty"`
	ArtifactPath   string        `json:"artifactPath,omitempty"`
	ArchiveObject  string        `json:"archiveObject,omitempty"`
	DeployOutput   *ScriptOutput `json:"deployOutput,omitempty"`
	RollbackOutput *ScriptOutput `json:"rollbackOutput,omitempty"`
	History        []Event       `json:"history"`
}

type UpdateLog struct {
	ID           string                      `gorm:"column:id;primaryKey" json:"id"`
	FromVersion  string                      `gorm:"column:from_version;not null" json:"fromVersion"`
	ToVersion    string                      `gorm:"column:to_version;not null" json:"toVersion"`
	Status       Status                      `gorm:"column:status;not null;index" json:"status"`
	StartedAt    time.Time                   `gorm:"column:started_at;not null;index" json:"startedAt"`
	CompletedAt  *time.Time                  `gorm:"column:completed_at" json:"completedAt"`
	PerformedBy  *string                     `gorm:"column:performed_by" json:"performedBy"`
	BackupPath   *string                     `gorm:"column:backup_path" json:"backupPath"`
	ErrorMessage *string                     `gorm:"column:error_message" json:"errorMessage"`
	Details      datatypes.JSONType[Details] `gorm:"column:details" json:"details"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at" json:"-"`
}

func (UpdateLog) TableName() string {
	return "update_logs"
}

type StatusView struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message"`
	FromVersion  string    `json:"fromVersion"`
	ToVersion    string    `json:"toVersion"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	Details      Details   `json:"details"`
	StartedAt    time.Time `json:"startedAt"`
}

func (l *UpdateLog) View() *StatusView {
	d := l.Details.Data()
	return &StatusView{
		ID:           l.ID,
		Status:       l.Status,
		Progress:     l.Status.Progress(),
		Message:      d.Message,
		FromVersion:  l.FromVersion,
		ToVersion:    l.ToVersion,
		ErrorMessage: l.ErrorMessage,
		Details:      d,
		StartedAt:    l.StartedAt,
	}
}
