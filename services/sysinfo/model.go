package sysinfo

import "time"

// SingletonID is the primary key of the only SystemInfo row.
const SingletonID = 1

type SystemInfo struct {
	ID                int        `gorm:"column:id;primaryKey;autoIncrement:false" json:"-"`
	CurrentVersion    string     `gorm:"column:current_version;not null" json:"currentVersion"`
	InstalledAt       time.Time  `gorm:"column:installed_at;not null" json:"installedAt"`
	LastUpdateAt      *time.Time `gorm:"column:last_update_at" json:"lastUpdateAt"`
	LastUpdateCheck   *time.Time `gorm:"column:last_update_check" json:"lastUpdateCheck"`
	InstanceID        string     `gorm:"column:instance_id;not null;uniqueIndex" json:"instanceId"`
	LicenseKey        *string    `gorm:"column:license_key" json:"-"`
	LicenseType       *string    `gorm:"column:license_type" json:"licenseType"`
	LicenseValidUntil *time.Time `gorm:"column:license_valid_until" json:"licenseValidUntil"`
	UpdatedAt         time.Time  `gorm:"column:updated_at" json:"-"`
}

func (SystemInfo) TableName() string {
	return "system_info"
}
