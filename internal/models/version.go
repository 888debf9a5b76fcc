package models

import "time"

const DefaultLedgerTable = "schema_versions"

// VersionRecord - строка реестра версий: одна на каждое имя схемы.
// После создания меняются только Version, Locked и LockedAt.
type VersionRecord struct {
	Name      string      `gorm:"column:name;primaryKey"`
	Version   int         `gorm:"column:version;not null"`
	DateAdded CustomTime  `gorm:"column:date_added"`
	Locked    bool        `gorm:"column:locked;not null;default:false"`
	LockedAt  *CustomTime `gorm:"column:locked_at"`
}

func (v VersionRecord) TableName() string {
	return DefaultLedgerTable
}

// LockExpired сообщает, что флаг блокировки старше lease и может быть перехвачен.
// Нулевой lease означает, что флаг не истекает.
func (v VersionRecord) LockExpired(now time.Time, lease time.Duration) bool {
	if !v.Locked || lease <= 0 || v.LockedAt == nil {
		return false
	}
	return now.Sub(v.LockedAt.Time) > lease
}
