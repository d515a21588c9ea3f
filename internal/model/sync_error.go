package model

import "time"

// SyncError 用户同步错误，对应 sync_errors
// 相同 (username, error) 复用同一个三位错误码
type SyncError struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"   json:"id"`
	Username  string    `gorm:"type:varchar(64);not null"  json:"username"`
	ErrorCode int       `gorm:"not null"                   json:"error_code"`
	Error     string    `gorm:"type:text;not null"         json:"error"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (SyncError) TableName() string { return "sync_errors" }

// GeneralError 与用户无关的系统错误，对应 general_errors，六位错误码
type GeneralError struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ErrorCode int       `gorm:"not null;uniqueIndex"     json:"error_code"`
	Error     string    `gorm:"type:text;not null"       json:"error"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (GeneralError) TableName() string { return "general_errors" }

// ── 错误码范围 ──

const (
	SyncErrorCodeMin    = 100
	SyncErrorCodeMax    = 999
	GeneralErrorCodeMin = 100000
	GeneralErrorCodeMax = 999999
)
