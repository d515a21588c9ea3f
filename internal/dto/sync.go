package dto

import "github.com/graderoom/graderoom/internal/model"

// ── 同步模块 DTO ──

// SyncRequest 发起同步；门户密码只用于本次抓取，不落库
type SyncRequest struct {
	SchoolPassword string `json:"school_password" binding:"required,max=256"`
}

// SyncTicketResponse 同步已受理
type SyncTicketResponse struct {
	SyncID string `json:"sync_id"`
	Status string `json:"status"`
}

// SyncStatusResponse 同步状态查询结果
type SyncStatusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AlertsResponse 某学期范围内的更新记录
type AlertsResponse struct {
	Term        string              `json:"term"`
	Semester    string              `json:"semester"`
	LastUpdated []model.UpdateEntry `json:"lastUpdated"`
}
