package dto

import "encoding/json"

// ── 手动作业 / 作业编辑 DTO ──

// UpdateOverridesRequest 更新某学期的手动作业或作业编辑。
// Classes 保持原始 JSON，由服务层做严格的键与类型校验
type UpdateOverridesRequest struct {
	Term     string          `json:"term"     binding:"required,term"`
	Semester string          `json:"semester" binding:"required,semester"`
	Classes  json.RawMessage `json:"classes"  binding:"required"`
}

// OverrideClass classes 数组的元素；Data 的结构随手动作业 / 作业编辑而不同
type OverrideClass struct {
	ClassName string          `json:"className" binding:"required"`
	Data      json.RawMessage `json:"data"      binding:"required"`
}

// ── 管理员 DTO ──

// SyncErrorResponse 用户同步错误
type SyncErrorResponse struct {
	Username  string `json:"username"`
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
	CreatedAt string `json:"created_at"`
}

// ErrorLookupResponse 错误码查询结果
type ErrorLookupResponse struct {
	Code    int                 `json:"code"`
	General *string             `json:"general,omitempty"`
	Sync    []SyncErrorResponse `json:"sync,omitempty"`
}

// SweepResponse 迁移扫描结果
type SweepResponse struct {
	Classes SweepCount `json:"classes"`
	Users   SweepCount `json:"users"`
}

// SweepCount 单个阶梯的扫描统计
type SweepCount struct {
	Total    int `json:"total"`
	Upgraded int `json:"upgraded"`
	Failed   int `json:"failed"`
}
