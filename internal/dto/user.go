package dto

import (
	"encoding/json"

	"github.com/graderoom/graderoom/internal/model"
)

// ── 用户模块 DTO ──

// CreateUserRequest 创建用户（管理员录入，文档版本从 0 开始）
type CreateUserRequest struct {
	Username       string `json:"username"        binding:"required,min=1,max=64,alphanum"`
	School         string `json:"school"          binding:"required,oneof=bellarmine basis ndsj"`
	SchoolUsername string `json:"school_username" binding:"required,max=128"`
}

// UserResponse 用户信息
type UserResponse struct {
	Username       string `json:"username"`
	School         string `json:"school"`
	SchoolUsername string `json:"school_username"`
	Version        int    `json:"version"`
	SyncStatus     string `json:"sync_status"`
	CreatedAt      string `json:"created_at"`
}

// GradesResponse 某学期的成绩与对齐数据
type GradesResponse struct {
	Term      string              `json:"term"`
	Semester  string              `json:"semester"`
	Grades    []model.ClassGrade  `json:"grades"`
	Weights   []model.ClassWeight `json:"weights"`
	Added     []model.AddedClass  `json:"addedAssignments"`
	Edited    []model.EditedClass `json:"editedAssignments"`
	PSLocked  bool                `json:"ps_locked"`
	HasGrades bool                `json:"has_grades"`
}

// SortingRequest 排序数据
type SortingRequest struct {
	DateSort     []bool `json:"dateSort"     binding:"required"`
	CategorySort []bool `json:"categorySort" binding:"required"`
}

// SortingResponse 排序数据
type SortingResponse struct {
	DateSort     []json.RawMessage `json:"dateSort"`
	CategorySort []json.RawMessage `json:"categorySort"`
}

// HasSemesterResponse 学期是否有成绩
type HasSemesterResponse struct {
	HasSemester bool `json:"has_semester"`
}
