package dto

import (
	"encoding/json"

	"github.com/graderoom/graderoom/internal/model"
)

// ── 权重模块 DTO ──

// SetWeightsRequest 用户为某门课程设置权重
type SetWeightsRequest struct {
	Term       string        `json:"term"       binding:"required,term"`
	Semester   string        `json:"semester"   binding:"required,semester"`
	ClassName  string        `json:"className"  binding:"required,max=255"`
	HasWeights *bool         `json:"hasWeights" binding:"required"`
	Weights    model.Weights `json:"weights"    binding:"required"`
}

// SetWeightsResponse 设置结果
type SetWeightsResponse struct {
	Message string            `json:"message"`
	Weight  model.ClassWeight `json:"weight"`
}

// SetCanonicalRequest 管理员设置教师标准权重
type SetCanonicalRequest struct {
	School      string        `json:"school"      binding:"required,oneof=bellarmine basis ndsj"`
	Term        string        `json:"term"        binding:"required,term"`
	Semester    string        `json:"semester"    binding:"required,semester"`
	ClassName   string        `json:"className"   binding:"required,max=255"`
	TeacherName string        `json:"teacherName" binding:"required,max=255"`
	HasWeights  *bool         `json:"hasWeights"  binding:"required"`
	Weights     model.Weights `json:"weights"     binding:"required"`
}

// SetCanonicalResponse 标准权重设置结果
type SetCanonicalResponse struct {
	Message            string `json:"message"`
	SuggestionsRemoved int    `json:"suggestions_removed"`
}

// RelevantClass 某门课程的目录信息与标准权重
type RelevantClass struct {
	Department     string          `json:"department"`
	ClassType      string          `json:"classType"`
	UCCSUClassType string          `json:"uc_csuClassType"`
	Weights        model.Weights   `json:"weights"`
	HasWeights     *bool           `json:"hasWeights"`
	Credits        *float64        `json:"credits"`
	Terms          *int            `json:"terms"`
	Description    string          `json:"description"`
	Prereq         string          `json:"prereq"`
	GradeLevels    json.RawMessage `json:"gradeLevels,omitempty"`
}
