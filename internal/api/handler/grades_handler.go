package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/pkg/response"
)

// GradesHandler 当前用户的成绩与偏好
type GradesHandler struct {
	svc    service.UserService
	logger *zap.Logger
}

// NewGradesHandler 创建 GradesHandler
func NewGradesHandler(svc service.UserService, logger *zap.Logger) *GradesHandler {
	return &GradesHandler{svc: svc, logger: logger}
}

// optionalTerm 未提供 term 与 semester 时返回 nil（取最近学期）
func optionalTerm(c *gin.Context) (*dto.TermQuery, bool) {
	if c.Query("term") == "" && c.Query("semester") == "" {
		return nil, true
	}
	var q dto.TermQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return nil, false
	}
	return &q, true
}

// Me 当前用户信息
// GET /api/v1/users/me
func (h *GradesHandler) Me(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}

	user, err := h.svc.Get(c.Request.Context(), username)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, user)
}

// Grades 某学期成绩；不带参数时返回最近学期
// GET /api/v1/grades?term=23-24&semester=S1
func (h *GradesHandler) Grades(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	q, ok := optionalTerm(c)
	if !ok {
		return
	}

	grades, err := h.svc.Grades(c.Request.Context(), username, q)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, grades)
}

// Alerts 某学期范围内的更新记录
// GET /api/v1/alerts?term=23-24&semester=S1
func (h *GradesHandler) Alerts(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	q, ok := optionalTerm(c)
	if !ok {
		return
	}

	alerts, err := h.svc.Alerts(c.Request.Context(), username, q)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, alerts)
}

// HasSemester 学期是否有成绩
// GET /api/v1/semesters/has?term=23-24&semester=S1
func (h *GradesHandler) HasSemester(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	var q dto.TermQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}

	has, err := h.svc.HasSemester(c.Request.Context(), username, &q)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, dto.HasSemesterResponse{HasSemester: has})
}

// UpdateSorting 保存排序偏好
// PUT /api/v1/sorting
func (h *GradesHandler) UpdateSorting(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	var req dto.SortingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	if err := h.svc.UpdateSorting(c.Request.Context(), username, &req); err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OKMessage(c, "排序已保存", nil)
}

// ResetSorting 恢复默认排序
// DELETE /api/v1/sorting
func (h *GradesHandler) ResetSorting(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}

	if err := h.svc.ResetSorting(c.Request.Context(), username); err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OKMessage(c, "排序已重置", nil)
}
