package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/pkg/response"
)

// WeightHandler 课程权重 HTTP 处理器
type WeightHandler struct {
	svc    service.WeightService
	logger *zap.Logger
}

// NewWeightHandler 创建 WeightHandler
func NewWeightHandler(svc service.WeightService, logger *zap.Logger) *WeightHandler {
	return &WeightHandler{svc: svc, logger: logger}
}

// SetWeights 用户为某门课程设置权重；与标准权重不同时记为建议
// PUT /api/v1/weights
func (h *WeightHandler) SetWeights(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	var req dto.SetWeightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	resp, err := h.svc.SetUserWeights(c.Request.Context(), username, &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, resp)
}

// RelevantClasses 当前学期各课程的目录信息与标准权重
// GET /api/v1/classes/relevant?term=23-24&semester=S1
func (h *WeightHandler) RelevantClasses(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	var q dto.TermQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}

	classes, err := h.svc.RelevantClassData(c.Request.Context(), username, q.Term, q.Semester)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, classes)
}
