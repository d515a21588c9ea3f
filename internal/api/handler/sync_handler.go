package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/pkg/response"
)

// SyncHandler 成绩同步 HTTP 处理器
type SyncHandler struct {
	svc    service.SyncService
	logger *zap.Logger
}

// NewSyncHandler 创建 SyncHandler
func NewSyncHandler(svc service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, logger: logger}
}

// Start 发起同步；进度与结果通过 WebSocket 推送
// POST /api/v1/sync
func (h *SyncHandler) Start(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}

	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	ticket, err := h.svc.Start(c.Request.Context(), username, &req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.Accepted(c, ticket)
}

// Status 查询最近一次同步的状态
// GET /api/v1/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}

	status, err := h.svc.Status(c.Request.Context(), username)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OK(c, status)
}
