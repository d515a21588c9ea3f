package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/service"
	"github.com/graderoom/graderoom/pkg/response"
)

// AssignmentHandler 手动作业与作业编辑
type AssignmentHandler struct {
	svc    service.OverrideService
	logger *zap.Logger
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(svc service.OverrideService, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{svc: svc, logger: logger}
}

// UpdateAdded 替换某学期的手动作业
// PUT /api/v1/assignments/added
func (h *AssignmentHandler) UpdateAdded(c *gin.Context) {
	h.update(c, h.svc.UpdateAdded, "手动作业已保存")
}

// UpdateEdited 替换某学期的作业编辑
// PUT /api/v1/assignments/edited
func (h *AssignmentHandler) UpdateEdited(c *gin.Context) {
	h.update(c, h.svc.UpdateEdited, "作业编辑已保存")
}

type overrideFunc func(ctx context.Context, username string, req *dto.UpdateOverridesRequest) error

func (h *AssignmentHandler) update(c *gin.Context, apply overrideFunc, message string) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	var req dto.UpdateOverridesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	if err := apply(c.Request.Context(), username, &req); err != nil {
		handleError(c, h.logger, err)
		return
	}

	response.OKMessage(c, message, nil)
}
