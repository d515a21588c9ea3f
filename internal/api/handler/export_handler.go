package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/service"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	svc    service.ExportService
	logger *zap.Logger
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(svc service.ExportService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{svc: svc, logger: logger}
}

// ExportGrades 导出某学期成绩与变更历史
// GET /api/v1/export/grades?term=23-24&semester=S1
func (h *ExportHandler) ExportGrades(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	q, ok := optionalTerm(c)
	if !ok {
		return
	}

	buf, filename, err := h.svc.ExportGrades(c.Request.Context(), username, q)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
}
