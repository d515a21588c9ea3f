package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/service"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
	"github.com/graderoom/graderoom/pkg/response"
)

// handleError 按错误类别映射 HTTP 状态码
// 未归类错误只返回通用信息，原始错误写入 gin 上下文由请求日志记录
func handleError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		response.Conflict(c, response.CodeSyncBusy, "同步正在进行，请稍后再试")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, response.CodeConflict, pkgerrors.ErrOptimisticLock.Error())
	case errors.Is(err, pkgerrors.ErrValidation):
		response.BadRequest(c, response.CodeValidation, detail(err))
	case errors.Is(err, pkgerrors.ErrNotFound):
		response.NotFound(c, response.CodeNotFound, detail(err))
	case errors.Is(err, pkgerrors.ErrConflict):
		response.Conflict(c, response.CodeConflict, detail(err))
	case errors.Is(err, service.ErrScrapeUnavailable):
		// 最后一段只含错误码，可直接展示给用户
		msg := err.Error()
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternal, msg[strings.LastIndex(msg, ": ")+2:])
	default:
		_ = c.Error(err)
		logger.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalError(c)
	}
}

// detail 去掉类别前缀，只保留最内层的业务描述
func detail(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// bindFailed 参数绑定失败统一响应
func bindFailed(c *gin.Context, err error) {
	response.ErrorWithDetails(c, http.StatusBadRequest, response.CodeValidation, "参数校验失败", err.Error())
}
