package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/graderoom/graderoom/internal/api/middleware"
	"github.com/graderoom/graderoom/pkg/response"
)

// MustGetUsername 从 Gin 上下文中提取调用方用户名。
// JWT 中间件未注入时写入 401 响应并返回 false，调用方应直接 return。
func MustGetUsername(c *gin.Context) (string, bool) {
	username := c.GetString(middleware.ContextUsername)
	if username == "" {
		response.Unauthorized(c, response.CodeUnauthorized, "未认证")
		return "", false
	}
	return username, true
}

// MustGetRole 从 Gin 上下文中提取调用方角色。
func MustGetRole(c *gin.Context) (string, bool) {
	role := c.GetString(middleware.ContextRole)
	if role == "" {
		response.Unauthorized(c, response.CodeUnauthorized, "未认证")
		return "", false
	}
	return role, true
}
