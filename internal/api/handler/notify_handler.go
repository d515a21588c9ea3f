package handler

import (
	"github.com/gin-gonic/gin"
)

// NotifyHandler 同步事件推送
type NotifyHandler struct {
	ws WSServer
}

// NewNotifyHandler 创建 NotifyHandler
func NewNotifyHandler(ws WSServer) *NotifyHandler {
	return &NotifyHandler{ws: ws}
}

// Connect 升级为 WebSocket，按用户名订阅事件
// GET /api/v1/ws?token=...
func (h *NotifyHandler) Connect(c *gin.Context) {
	username, ok := MustGetUsername(c)
	if !ok {
		return
	}
	h.ws.ServeWS(c.Writer, c.Request, username)
}
