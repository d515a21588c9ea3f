package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/config"
	"github.com/graderoom/graderoom/internal/api/handler"
	"github.com/graderoom/graderoom/internal/api/middleware"
	"github.com/graderoom/graderoom/pkg/jwt"
)

const (
	defaultBodyLimit = 1 << 20
	importBodyLimit  = 10 << 20

	// 每用户每分钟最多发起的同步次数
	syncRateLimit  = 6
	syncRateWindow = time.Minute
)

// Setup 初始化并返回 Gin 路由引擎；limiter 为 nil 时不限流
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, limiter middleware.RateCounter, logger *zap.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	{
		// 通知（长连接，不限制请求体）
		v1.GET("/ws", h.Notify.Connect)

		api := v1.Group("")
		api.Use(middleware.BodyLimit(defaultBodyLimit))

		// 同步模块
		api.POST("/sync", middleware.RateLimit(limiter, syncRateLimit, syncRateWindow), h.Sync.Start)
		api.GET("/sync/status", h.Sync.Status)

		// 成绩与偏好
		api.GET("/users/me", h.Grades.Me)
		api.GET("/grades", h.Grades.Grades)
		api.GET("/alerts", h.Grades.Alerts)
		api.GET("/semesters/has", h.Grades.HasSemester)
		api.PUT("/sorting", h.Grades.UpdateSorting)
		api.DELETE("/sorting", h.Grades.ResetSorting)

		// 权重模块
		api.PUT("/weights", h.Weight.SetWeights)
		api.GET("/classes/relevant", h.Weight.RelevantClasses)

		// 手动作业 / 作业编辑
		api.PUT("/assignments/added", h.Assignment.UpdateAdded)
		api.PUT("/assignments/edited", h.Assignment.UpdateEdited)

		// 导出模块
		api.GET("/export/grades", h.Export.ExportGrades)

		// 管理员
		admin := v1.Group("/admin")
		admin.Use(middleware.RoleAuth(jwt.RoleAdmin))
		{
			admin.POST("/catalog/import", middleware.BodyLimit(importBodyLimit), h.Admin.ImportCatalog)

			limited := admin.Group("")
			limited.Use(middleware.BodyLimit(defaultBodyLimit))
			limited.POST("/users", h.Admin.CreateUser)
			limited.GET("/users", h.Admin.ListUsers)
			limited.PUT("/classes/weights", h.Admin.SetCanonical)
			limited.GET("/errors/:code", h.Admin.LookupError)
			limited.POST("/migrations/sweep", h.Admin.Sweep)
			limited.GET("/catalog", h.Admin.ListCatalog)
		}
	}

	return r, nil
}
