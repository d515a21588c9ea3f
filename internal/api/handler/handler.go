package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/migration"
	"github.com/graderoom/graderoom/internal/service"
)

// Sweeper 全量文档迁移，由 migration.Migrator 实现
type Sweeper interface {
	Sweep(ctx context.Context) (classes, users migration.SweepReport, err error)
}

// WSServer 通知连接，由 notify.Hub 实现
type WSServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, username string)
}

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Sync       *SyncHandler
	Grades     *GradesHandler
	Weight     *WeightHandler
	Assignment *AssignmentHandler
	Export     *ExportHandler
	Notify     *NotifyHandler
	Admin      *AdminHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, sweeper Sweeper, ws WSServer, logger *zap.Logger) *Handler {
	return &Handler{
		Sync:       NewSyncHandler(svc.Sync, logger),
		Grades:     NewGradesHandler(svc.User, logger),
		Weight:     NewWeightHandler(svc.Weight, logger),
		Assignment: NewAssignmentHandler(svc.Override, logger),
		Export:     NewExportHandler(svc.Export, logger),
		Notify:     NewNotifyHandler(ws),
		Admin:      NewAdminHandler(svc.User, svc.Weight, svc.Error, svc.Catalog, sweeper, logger),
	}
}
