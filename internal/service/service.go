package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/config"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/notify"
	"github.com/graderoom/graderoom/internal/repository"
	"github.com/graderoom/graderoom/internal/scraper"
	"github.com/graderoom/graderoom/internal/worker"
)

// Service 所有 Service 的聚合入口
type Service struct {
	User     UserService
	Sync     SyncService
	Weight   WeightService
	Override OverrideService
	Error    ErrorService
	Export   ExportService
	Catalog  CatalogService
}

// ErrDocumentMigration 文档无法升级到当前结构
var ErrDocumentMigration = errors.New("文档迁移失败")

// DocumentMigrator 读取用户与课程文档前的惰性迁移，由 migration.Migrator 实现
type DocumentMigrator interface {
	EnsureUser(ctx context.Context, username string) (int, error)
	EnsureClass(ctx context.Context, classID string) (int, error)
}

// JobSubmitter 后台任务提交，由 worker.Pool 实现
type JobSubmitter interface {
	Submit(job worker.Job) error
}

// Dependencies 服务层的外部依赖
type Dependencies struct {
	Migrator DocumentMigrator
	Scraper  scraper.Scraper
	Emitter  notify.Emitter
	Locker   Locker
	Jobs     JobSubmitter
	// Now 为 nil 时使用 time.Now
	Now func() time.Time
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	deps Dependencies,
	logger *zap.Logger,
) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	errs := NewErrorService(repo, logger)
	weights := NewWeightService(repo, deps.Migrator, logger)
	return &Service{
		User:     NewUserService(repo, deps.Migrator, logger),
		Sync:     NewSyncService(cfg, repo, weights, errs, deps, logger),
		Weight:   weights,
		Override: NewOverrideService(repo, deps.Migrator, logger),
		Error:    errs,
		Export:   NewExportService(repo, deps.Migrator, logger),
		Catalog:  NewCatalogService(repo, logger),
	}
}

// loadUser 惰性迁移后读取用户及其类型化文档；
// 迁移失败时返回错误，旧结构的文档不交给调用方读写
func loadUser(ctx context.Context, repo *repository.Repository, migrator DocumentMigrator, logger *zap.Logger, username string) (*model.User, *model.UserData, error) {
	username = repository.NormalizeUsername(username)
	if migrator != nil {
		if _, err := migrator.EnsureUser(ctx, username); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("用户文档迁移失败", zap.String("username", username), zap.Error(err))
			return nil, nil, fmt.Errorf("%w: %v", ErrDocumentMigration, err)
		}
	}
	user, err := repo.User.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		logger.Error("查询用户失败", zap.String("username", username), zap.Error(err))
		return nil, nil, err
	}
	data, err := user.Data()
	if err != nil {
		logger.Error("解析用户文档失败", zap.String("username", username), zap.Error(err))
		return nil, nil, err
	}
	return user, data, nil
}
