package migration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
)

// Migrator 用户与课程两条迁移阶梯的入口
type Migrator struct {
	Users   *Runner[*UserDocument]
	Classes *Runner[*ClassDocument]
	logger  *zap.Logger
}

// NewMigrator 创建 Migrator；now 为 nil 时使用 time.Now
func NewMigrator(repo *repository.Repository, now func() time.Time, logger *zap.Logger) *Migrator {
	users := UserLadder(now)
	classes := ClassLadder()
	if users.Target() != model.CurrentUserVersion || classes.Target() != model.CurrentClassVersion {
		panic("migration: 阶梯目标版本与模型版本不一致")
	}
	return &Migrator{
		Users:   NewRunner("user", users, NewUserStore(repo.User), logger),
		Classes: NewRunner("class", classes, NewClassStore(repo.Class, repo.Catalog), logger),
		logger:  logger,
	}
}

// EnsureUser 读取前的惰性迁移；返回最终版本
func (m *Migrator) EnsureUser(ctx context.Context, username string) (int, error) {
	return m.Users.Upgrade(ctx, repository.NormalizeUsername(username))
}

// EnsureClass 按课程 ID 惰性迁移
func (m *Migrator) EnsureClass(ctx context.Context, classID string) (int, error) {
	return m.Classes.Upgrade(ctx, classID)
}

// Sweep 启动时的全量迁移：先课程后用户
func (m *Migrator) Sweep(ctx context.Context) (classes, users SweepReport, err error) {
	start := time.Now()
	classes, err = m.Classes.Sweep(ctx)
	if err != nil {
		return classes, users, err
	}
	users, err = m.Users.Sweep(ctx)
	if err != nil {
		return classes, users, err
	}
	m.logger.Info("启动迁移完成",
		zap.Int("classes_failed", classes.Failed),
		zap.Int("users_failed", users.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return classes, users, nil
}
