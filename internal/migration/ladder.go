// Package migration 实现用户文档与课程文档的版本迁移阶梯。
//
// 每个 Step 只负责从 Version-1 升级到 Version；Runner 按顺序执行，
// 每一步的数据变更与版本号在同一次 Commit 中写入，失败时不写入任何内容，
// 文档保持原版本，下次访问时从该版本继续。
package migration

import (
	"context"
	"errors"
	"fmt"

	pkgerrs "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrVersionConflict 提交时版本已被其他进程推进
var ErrVersionConflict = errors.New("文档版本已被其他操作修改")

// maxConflictRetries 版本冲突后重新加载的最大次数
const maxConflictRetries = 3

// Step 单个迁移步骤：将文档从 Version-1 升级到 Version
type Step[D any] struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, doc D) error
}

// Ladder 按版本号连续排列的迁移步骤
type Ladder[D any] struct {
	steps []Step[D]
}

// NewLadder 注册迁移步骤；版本号必须从 1 开始连续递增，否则 panic
func NewLadder[D any](steps ...Step[D]) *Ladder[D] {
	for i, s := range steps {
		if s.Version != i+1 {
			panic(fmt.Sprintf("migration: 第 %d 个步骤版本号为 %d，期望 %d", i, s.Version, i+1))
		}
		if s.Apply == nil {
			panic(fmt.Sprintf("migration: 步骤 v%d 缺少 Apply", s.Version))
		}
	}
	return &Ladder[D]{steps: steps}
}

// Target 目标版本
func (l *Ladder[D]) Target() int { return len(l.steps) }

// Step 返回升级到 version 的步骤
func (l *Ladder[D]) Step(version int) Step[D] { return l.steps[version-1] }

// Store 迁移所需的持久化接口
type Store[D any] interface {
	// Load 读取文档及其当前版本
	Load(ctx context.Context, key string) (D, int, error)
	// Commit 仅当存储中的版本仍为 from 时写入 doc 并置为 to；否则返回 ErrVersionConflict
	Commit(ctx context.Context, key string, doc D, from, to int) error
	// Pending 返回版本落后于 target 的全部文档键
	Pending(ctx context.Context, target int) ([]string, error)
}

// Runner 通用迁移执行器
type Runner[D any] struct {
	kind   string
	ladder *Ladder[D]
	store  Store[D]
	logger *zap.Logger
}

// NewRunner 创建迁移执行器；kind 仅用于日志
func NewRunner[D any](kind string, ladder *Ladder[D], store Store[D], logger *zap.Logger) *Runner[D] {
	return &Runner[D]{kind: kind, ladder: ladder, store: store, logger: logger}
}

// Target 目标版本
func (r *Runner[D]) Target() int { return r.ladder.Target() }

// Upgrade 将 key 对应的文档升级到目标版本，返回最终版本
// 失败时返回的错误携带失败步骤的版本号与调用栈
func (r *Runner[D]) Upgrade(ctx context.Context, key string) (int, error) {
	for attempt := 0; ; attempt++ {
		doc, version, err := r.store.Load(ctx, key)
		if err != nil {
			return 0, err
		}
		version, err = r.climb(ctx, key, doc, version)
		if errors.Is(err, ErrVersionConflict) && attempt < maxConflictRetries {
			r.logger.Debug("迁移版本冲突，重新加载",
				zap.String("kind", r.kind),
				zap.String("key", key),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return version, err
	}
}

func (r *Runner[D]) climb(ctx context.Context, key string, doc D, version int) (int, error) {
	for version < r.ladder.Target() {
		if err := ctx.Err(); err != nil {
			return version, err
		}
		step := r.ladder.Step(version + 1)
		if err := step.Apply(ctx, doc); err != nil {
			return version, pkgerrs.Wrapf(err, "%s %s 升级到 v%d (%s) 失败", r.kind, key, step.Version, step.Name)
		}
		if err := r.store.Commit(ctx, key, doc, version, step.Version); err != nil {
			return version, err
		}
		version = step.Version
	}
	return version, nil
}

// SweepReport 全量迁移结果
type SweepReport struct {
	Total    int `json:"total"`
	Upgraded int `json:"upgraded"`
	Failed   int `json:"failed"`
}

// Sweep 升级所有落后的文档；单个文档失败只记录日志，不中断其余文档
func (r *Runner[D]) Sweep(ctx context.Context) (SweepReport, error) {
	keys, err := r.store.Pending(ctx, r.ladder.Target())
	if err != nil {
		return SweepReport{}, fmt.Errorf("查询待迁移%s失败: %w", r.kind, err)
	}

	report := SweepReport{Total: len(keys)}
	for i, key := range keys {
		version, err := r.Upgrade(ctx, key)
		if err != nil {
			report.Failed++
			r.logger.Error("文档迁移失败",
				zap.String("kind", r.kind),
				zap.String("key", key),
				zap.Int("version", version),
				zap.String("detail", fmt.Sprintf("%+v", err)),
			)
			continue
		}
		report.Upgraded++
		r.logger.Debug("文档迁移完成",
			zap.String("kind", r.kind),
			zap.String("key", key),
			zap.Int("progress", i+1),
			zap.Int("total", len(keys)),
		)
	}

	r.logger.Info("全量迁移结束",
		zap.String("kind", r.kind),
		zap.Int("total", report.Total),
		zap.Int("upgraded", report.Upgraded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
