package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/model"
)

// UserRepository 用户文档数据访问接口
// 所有写操作都是针对单行的定点更新，不做整文档读改写
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context, offset, limit int) ([]model.User, int64, error)
	// ListBehind 返回 version 小于 target 的用户名（迁移扫描）
	ListBehind(ctx context.Context, target int) ([]string, error)
	// CompareAndSwapDocument 仅当 version = from 时写入整份文档并置 version = to
	CompareAndSwapDocument(ctx context.Context, username string, doc datatypes.JSONMap, from, to int) (bool, error)
	// SetDocumentKeys 覆盖文档中的若干顶层键
	SetDocumentKeys(ctx context.Context, username string, keys map[string]any) error
	AppendAlert(ctx context.Context, username string, entry model.UpdateEntry) error
	AppendGradeHistory(ctx context.Context, username string, ts int64) error
	PushErrorCode(ctx context.Context, username string, code int) error
	SetSyncStatus(ctx context.Context, username string, status model.SyncStatus) error
	// ConsumeCompleted 原子地将 COMPLETE 置为 ALREADY_DONE，返回是否发生了变更
	ConsumeCompleted(ctx context.Context, username string) (bool, error)
}

// userRepo UserRepository 的 GORM 实现
type userRepo struct {
	db *gorm.DB
}

// NewUserRepo 创建 UserRepository 实例
func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

// NormalizeUsername 用户名统一小写存储与查询
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	user.Username = NormalizeUsername(user.Username)
	if user.Document == nil {
		user.Document = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("username = ?", NormalizeUsername(username)).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) List(ctx context.Context, offset, limit int) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	db := r.db.WithContext(ctx).Model(&model.User{})

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Omit("document").
		Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *userRepo) ListBehind(ctx context.Context, target int) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("version < ?", target).
		Order("username").
		Pluck("username", &names).Error
	return names, err
}

func (r *userRepo) CompareAndSwapDocument(ctx context.Context, username string, doc datatypes.JSONMap, from, to int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("username = ? AND version = ?", NormalizeUsername(username), from).
		Updates(map[string]interface{}{
			"document":   doc,
			"version":    to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *userRepo) SetDocumentKeys(ctx context.Context, username string, keys map[string]any) error {
	if len(keys) == 0 {
		return nil
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("序列化文档字段失败: %w", err)
	}
	return r.updateDocument(ctx, username, gorm.Expr("document || ?::jsonb", string(raw)))
}

func (r *userRepo) AppendAlert(ctx context.Context, username string, entry model.UpdateEntry) error {
	raw, err := json.Marshal([]model.UpdateEntry{entry})
	if err != nil {
		return fmt.Errorf("序列化提醒失败: %w", err)
	}
	// alerts 不存在时先补空对象，再追加到 lastUpdated
	return r.updateDocument(ctx, username, gorm.Expr(
		`jsonb_set(
			jsonb_set(document, '{alerts}', COALESCE(document->'alerts', '{}'::jsonb)),
			'{alerts,lastUpdated}',
			COALESCE(document#>'{alerts,lastUpdated}', '[]'::jsonb) || ?::jsonb
		)`, string(raw)))
}

func (r *userRepo) AppendGradeHistory(ctx context.Context, username string, ts int64) error {
	return r.updateDocument(ctx, username, gorm.Expr(
		`jsonb_set(document, '{updatedGradeHistory}',
			COALESCE(document->'updatedGradeHistory', '[]'::jsonb) || to_jsonb(?::bigint))`, ts))
}

func (r *userRepo) PushErrorCode(ctx context.Context, username string, code int) error {
	return r.updateDocument(ctx, username, gorm.Expr(
		`jsonb_set(document, '{errors}', COALESCE(document->'errors', '[]'::jsonb) || to_jsonb(?::int))`, code))
}

func (r *userRepo) SetSyncStatus(ctx context.Context, username string, status model.SyncStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("username = ?", NormalizeUsername(username)).
		Updates(map[string]interface{}{
			"sync_status": status,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *userRepo) ConsumeCompleted(ctx context.Context, username string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("username = ? AND sync_status = ?", NormalizeUsername(username), model.SyncStatusComplete).
		Update("sync_status", model.SyncStatusAlreadyDone)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *userRepo) updateDocument(ctx context.Context, username string, expr any) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("username = ?", NormalizeUsername(username)).
		Updates(map[string]interface{}{
			"document":   expr,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
