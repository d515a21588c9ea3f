package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/model"
)

// ErrorRepository 同步错误与系统错误数据访问接口
type ErrorRepository interface {
	FindSyncError(ctx context.Context, username, message string) (*model.SyncError, error)
	SyncCodeExists(ctx context.Context, username string, code int) (bool, error)
	CreateSyncError(ctx context.Context, e *model.SyncError) error
	ListSyncErrorsByCode(ctx context.Context, code int) ([]model.SyncError, error)

	FindGeneralError(ctx context.Context, message string) (*model.GeneralError, error)
	GeneralCodeExists(ctx context.Context, code int) (bool, error)
	CreateGeneralError(ctx context.Context, e *model.GeneralError) error
	GetGeneralError(ctx context.Context, code int) (*model.GeneralError, error)
}

// errorRepo ErrorRepository 的 GORM 实现
type errorRepo struct {
	db *gorm.DB
}

// NewErrorRepo 创建 ErrorRepository 实例
func NewErrorRepo(db *gorm.DB) ErrorRepository {
	return &errorRepo{db: db}
}

// ────────────────────── 同步错误 ──────────────────────

func (r *errorRepo) FindSyncError(ctx context.Context, username, message string) (*model.SyncError, error) {
	var e model.SyncError
	err := r.db.WithContext(ctx).
		Where("username = ? AND error = ?", NormalizeUsername(username), message).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *errorRepo) SyncCodeExists(ctx context.Context, username string, code int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SyncError{}).
		Where("username = ? AND error_code = ?", NormalizeUsername(username), code).
		Count(&count).Error
	return count > 0, err
}

func (r *errorRepo) CreateSyncError(ctx context.Context, e *model.SyncError) error {
	e.Username = NormalizeUsername(e.Username)
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *errorRepo) ListSyncErrorsByCode(ctx context.Context, code int) ([]model.SyncError, error) {
	var list []model.SyncError
	err := r.db.WithContext(ctx).
		Where("error_code = ?", code).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// ────────────────────── 系统错误 ──────────────────────

func (r *errorRepo) FindGeneralError(ctx context.Context, message string) (*model.GeneralError, error) {
	var e model.GeneralError
	err := r.db.WithContext(ctx).
		Where("error = ?", message).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *errorRepo) GeneralCodeExists(ctx context.Context, code int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.GeneralError{}).
		Where("error_code = ?", code).
		Count(&count).Error
	return count > 0, err
}

func (r *errorRepo) CreateGeneralError(ctx context.Context, e *model.GeneralError) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *errorRepo) GetGeneralError(ctx context.Context, code int) (*model.GeneralError, error) {
	var e model.GeneralError
	err := r.db.WithContext(ctx).
		Where("error_code = ?", code).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}
