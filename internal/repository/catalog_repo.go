package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/graderoom/graderoom/internal/model"
)

// CatalogRepository 学校课程目录数据访问接口
type CatalogRepository interface {
	Get(ctx context.Context, school, className string) (*model.CatalogEntry, error)
	ListBySchool(ctx context.Context, school string) ([]model.CatalogEntry, error)
	// Upsert 按 (school, class_name) 插入或覆盖
	Upsert(ctx context.Context, entry *model.CatalogEntry) error
}

// catalogRepo CatalogRepository 的 GORM 实现
type catalogRepo struct {
	db *gorm.DB
}

// NewCatalogRepo 创建 CatalogRepository 实例
func NewCatalogRepo(db *gorm.DB) CatalogRepository {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) Get(ctx context.Context, school, className string) (*model.CatalogEntry, error) {
	var entry model.CatalogEntry
	err := r.db.WithContext(ctx).
		Where("school = ? AND class_name = ?", school, className).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *catalogRepo) ListBySchool(ctx context.Context, school string) ([]model.CatalogEntry, error) {
	var entries []model.CatalogEntry
	err := r.db.WithContext(ctx).
		Where("school = ?", school).
		Order("class_name").
		Find(&entries).Error
	return entries, err
}

func (r *catalogRepo) Upsert(ctx context.Context, entry *model.CatalogEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "school"}, {Name: "class_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"department", "class_type", "uc_csu_class_type", "credits",
				"terms", "grade_levels", "description", "prereq",
			}),
		}).
		Create(entry).Error
}
