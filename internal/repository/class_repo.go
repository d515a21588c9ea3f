package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/graderoom/graderoom/internal/model"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ClassRepository 学期课程与教师权重数据访问接口
type ClassRepository interface {
	Get(ctx context.Context, key model.ClassKey) (*model.Class, error)
	GetByID(ctx context.Context, classID string) (*model.Class, error)
	ListBySemester(ctx context.Context, school, term, semester string) ([]model.Class, error)
	// EnsureTeacher 课程与教师不存在时创建，返回该教师行
	EnsureTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error)
	GetTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error)
	// UpdateTeacher 按 version 乐观锁写入权重与建议
	UpdateTeacher(ctx context.Context, teacher *model.ClassTeacher) error
	// ListBehind 返回 version 小于 target 的课程 ID（迁移扫描）
	ListBehind(ctx context.Context, target int) ([]string, error)
	// CompareAndSwap 仅当 version = from 时写入课程元数据与教师建议并置 version = to；
	// 课程版本不符返回 false，教师行版本不符返回 ErrOptimisticLock
	CompareAndSwap(ctx context.Context, class *model.Class, from, to int) (bool, error)
}

// classRepo ClassRepository 的 GORM 实现
type classRepo struct {
	db *gorm.DB
}

// NewClassRepo 创建 ClassRepository 实例
func NewClassRepo(db *gorm.DB) ClassRepository {
	return &classRepo{db: db}
}

func (r *classRepo) Get(ctx context.Context, key model.ClassKey) (*model.Class, error) {
	var class model.Class
	err := r.db.WithContext(ctx).
		Preload("Teachers").
		Where("school = ? AND term = ? AND semester = ? AND class_name = ?",
			key.School, key.Term, key.Semester, key.ClassName).
		First(&class).Error
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *classRepo) GetByID(ctx context.Context, classID string) (*model.Class, error) {
	var class model.Class
	err := r.db.WithContext(ctx).
		Preload("Teachers").
		Where("class_id = ?", classID).
		First(&class).Error
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *classRepo) ListBySemester(ctx context.Context, school, term, semester string) ([]model.Class, error) {
	var classes []model.Class
	err := r.db.WithContext(ctx).
		Preload("Teachers").
		Where("school = ? AND term = ? AND semester = ?", school, term, semester).
		Order("class_name").
		Find(&classes).Error
	return classes, err
}

func (r *classRepo) EnsureTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		class := model.Class{
			School:    key.School,
			Term:      key.Term,
			Semester:  key.Semester,
			ClassName: key.ClassName,
			Version:   model.CurrentClassVersion,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&class).Error; err != nil {
			return err
		}
		if class.ClassID == "" {
			if err := tx.Select("class_id").
				Where("school = ? AND term = ? AND semester = ? AND class_name = ?",
					key.School, key.Term, key.Semester, key.ClassName).
				First(&class).Error; err != nil {
				return err
			}
		}

		teacher := model.NewClassTeacher(class.ClassID, teacherName)
		teacher.Version = 1
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&teacher).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetTeacher(ctx, key, teacherName)
}

func (r *classRepo) GetTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error) {
	var teacher model.ClassTeacher
	err := r.db.WithContext(ctx).
		Joins("JOIN classes ON classes.class_id = class_teachers.class_id").
		Where("classes.school = ? AND classes.term = ? AND classes.semester = ? AND classes.class_name = ?",
			key.School, key.Term, key.Semester, key.ClassName).
		Where("class_teachers.teacher_name = ?", teacherName).
		First(&teacher).Error
	if err != nil {
		return nil, err
	}
	return &teacher, nil
}

func (r *classRepo) UpdateTeacher(ctx context.Context, teacher *model.ClassTeacher) error {
	oldVersion := teacher.Version
	result := r.db.WithContext(ctx).
		Model(&model.ClassTeacher{}).
		Where("teacher_id = ? AND version = ?", teacher.TeacherID, oldVersion).
		Updates(map[string]interface{}{
			"weights":     teacher.Weights,
			"has_weights": teacher.HasWeights,
			"suggestions": teacher.Suggestions,
			"version":     oldVersion + 1,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	teacher.Version = oldVersion + 1
	return nil
}

func (r *classRepo) ListBehind(ctx context.Context, target int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Class{}).
		Where("version < ?", target).
		Order("class_id").
		Pluck("class_id", &ids).Error
	return ids, err
}

var errVersionMoved = errors.New("class version moved")

func (r *classRepo) CompareAndSwap(ctx context.Context, class *model.Class, from, to int) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Class{}).
			Where("class_id = ? AND version = ?", class.ClassID, from).
			Updates(map[string]interface{}{
				"department":        class.Department,
				"class_type":        class.ClassType,
				"uc_csu_class_type": class.UCCSUClassType,
				"credits":           class.Credits,
				"terms":             class.Terms,
				"grade_levels":      class.GradeLevels,
				"description":       class.Description,
				"version":           to,
				"updated_at":        time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errVersionMoved
		}
		// 教师行同样按版本写回，读取后被 UpdateTeacher 改过则整体回滚
		for i := range class.Teachers {
			t := &class.Teachers[i]
			result := tx.Model(&model.ClassTeacher{}).
				Where("teacher_id = ? AND version = ?", t.TeacherID, t.Version).
				Updates(map[string]interface{}{
					"suggestions": t.Suggestions,
					"version":     t.Version + 1,
					"updated_at":  time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return pkgerrors.ErrOptimisticLock
			}
		}
		return nil
	})
	if errors.Is(err, errVersionMoved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	class.Version = to
	for i := range class.Teachers {
		class.Teachers[i].Version++
	}
	return true, nil
}
