package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ── 权重模块业务错误 ──

var (
	ErrUserNotFound     = fmt.Errorf("%w: 用户不存在", pkgerrors.ErrNotFound)
	ErrClassNotInGrades = fmt.Errorf("%w: 该学期成绩中不存在此课程", pkgerrors.ErrValidation)
	ErrClassNotFound    = fmt.Errorf("%w: 课程或教师不存在", pkgerrors.ErrNotFound)
)

// 教师行乐观锁重试次数
const teacherUpdateAttempts = 5

// Scope 对齐范围；Term 为空表示全部学期
type Scope struct {
	Term     string
	Semester string
}

func (s Scope) includes(term, semester string) bool {
	return s.Term == "" || (s.Term == term && s.Semester == semester)
}

// WeightService 用户权重、教师标准权重与建议
type WeightService interface {
	// ReconcileBook 按教师标准权重与建议更新 book.Weights（不落库）
	ReconcileBook(ctx context.Context, school, username string, book *model.GradeBook, scope Scope)
	// ReconcileClasses 读取用户文档，对齐后写回 weights
	ReconcileClasses(ctx context.Context, username string, scope Scope) error
	SetUserWeights(ctx context.Context, username string, req *dto.SetWeightsRequest) (*dto.SetWeightsResponse, error)
	AddSuggestion(ctx context.Context, username string, key model.ClassKey, teacherName string, scheme model.WeightScheme) error
	SetCanonical(ctx context.Context, req *dto.SetCanonicalRequest) (*dto.SetCanonicalResponse, error)
	RelevantClassData(ctx context.Context, username, term, semester string) (map[string]dto.RelevantClass, error)
}

type weightService struct {
	repo     *repository.Repository
	migrator DocumentMigrator
	logger   *zap.Logger
}

// NewWeightService 创建 WeightService 实例
func NewWeightService(repo *repository.Repository, migrator DocumentMigrator, logger *zap.Logger) WeightService {
	return &weightService{repo: repo, migrator: migrator, logger: logger}
}

// ────────────────────── ReconcileBook ──────────────────────

func (s *weightService) ReconcileBook(ctx context.Context, school, username string, book *model.GradeBook, scope Scope) {
	book.AlignWeights()
	for _, term := range book.Grades.Terms() {
		for _, sem := range book.Grades.Semesters(term) {
			if !scope.includes(term, sem) {
				continue
			}
			classes, _ := book.Grades.Get(term, sem)
			weights, _ := book.Weights.Get(term, sem)
			for i := range classes {
				if i >= len(weights) || classes[i].TeacherName == "" {
					continue
				}
				key := model.ClassKey{School: school, Term: term, Semester: sem, ClassName: classes[i].ClassName}
				next, err := s.reconcileClass(ctx, username, key, &classes[i], weights[i])
				if err != nil {
					s.logger.Warn("对齐课程权重失败",
						zap.String("username", username),
						zap.String("class", key.ClassName),
						zap.Error(err),
					)
					continue
				}
				weights[i] = next
			}
		}
	}
}

func (s *weightService) reconcileClass(ctx context.Context, username string, key model.ClassKey, class *model.ClassGrade, cur model.ClassWeight) (model.ClassWeight, error) {
	teacher, err := s.classTeacher(ctx, key, class.TeacherName)
	if err != nil {
		return cur, err
	}
	canonical := teacher.Canonical()

	needed := class.Categories()
	hasWeights := cur.HasWeights
	if len(needed) == 1 {
		hasWeights = false
	}
	custom := cur.Custom

	var weights model.Weights
	if !custom && teacher.CanonicalUsable() {
		weights = canonical.Weights.Clone()
		hasWeights = canonical.HasWeights
	} else {
		weights = make(model.Weights, len(needed))
		for _, c := range needed {
			weights[c] = cur.Weights[c]
		}
		if len(weights) == 1 && weights.AllNull() {
			hasWeights = false
		}
		scheme := model.WeightScheme{Weights: weights, HasWeights: hasWeights}
		// 尚未填写任何权重时不记建议
		if !(hasWeights && weights.AllNull()) {
			if err := s.AddSuggestion(ctx, username, key, class.TeacherName, scheme); err != nil {
				s.logger.Warn("记录权重建议失败", zap.String("username", username), zap.String("class", key.ClassName), zap.Error(err))
			}
		}
		if custom {
			custom = model.IsCustom(scheme, canonical)
		}
	}

	merged := cur.Weights.Clone()
	for k, v := range weights {
		merged[k] = v
	}
	normalized, out, err := model.NormalizeWeights(hasWeights, merged, nil)
	switch {
	case errors.Is(err, model.ErrWeightsRequired):
		return model.ClassWeight{ClassName: cur.ClassName, Weights: merged, HasWeights: hasWeights, Custom: custom}, nil
	case err != nil:
		return cur, err
	}
	return model.ClassWeight{ClassName: cur.ClassName, Weights: out, HasWeights: normalized, Custom: custom}, nil
}

// ────────────────────── ReconcileClasses ──────────────────────

func (s *weightService) ReconcileClasses(ctx context.Context, username string, scope Scope) error {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	s.ReconcileBook(ctx, user.School, user.Username, &data.GradeBook, scope)
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{"weights": data.Weights}); err != nil {
		s.logger.Error("写入权重失败", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// ────────────────────── SetUserWeights ──────────────────────

func (s *weightService) SetUserWeights(ctx context.Context, username string, req *dto.SetWeightsRequest) (*dto.SetWeightsResponse, error) {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, err
	}
	classes, ok := data.Grades.Get(req.Term, req.Semester)
	if !ok {
		return nil, ErrClassNotInGrades
	}
	idx := model.IndexOfClass(classes, req.ClassName)
	if idx == -1 {
		return nil, ErrClassNotInGrades
	}
	data.AlignWeights()
	weights, _ := data.Weights.Get(req.Term, req.Semester)
	cur := weights[idx]

	merged := cur.Weights.Clone()
	for k, v := range req.Weights {
		merged[k] = v
	}
	hasWeights, merged, err := model.NormalizeWeights(*req.HasWeights, merged, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrValidation, err)
	}
	next := model.WeightScheme{Weights: merged, HasWeights: hasWeights}

	canonical := model.WeightScheme{Weights: model.Weights{}, HasWeights: true}
	teacherName := classes[idx].TeacherName
	if teacherName != "" {
		key := model.ClassKey{School: user.School, Term: req.Term, Semester: req.Semester, ClassName: req.ClassName}
		teacher, err := s.classTeacher(ctx, key, teacherName)
		if err != nil {
			s.logger.Warn("读取教师权重失败", zap.String("username", user.Username), zap.String("class", req.ClassName), zap.Error(err))
		} else {
			canonical = teacher.Canonical()
			suggestion := model.WeightScheme{Weights: req.Weights.Clone(), HasWeights: *req.HasWeights}
			if err := s.AddSuggestion(ctx, user.Username, key, teacherName, suggestion); err != nil {
				s.logger.Warn("记录权重建议失败", zap.String("username", user.Username), zap.String("class", req.ClassName), zap.Error(err))
			}
		}
	}

	custom := model.IsCustom(next, canonical)
	weights[idx] = model.ClassWeight{ClassName: req.ClassName, Weights: merged, HasWeights: hasWeights, Custom: custom}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{"weights": data.Weights}); err != nil {
		s.logger.Error("写入用户权重失败", zap.String("username", user.Username), zap.Error(err))
		return nil, err
	}

	message := "Reset weight for " + req.ClassName + "."
	if custom {
		message = "Custom weight set for " + req.ClassName + "."
	}
	return &dto.SetWeightsResponse{Message: message, Weight: weights[idx]}, nil
}

// ────────────────────── AddSuggestion ──────────────────────

func (s *weightService) AddSuggestion(ctx context.Context, username string, key model.ClassKey, teacherName string, scheme model.WeightScheme) error {
	hasWeights, weights, err := model.NormalizeWeights(scheme.HasWeights, scheme.Weights, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrValidation, err)
	}
	scheme = model.WeightScheme{Weights: weights, HasWeights: hasWeights}
	username = repository.NormalizeUsername(username)

	return s.updateTeacher(ctx, key, teacherName, func(t *model.ClassTeacher) {
		list := model.AddSuggestion(t.Suggestions.Data(), username, scheme, t.Canonical())
		t.Suggestions = datatypes.NewJSONType(list)
	})
}

// updateTeacher 读取-修改-按版本写回，冲突时重试
func (s *weightService) updateTeacher(ctx context.Context, key model.ClassKey, teacherName string, mutate func(*model.ClassTeacher)) error {
	if err := s.ensureClass(ctx, key); err != nil {
		return err
	}
	for attempt := 0; attempt < teacherUpdateAttempts; attempt++ {
		teacher, err := s.repo.Class.GetTeacher(ctx, key, teacherName)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassNotFound
			}
			return err
		}
		mutate(teacher)
		err = s.repo.Class.UpdateTeacher(ctx, teacher)
		if errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Debug("教师权重版本冲突，重试",
				zap.String("class", key.ClassName),
				zap.String("teacher", teacherName),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return err
	}
	return pkgerrors.ErrOptimisticLock
}

func (s *weightService) classTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error) {
	if err := s.ensureClass(ctx, key); err != nil {
		return nil, err
	}
	return s.repo.Class.EnsureTeacher(ctx, key, teacherName)
}

// ensureClass 首次读写旧版本课程文档前先升级到当前版本；课程不存在时无需迁移
func (s *weightService) ensureClass(ctx context.Context, key model.ClassKey) error {
	if s.migrator == nil {
		return nil
	}
	class, err := s.repo.Class.Get(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if class.Version >= model.CurrentClassVersion {
		return nil
	}
	if _, err := s.migrator.EnsureClass(ctx, class.ClassID); err != nil {
		s.logger.Error("课程文档迁移失败", zap.String("class_id", class.ClassID), zap.String("class", key.ClassName), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDocumentMigration, err)
	}
	return nil
}

// ────────────────────── SetCanonical ──────────────────────

func (s *weightService) SetCanonical(ctx context.Context, req *dto.SetCanonicalRequest) (*dto.SetCanonicalResponse, error) {
	hasWeights, weights, err := model.NormalizeWeights(*req.HasWeights, req.Weights, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrValidation, err)
	}
	scheme := model.WeightScheme{Weights: weights, HasWeights: hasWeights}
	key := model.ClassKey{School: req.School, Term: req.Term, Semester: req.Semester, ClassName: req.ClassName}

	removed := 0
	err = s.updateTeacher(ctx, key, req.TeacherName, func(t *model.ClassTeacher) {
		t.Weights = datatypes.NewJSONType(scheme.Weights)
		t.HasWeights = scheme.HasWeights
		var list []model.Suggestion
		list, removed = model.DropSuggestionsEqual(t.Suggestions.Data(), scheme)
		t.Suggestions = datatypes.NewJSONType(list)
	})
	if err != nil {
		s.logger.Error("设置标准权重失败",
			zap.String("class", req.ClassName),
			zap.String("teacher", req.TeacherName),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("设置标准权重",
		zap.String("school", req.School),
		zap.String("class", req.ClassName),
		zap.String("teacher", req.TeacherName),
		zap.Int("suggestions_removed", removed),
	)
	return &dto.SetCanonicalResponse{
		Message:            fmt.Sprintf("Updated weights for %s | %s", req.ClassName, req.TeacherName),
		SuggestionsRemoved: removed,
	}, nil
}

// ────────────────────── RelevantClassData ──────────────────────

func (s *weightService) RelevantClassData(ctx context.Context, username, term, semester string) (map[string]dto.RelevantClass, error) {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, err
	}

	out := make(map[string]dto.RelevantClass)
	for _, t := range data.Grades.Terms() {
		for _, sem := range data.Grades.Semesters(t) {
			classes, _ := data.Grades.Get(t, sem)
			preferred := t == term && sem == semester
			for i := range classes {
				name := classes[i].ClassName
				if _, seen := out[name]; seen && !preferred {
					continue
				}
				key := model.ClassKey{School: user.School, Term: t, Semester: sem, ClassName: name}
				rel, err := s.relevantClass(ctx, key, classes[i].TeacherName)
				if err != nil {
					return nil, err
				}
				out[name] = rel
			}
		}
	}
	return out, nil
}

func (s *weightService) relevantClass(ctx context.Context, key model.ClassKey, teacherName string) (dto.RelevantClass, error) {
	if err := s.ensureClass(ctx, key); err != nil {
		return dto.RelevantClass{}, err
	}
	class, err := s.repo.Class.Get(ctx, key)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.RelevantClass{}, err
	}
	entry, err := s.repo.Catalog.Get(ctx, key.School, key.ClassName)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.RelevantClass{}, err
	}
	if entry == nil {
		entry = &model.CatalogEntry{}
	}

	rel := dto.RelevantClass{
		Department:     entry.Department,
		ClassType:      entry.ClassType,
		UCCSUClassType: entry.UCCSUClassType,
		Credits:        entry.Credits,
		Terms:          entry.Terms,
		Description:    entry.Description,
		Prereq:         entry.Prereq,
		GradeLevels:    []byte(entry.GradeLevels),
	}
	if len(rel.GradeLevels) == 0 {
		rel.GradeLevels = nil
	}

	hasWeights := false
	rel.HasWeights = &hasWeights
	if class != nil {
		if class.Department != nil {
			rel.Department = *class.Department
		}
		if class.ClassType != nil {
			rel.ClassType = *class.ClassType
		}
		if class.UCCSUClassType != nil {
			rel.UCCSUClassType = *class.UCCSUClassType
		}
		if class.Credits != nil {
			rel.Credits = class.Credits
		}
		if class.Terms != nil {
			rel.Terms = class.Terms
		}
		if teacherName != "" {
			rel.HasWeights = nil
			if t := class.Teacher(teacherName); t != nil {
				canonical := t.Canonical()
				rel.Weights = canonical.Weights
				rel.HasWeights = &canonical.HasWeights
			}
		}
	}
	if nonAcademic(key.ClassName) {
		rel.ClassType = "non-academic"
	}
	return rel, nil
}

// nonAcademic 门户中归为学术课但不计入 GPA 的课程
func nonAcademic(name string) bool {
	switch {
	case strings.HasPrefix(name, "Cura"), strings.HasPrefix(name, "Study Center"):
		return true
	case strings.HasSuffix(name, "Cross Country"), strings.HasSuffix(name, "Water Polo"), strings.HasSuffix(name, "Football"):
		return true
	case name == "Study Hall", name == "Free Period":
		return true
	}
	return false
}
