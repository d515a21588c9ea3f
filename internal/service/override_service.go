package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
	"github.com/graderoom/graderoom/pkg/validate"
)

// ── 手动作业模块业务错误 ──

// ErrInvalidOverride 手动作业或作业编辑格式不合法
var ErrInvalidOverride = fmt.Errorf("%w: 手动作业或作业编辑格式不合法", pkgerrors.ErrValidation)

// 手动作业必须恰好包含这些字段
var addedRules = map[string]any{
	"assignment_name": "jsonstring",
	"date":            "jsonstring",
	"category":        "jsonstring",
	"grade_percent":   "numorbool",
	"points_gotten":   "numorbool",
	"points_possible": "numorbool",
	"exclude":         "jsonbool",
}

// 作业编辑可覆盖的字段，不含 date
var editRules = map[string]any{
	"assignment_name": "jsonstring",
	"category":        "jsonstring",
	"grade_percent":   "numorbool",
	"points_gotten":   "numorbool",
	"points_possible": "numorbool",
	"exclude":         "jsonbool",
}

// OverrideService 用户手动作业与作业编辑
type OverrideService interface {
	UpdateAdded(ctx context.Context, username string, req *dto.UpdateOverridesRequest) error
	UpdateEdited(ctx context.Context, username string, req *dto.UpdateOverridesRequest) error
}

type overrideService struct {
	repo     *repository.Repository
	migrator DocumentMigrator
	validate *validator.Validate
	logger   *zap.Logger
}

// NewOverrideService 创建 OverrideService 实例
func NewOverrideService(repo *repository.Repository, migrator DocumentMigrator, logger *zap.Logger) OverrideService {
	return &overrideService{repo: repo, migrator: migrator, validate: validate.New(), logger: logger}
}

// ────────────────────── UpdateAdded ──────────────────────

func (s *overrideService) UpdateAdded(ctx context.Context, username string, req *dto.UpdateOverridesRequest) error {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	entries, err := s.decodeClasses(req.Classes)
	if err != nil {
		return err
	}
	classes, ok := data.Grades.Get(req.Term, req.Semester)
	if !ok {
		return ErrClassNotInGrades
	}
	data.AlignWeights()
	weights, _ := data.Weights.Get(req.Term, req.Semester)

	// 先整体校验，全部通过后再修改
	decoded := make([]model.AddedClass, 0, len(entries))
	for _, e := range entries {
		idx := model.IndexOfClass(classes, e.ClassName)
		if idx == -1 {
			return fmt.Errorf("%w: 课程 %q 不在该学期成绩中", ErrInvalidOverride, e.ClassName)
		}
		if err := s.validateAdded(e.Data); err != nil {
			return err
		}
		var list model.ManualList
		if err := json.Unmarshal(e.Data, &list); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
		}
		// 类别不在权重中的手动作业会在下次同步时被清理，写入时直接拒绝
		for _, a := range list {
			if _, ok := weights[idx].Weights[a.Category]; !ok {
				return fmt.Errorf("%w: 类别 %q 不在课程 %q 的权重中", ErrInvalidOverride, a.Category, e.ClassName)
			}
		}
		decoded = append(decoded, model.AddedClass{ClassName: e.ClassName, Data: list})
	}

	data.AlignAdded()
	added, _ := data.Added.Get(req.Term, req.Semester)
	for _, c := range decoded {
		added[model.IndexOfClass(classes, c.ClassName)].Data = c.Data
	}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{"addedAssignments": data.Added}); err != nil {
		s.logger.Error("写入手动作业失败", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// ────────────────────── UpdateEdited ──────────────────────

func (s *overrideService) UpdateEdited(ctx context.Context, username string, req *dto.UpdateOverridesRequest) error {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	entries, err := s.decodeClasses(req.Classes)
	if err != nil {
		return err
	}
	classes, ok := data.Grades.Get(req.Term, req.Semester)
	if !ok {
		return ErrClassNotInGrades
	}

	decoded := make([]model.EditedClass, 0, len(entries))
	for _, e := range entries {
		idx := model.IndexOfClass(classes, e.ClassName)
		if idx == -1 {
			return fmt.Errorf("%w: 课程 %q 不在该学期成绩中", ErrInvalidOverride, e.ClassName)
		}
		if err := s.validateEdited(e.Data, &classes[idx]); err != nil {
			return err
		}
		var edits model.EditMap
		if err := json.Unmarshal(e.Data, &edits); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
		}
		decoded = append(decoded, model.EditedClass{ClassName: e.ClassName, Data: edits})
	}

	data.AlignEdited()
	edited, _ := data.Edited.Get(req.Term, req.Semester)
	for _, c := range decoded {
		edited[model.IndexOfClass(classes, c.ClassName)].Data = c.Data
	}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{"editedAssignments": data.Edited}); err != nil {
		s.logger.Error("写入作业编辑失败", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// ── 原始 JSON 校验 ──
//
// 字段类型由 validator 规则检查；validator 不处理的部分在这里补齐：
// 未知字段、null 容器，以及作业编辑中的 psaid 键。

// decodeClasses 解析 [{className, data}]
func (s *overrideService) decodeClasses(raw json.RawMessage) ([]dto.OverrideClass, error) {
	var items []dto.OverrideClass
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: classes 必须为数组", ErrInvalidOverride)
	}
	for i := range items {
		if err := s.validate.Struct(&items[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
		}
	}
	return items, nil
}

// validateAdded 每个手动作业必须恰好包含全部字段且类型正确
func (s *overrideService) validateAdded(raw json.RawMessage) error {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if items == nil {
		return fmt.Errorf("%w: 手动作业 data 必须为数组", ErrInvalidOverride)
	}
	for _, item := range items {
		if item == nil {
			return fmt.Errorf("%w: 期望 JSON 对象", ErrInvalidOverride)
		}
		if err := unknownField(item, addedRules); err != nil {
			return err
		}
		if err := fieldErrors(s.validate.ValidateMap(item, addedRules)); err != nil {
			return err
		}
	}
	return nil
}

// validateEdited 编辑以 psaid 为键；字段为子集，null 表示不覆盖
func (s *overrideService) validateEdited(raw json.RawMessage, class *model.ClassGrade) error {
	var edits map[string]map[string]any
	if err := json.Unmarshal(raw, &edits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}
	if edits == nil {
		return fmt.Errorf("%w: 作业编辑 data 必须为对象", ErrInvalidOverride)
	}
	for key, fields := range edits {
		id, ok := model.ParsePSAID(key)
		if !ok || !class.HasPSAID(id) {
			return fmt.Errorf("%w: 作业 %q 不在课程 %q 中", ErrInvalidOverride, key, class.ClassName)
		}
		if err := unknownField(fields, editRules); err != nil {
			return err
		}
		rules := make(map[string]any, len(fields))
		for field, v := range fields {
			if v != nil {
				rules[field] = editRules[field]
			}
		}
		if err := fieldErrors(s.validate.ValidateMap(fields, rules)); err != nil {
			return err
		}
	}
	return nil
}

func unknownField(fields map[string]any, rules map[string]any) error {
	for key := range fields {
		if _, ok := rules[key]; !ok {
			return fmt.Errorf("%w: 未知字段 %q", ErrInvalidOverride, key)
		}
	}
	return nil
}

// fieldErrors ValidateMap 的结果转为错误，字段按名称排序
func fieldErrors(errs map[string]any) error {
	if len(errs) == 0 {
		return nil
	}
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Errorf("%w: 字段 %s 缺失或类型不正确", ErrInvalidOverride, strings.Join(fields, ", "))
}
