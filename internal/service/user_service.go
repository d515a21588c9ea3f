package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ── 用户模块业务错误 ──

var (
	ErrUserExists      = fmt.Errorf("%w: 用户名已存在", pkgerrors.ErrConflict)
	ErrInvalidSchool   = fmt.Errorf("%w: 不支持的学校", pkgerrors.ErrValidation)
	ErrSemesterMissing = fmt.Errorf("%w: 该学期没有成绩", pkgerrors.ErrNotFound)
)

// UserService 用户与其成绩文档的读取
type UserService interface {
	Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error)
	Get(ctx context.Context, username string) (*dto.UserResponse, error)
	List(ctx context.Context, req *dto.PaginationRequest) ([]dto.UserResponse, int64, error)
	// Grades 返回某学期成绩；q 为 nil 时取最近学期
	Grades(ctx context.Context, username string, q *dto.TermQuery) (*dto.GradesResponse, error)
	Alerts(ctx context.Context, username string, q *dto.TermQuery) (*dto.AlertsResponse, error)
	HasSemester(ctx context.Context, username string, q *dto.TermQuery) (bool, error)
	UpdateSorting(ctx context.Context, username string, req *dto.SortingRequest) error
	ResetSorting(ctx context.Context, username string) error
}

type userService struct {
	repo     *repository.Repository
	migrator DocumentMigrator
	logger   *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, migrator DocumentMigrator, logger *zap.Logger) UserService {
	return &userService{repo: repo, migrator: migrator, logger: logger}
}

// ────────────────────── Create ──────────────────────

func (s *userService) Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error) {
	if !model.ValidSchool(req.School) {
		return nil, ErrInvalidSchool
	}
	username := repository.NormalizeUsername(req.Username)

	existing, err := s.repo.User.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询用户失败", zap.String("username", username), zap.Error(err))
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	// 版本 0 的空文档，首次读取时由迁移阶梯补齐
	user := &model.User{
		Username:       username,
		School:         req.School,
		SchoolUsername: req.SchoolUsername,
		Version:        0,
		Document:       datatypes.JSONMap{},
	}
	if err := s.repo.User.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		s.logger.Error("创建用户失败", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	s.logger.Info("创建用户", zap.String("username", username), zap.String("school", req.School))
	return toUserResponse(user), nil
}

// ────────────────────── Get ──────────────────────

func (s *userService) Get(ctx context.Context, username string) (*dto.UserResponse, error) {
	user, _, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

// ────────────────────── List ──────────────────────

func (s *userService) List(ctx context.Context, req *dto.PaginationRequest) ([]dto.UserResponse, int64, error) {
	users, total, err := s.repo.User.List(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询用户列表失败", zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		list = append(list, *toUserResponse(&users[i]))
	}
	return list, total, nil
}

// ────────────────────── Grades ──────────────────────

func (s *userService) Grades(ctx context.Context, username string, q *dto.TermQuery) (*dto.GradesResponse, error) {
	_, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, err
	}

	term, sem, ok := resolveTerm(data, q)
	if !ok {
		return nil, ErrSemesterMissing
	}
	grades, ok := data.Grades.Get(term, sem)
	if !ok {
		return nil, ErrSemesterMissing
	}
	weights, _ := data.Weights.Get(term, sem)
	added, _ := data.Added.Get(term, sem)
	edited, _ := data.Edited.Get(term, sem)

	return &dto.GradesResponse{
		Term:      term,
		Semester:  sem,
		Grades:    grades,
		Weights:   weights,
		Added:     added,
		Edited:    edited,
		PSLocked:  model.AnyLocked(grades),
		HasGrades: data.HasSemester(term, sem),
	}, nil
}

// ────────────────────── Alerts ──────────────────────

func (s *userService) Alerts(ctx context.Context, username string, q *dto.TermQuery) (*dto.AlertsResponse, error) {
	_, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, err
	}
	term, sem, ok := resolveTerm(data, q)
	if !ok {
		return &dto.AlertsResponse{LastUpdated: []model.UpdateEntry{}}, nil
	}
	return &dto.AlertsResponse{Term: term, Semester: sem, LastUpdated: data.TrimmedUpdates(term, sem)}, nil
}

// ────────────────────── HasSemester ──────────────────────

func (s *userService) HasSemester(ctx context.Context, username string, q *dto.TermQuery) (bool, error) {
	_, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return false, err
	}
	return data.HasSemester(q.Term, q.Semester), nil
}

// ────────────────────── Sorting ──────────────────────

func (s *userService) UpdateSorting(ctx context.Context, username string, req *dto.SortingRequest) error {
	user, _, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	sorting := map[string]any{
		"dateSort":     req.DateSort,
		"categorySort": req.CategorySort,
	}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{"sortingData": sorting}); err != nil {
		s.logger.Error("写入排序数据失败", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

func (s *userService) ResetSorting(ctx context.Context, username string) error {
	user, _, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	keys := map[string]any{"sortingData": model.EmptySortingData()}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, keys); err != nil {
		s.logger.Error("重置排序数据失败", zap.String("username", user.Username), zap.Error(err))
		return err
	}
	return nil
}

// ── 工具 ──

// resolveTerm 显式指定的学期，或最近学期
func resolveTerm(data *model.UserData, q *dto.TermQuery) (string, string, bool) {
	if q != nil && q.Term != "" && q.Semester != "" {
		return q.Term, q.Semester, true
	}
	return data.Grades.Latest()
}

func toUserResponse(user *model.User) *dto.UserResponse {
	return &dto.UserResponse{
		Username:       user.Username,
		School:         user.School,
		SchoolUsername: user.SchoolUsername,
		Version:        user.Version,
		SyncStatus:     string(user.SyncStatus),
		CreatedAt:      user.CreatedAt.Format(time.RFC3339),
	}
}
