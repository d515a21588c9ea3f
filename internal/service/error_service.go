package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ── 错误码模块业务错误 ──

var (
	ErrErrorCodeNotFound  = fmt.Errorf("%w: 错误码不存在", pkgerrors.ErrNotFound)
	ErrErrorCodeExhausted = errors.New("无法分配未使用的错误码")
)

const (
	syncCodeMin    = 100
	syncCodeMax    = 999
	generalCodeMin = 100000
	generalCodeMax = 999999
	// 随机分配的最大尝试次数
	codeAttempts = 64
)

// ErrorService 同步错误与系统错误的错误码登记
type ErrorService interface {
	// LogError 登记用户的同步错误；同一用户同一消息复用原错误码
	LogError(ctx context.Context, username, message string) (int, error)
	// LogGeneralError 登记系统错误；同一消息复用原错误码
	LogGeneralError(ctx context.Context, message string) (int, error)
	// Lookup 按错误码查询（管理员）
	Lookup(ctx context.Context, code int) (*dto.ErrorLookupResponse, error)
}

type errorService struct {
	repo   *repository.Repository
	intN   func(n int) int
	logger *zap.Logger
}

// NewErrorService 创建 ErrorService 实例
func NewErrorService(repo *repository.Repository, logger *zap.Logger) ErrorService {
	return &errorService{repo: repo, intN: rand.IntN, logger: logger}
}

// ────────────────────── LogError ──────────────────────

func (s *errorService) LogError(ctx context.Context, username, message string) (int, error) {
	username = repository.NormalizeUsername(username)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		existing, err := s.repo.Error.FindSyncError(ctx, username, message)
		if err == nil {
			return existing.ErrorCode, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询同步错误失败", zap.String("username", username), zap.Error(err))
			return 0, err
		}

		code := syncCodeMin + s.intN(syncCodeMax-syncCodeMin+1)
		used, err := s.repo.Error.SyncCodeExists(ctx, username, code)
		if err != nil {
			return 0, err
		}
		if used {
			continue
		}

		err = s.repo.Error.CreateSyncError(ctx, &model.SyncError{
			Username:  username,
			ErrorCode: code,
			Error:     message,
			CreatedAt: time.Now(),
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发登记，重新查询
			continue
		}
		if err != nil {
			s.logger.Error("登记同步错误失败", zap.String("username", username), zap.Error(err))
			return 0, err
		}

		if err := s.repo.User.PushErrorCode(ctx, username, code); err != nil {
			s.logger.Warn("写入用户错误码列表失败", zap.String("username", username), zap.Int("code", code), zap.Error(err))
		}
		s.logger.Info("登记同步错误", zap.String("username", username), zap.Int("code", code), zap.String("error", message))
		return code, nil
	}
	return 0, ErrErrorCodeExhausted
}

// ────────────────────── LogGeneralError ──────────────────────

func (s *errorService) LogGeneralError(ctx context.Context, message string) (int, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		existing, err := s.repo.Error.FindGeneralError(ctx, message)
		if err == nil {
			return existing.ErrorCode, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询系统错误失败", zap.Error(err))
			return 0, err
		}

		code := generalCodeMin + s.intN(generalCodeMax-generalCodeMin+1)
		used, err := s.repo.Error.GeneralCodeExists(ctx, code)
		if err != nil {
			return 0, err
		}
		if used {
			continue
		}

		err = s.repo.Error.CreateGeneralError(ctx, &model.GeneralError{
			ErrorCode: code,
			Error:     message,
			CreatedAt: time.Now(),
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			s.logger.Error("登记系统错误失败", zap.Error(err))
			return 0, err
		}
		s.logger.Error("登记系统错误", zap.Int("code", code), zap.String("error", message))
		return code, nil
	}
	return 0, ErrErrorCodeExhausted
}

// ────────────────────── Lookup ──────────────────────

func (s *errorService) Lookup(ctx context.Context, code int) (*dto.ErrorLookupResponse, error) {
	resp := &dto.ErrorLookupResponse{Code: code}

	if code >= generalCodeMin {
		e, err := s.repo.Error.GetGeneralError(ctx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrErrorCodeNotFound
			}
			return nil, err
		}
		resp.General = &e.Error
		return resp, nil
	}

	list, err := s.repo.Error.ListSyncErrorsByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrErrorCodeNotFound
	}
	resp.Sync = make([]dto.SyncErrorResponse, 0, len(list))
	for _, e := range list {
		resp.Sync = append(resp.Sync, dto.SyncErrorResponse{
			Username:  e.Username,
			ErrorCode: e.ErrorCode,
			Error:     e.Error,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}
