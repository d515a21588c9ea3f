package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/config"
	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/notify"
	"github.com/graderoom/graderoom/internal/repository"
	"github.com/graderoom/graderoom/internal/scraper"
	"github.com/graderoom/graderoom/internal/worker"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ── 同步模块 ──

// ErrScrapeUnavailable 抓取器无法启动
var ErrScrapeUnavailable = fmt.Errorf("%w: 抓取器不可用", pkgerrors.ErrUnclassified)

const (
	defaultSyncTimeout = 2 * time.Minute
	// 历史回填等待同步锁的轮询间隔
	historyLockInterval = 500 * time.Millisecond
)

// SyncService 门户同步状态机
type SyncService interface {
	// Start 受理一次同步，抓取在后台进行；同一用户已有同步时返回 ErrSyncInProgress
	Start(ctx context.Context, username string, req *dto.SyncRequest) (*dto.SyncTicketResponse, error)
	// Status 读取同步状态；COMPLETE 读取一次后变为 ALREADY_DONE
	Status(ctx context.Context, username string) (*dto.SyncStatusResponse, error)
	// RunHistory 历史学期回填（由后台任务调用）
	RunHistory(ctx context.Context, username, password string) error
	// Wait 等待所有进行中的同步结束
	Wait()
}

type syncService struct {
	repo     *repository.Repository
	weights  WeightService
	errors   ErrorService
	migrator DocumentMigrator
	scraper  scraper.Scraper
	emitter  notify.Emitter
	locker   Locker
	jobs     JobSubmitter
	now      func() time.Time
	timeout  time.Duration
	history  bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewSyncService 创建 SyncService 实例
func NewSyncService(
	cfg *config.Config,
	repo *repository.Repository,
	weights WeightService,
	errs ErrorService,
	deps Dependencies,
	logger *zap.Logger,
) SyncService {
	timeout := cfg.Sync.Timeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &syncService{
		repo:     repo,
		weights:  weights,
		errors:   errs,
		migrator: deps.Migrator,
		scraper:  deps.Scraper,
		emitter:  deps.Emitter,
		locker:   locker,
		jobs:     deps.Jobs,
		now:      now,
		timeout:  timeout,
		history:  cfg.Feature.HistoryBackfill,
		logger:   logger.Named("sync"),
	}
}

// attempt 一次同步尝试的上下文
type attempt struct {
	id          string
	username    string
	school      string
	password    string
	oldTerm     string
	oldSemester string
	logger      *zap.Logger
}

// ────────────────────── Start ──────────────────────

func (s *syncService) Start(ctx context.Context, username string, req *dto.SyncRequest) (*dto.SyncTicketResponse, error) {
	username = repository.NormalizeUsername(username)
	if _, err := s.repo.User.GetByUsername(ctx, username); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, username)
	if err != nil {
		return nil, err
	}

	a := &attempt{id: ulid.Make().String(), username: username, password: req.SchoolPassword}
	a.logger = s.logger.With(zap.String("sync_id", a.id), zap.String("username", username))

	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		release()
		return nil, err
	}
	a.school = user.School

	scrapeReq := scraper.Request{School: user.School, Username: user.SchoolUsername, Password: req.SchoolPassword}
	if term, sem, ok := data.Grades.Latest(); ok {
		a.oldTerm, a.oldSemester = term, sem
		classes, _ := data.Grades.Get(term, sem)
		// 门户锁定作业明细时，抓取器以此补全课程列表
		hint := make([]model.ClassGrade, 0, len(classes))
		for _, c := range classes {
			hint = append(hint, c.WithoutGrades())
		}
		scrapeReq.DataIfLocked = hint
		scrapeReq.TermDataIfLocked = &scraper.TermRef{Term: term, Semester: sem}
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	events, err := s.scraper.Scrape(runCtx, scrapeReq)
	if err != nil {
		cancel()
		code := s.failGeneral(ctx, a, err)
		release()
		return nil, fmt.Errorf("%w: Something went wrong. Error %d.", ErrScrapeUnavailable, code)
	}

	if err := s.repo.User.SetSyncStatus(ctx, username, model.SyncStatusUpdating); err != nil {
		a.logger.Warn("写入同步状态失败", zap.Error(err))
	}
	a.logger.Info("开始同步", zap.String("school", user.School))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer cancel()
		s.consume(runCtx, a, events)
	}()

	return &dto.SyncTicketResponse{SyncID: a.id, Status: string(model.SyncStatusUpdating)}, nil
}

func (s *syncService) Wait() { s.wg.Wait() }

// consume 处理抓取事件流，直到收到结果或流结束
func (s *syncService) consume(ctx context.Context, a *attempt, events <-chan scraper.Event) {
	// 终态写入不受抓取超时影响
	bg := context.WithoutCancel(ctx)
	for ev := range events {
		switch {
		case ev.Err != nil:
			s.failGeneral(bg, a, ev.Err)
			return
		case ev.Progress != nil:
			if err := s.repo.User.SetSyncStatus(bg, a.username, model.SyncStatusUpdating); err != nil {
				a.logger.Warn("写入同步状态失败", zap.Error(err))
			}
			s.emit(a.username, notify.EventSyncProgress, ev.Progress)
		case ev.Result != nil:
			if ev.Result.Success {
				s.applyResult(bg, a, ev.Result)
			} else {
				s.handleFailure(bg, a, ev.Result.Message)
			}
			return
		}
	}
	cause := scraper.ErrNoResult
	if ctx.Err() != nil {
		cause = fmt.Errorf("同步超时: %w", ctx.Err())
	}
	s.failGeneral(bg, a, cause)
}

// ── 失败映射 ──

func (s *syncService) handleFailure(ctx context.Context, a *attempt, message string) {
	switch message {
	case model.ScrapeMsgIncorrectLogin:
		s.setStatus(ctx, a, model.SyncStatusFailed)
		s.emit(a.username, notify.EventSyncFail, map[string]any{"gradeSyncEnabled": false, "message": message})
		a.logger.Info("门户登录失败")
		return
	case model.AccountInactiveMessage(a.school):
		s.setStatus(ctx, a, model.SyncStatusAccountInactive)
		s.emit(a.username, notify.EventSyncFail, map[string]any{"gradeSyncEnabled": false, "message": message})
		a.logger.Info("门户账号已失效")
		return
	case model.ScrapeMsgNoClassData:
		s.noData(ctx, a)
		return
	}

	detail := message
	if rest, ok := strings.CutPrefix(message, model.ScrapeMsgErrorPrefix); ok {
		detail = rest
	}
	code, err := s.errors.LogError(ctx, a.username, detail)
	if err != nil {
		s.failGeneral(ctx, a, fmt.Errorf("登记同步错误失败: %w", err))
		return
	}
	s.setStatus(ctx, a, model.FailedWithCode(code))
	s.emit(a.username, notify.EventSyncFail, map[string]any{
		"gradeSyncEnabled": false,
		"message":          fmt.Sprintf("Sync Error (%d). Contact Support.", code),
	})
	a.logger.Warn("同步失败", zap.Int("error_code", code), zap.String("detail", detail))
}

func (s *syncService) noData(ctx context.Context, a *attempt) {
	s.setStatus(ctx, a, model.SyncStatusNoData)
	s.emit(a.username, notify.EventSyncFail, map[string]any{
		"gradeSyncEnabled": false,
		"message":          model.NoGradesMessage(a.school),
	})
	a.logger.Info("门户无成绩数据")
}

// failGeneral 系统错误：登记 6 位错误码并返回
func (s *syncService) failGeneral(ctx context.Context, a *attempt, cause error) int {
	code, err := s.errors.LogGeneralError(ctx, cause.Error())
	if err != nil {
		a.logger.Error("登记系统错误失败", zap.Error(err))
	}
	a.logger.Error("同步失败", zap.Int("error_code", code), zap.Error(cause))
	s.setStatus(ctx, a, model.SyncStatusFailed)
	s.emit(a.username, notify.EventSyncFailGeneral, map[string]any{
		"message": fmt.Sprintf("Something went wrong. Error %d.", code),
	})
	return code
}

// ── 成功 ──

func (s *syncService) applyResult(ctx context.Context, a *attempt, res *scraper.Result) {
	term, sem, ok := res.NewGrades.Latest()
	if !ok {
		s.noData(ctx, a)
		return
	}
	next, _ := res.NewGrades.Get(term, sem)

	// 抓取期间用户可能修改过覆盖数据，重新读取
	user, data, err := loadUser(ctx, s.repo, nil, s.logger, a.username)
	if err != nil {
		s.failGeneral(ctx, a, err)
		return
	}

	prev, _ := data.Grades.Get(term, sem)
	changes := ComputeChanges(prev, next)
	locked := model.AnyLocked(next)

	for className := range changes.Removed {
		data.RemoveEdits(term, sem, className, changes.RemovedIDs(className))
	}

	if user.School == model.SchoolBISV {
		data.Grades[term] = res.NewGrades[term]
		if w, ok := res.NewWeights[term]; ok {
			data.Weights[term] = w
		}
	} else {
		data.Grades.Set(term, sem, next)
	}
	data.Reconcile()
	s.weights.ReconcileBook(ctx, user.School, user.Username, &data.GradeBook, Scope{Term: term, Semester: sem})

	ts := s.now().UnixMilli()
	rollover := !locked && (term != a.oldTerm || sem != a.oldSemester || len(data.UpdatedGradeHistory) == 0)

	keys := map[string]any{
		"grades":            data.Grades,
		"weights":           data.Weights,
		"addedAssignments":  data.Added,
		"editedAssignments": data.Edited,
	}
	if rollover {
		data.SortingData = model.EmptySortingData()
		data.UpdateStartTimestamps.Set(term, sem, ts)
		keys["sortingData"] = data.SortingData
		keys["updateStartTimestamps"] = data.UpdateStartTimestamps
	}
	if err := s.repo.User.SetDocumentKeys(ctx, user.Username, keys); err != nil {
		s.failGeneral(ctx, a, err)
		return
	}

	entry := model.UpdateEntry{Timestamp: ts, ChangeData: changes, PSLocked: locked}
	if err := s.repo.User.AppendAlert(ctx, user.Username, entry); err != nil {
		s.failGeneral(ctx, a, err)
		return
	}

	// 已提交历史回填时保持 HISTORY，由回填任务结束时写入 COMPLETE
	if !(rollover && user.School != model.SchoolBISV && s.submitHistory(ctx, a)) {
		s.setStatus(ctx, a, model.SyncStatusComplete)
	}
	grades, _ := data.Grades.Get(term, sem)
	weights, _ := data.Weights.Get(term, sem)
	s.emit(a.username, notify.EventSyncSuccess, map[string]any{
		"message":    "Updated grades!",
		"grades":     grades,
		"weights":    weights,
		"updateData": entry,
	})
	a.logger.Info("同步完成",
		zap.String("term", term),
		zap.String("semester", sem),
		zap.Bool("rollover", rollover),
		zap.Bool("ps_locked", locked),
		zap.Int("added", len(changes.Added)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("removed", len(changes.Removed)),
	)
}

// submitHistory 提交历史回填任务，返回是否已提交
func (s *syncService) submitHistory(ctx context.Context, a *attempt) bool {
	if !s.history || s.jobs == nil {
		return false
	}
	s.setStatus(ctx, a, model.SyncStatusHistory)
	username, password := a.username, a.password
	err := s.jobs.Submit(worker.Job{
		Name: "history:" + username,
		Run: func(ctx context.Context) error {
			return s.RunHistory(ctx, username, password)
		},
	})
	if err != nil {
		a.logger.Warn("提交历史回填任务失败", zap.Error(err))
		return false
	}
	return true
}

// ────────────────────── RunHistory ──────────────────────

func (s *syncService) RunHistory(ctx context.Context, username, password string) error {
	username = repository.NormalizeUsername(username)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	a := &attempt{id: ulid.Make().String(), username: username, password: password}
	a.logger = s.logger.With(zap.String("sync_id", a.id), zap.String("username", username), zap.Bool("history", true))

	// 等待发起本任务的同步释放锁
	release, err := acquireWait(ctx, s.locker, username, historyLockInterval)
	if err != nil {
		s.finishHistory(context.WithoutCancel(ctx), a)
		return err
	}
	// 先写状态再释放锁
	defer release()
	defer s.finishHistory(context.WithoutCancel(ctx), a)

	user, _, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return err
	}
	a.school = user.School

	events, err := s.scraper.Scrape(ctx, scraper.Request{
		School:   user.School,
		Username: user.SchoolUsername,
		Password: password,
		History:  true,
	})
	if err != nil {
		s.failHistory(ctx, a, err)
		return err
	}

	bg := context.WithoutCancel(ctx)
	for ev := range events {
		switch {
		case ev.Err != nil:
			s.failHistory(bg, a, ev.Err)
			return ev.Err
		case ev.Progress != nil:
			s.emit(username, notify.EventSyncProgressHistory, ev.Progress)
		case ev.Result != nil:
			if !ev.Result.Success {
				s.emit(username, notify.EventSyncFailHistory, map[string]any{"message": ev.Result.Message})
				a.logger.Info("历史回填失败", zap.String("message", ev.Result.Message))
				return nil
			}
			if err := s.mergeHistory(bg, a, ev.Result); err != nil {
				s.failHistory(bg, a, err)
				return err
			}
			return nil
		}
	}
	err = scraper.ErrNoResult
	if ctx.Err() != nil {
		err = fmt.Errorf("历史回填超时: %w", ctx.Err())
	}
	s.failHistory(bg, a, err)
	return err
}

func (s *syncService) failHistory(ctx context.Context, a *attempt, cause error) {
	code, err := s.errors.LogGeneralError(ctx, cause.Error())
	if err != nil {
		a.logger.Error("登记系统错误失败", zap.Error(err))
	}
	a.logger.Error("历史回填失败", zap.Int("error_code", code), zap.Error(cause))
	s.emit(a.username, notify.EventSyncFailHistory, map[string]any{
		"message": fmt.Sprintf("Something went wrong. Error %d.", code),
	})
}

// finishHistory 回填结束（无论成败）时 HISTORY → COMPLETE；
// 其间状态已被其他同步改写时保留原值
func (s *syncService) finishHistory(ctx context.Context, a *attempt) {
	user, err := s.repo.User.GetByUsername(ctx, a.username)
	if err != nil {
		a.logger.Warn("读取同步状态失败", zap.Error(err))
		return
	}
	if user.SyncStatus == model.SyncStatusHistory {
		s.setStatus(ctx, a, model.SyncStatusComplete)
	}
}

// mergeHistory 合并历史学期，不覆盖实时同步的当前学期
func (s *syncService) mergeHistory(ctx context.Context, a *attempt, res *scraper.Result) error {
	user, data, err := loadUser(ctx, s.repo, nil, s.logger, a.username)
	if err != nil {
		return err
	}
	liveTerm, liveSem, _ := data.Grades.Latest()
	changes := model.NewChangeSet()

	if user.School == model.SchoolBISV {
		for _, term := range res.NewWeights.Terms() {
			for _, sem := range res.NewWeights.Semesters(term) {
				if term == liveTerm && sem == liveSem {
					continue
				}
				w, _ := res.NewWeights.Get(term, sem)
				data.Weights.Set(term, sem, w)
			}
		}
	} else {
		for _, term := range res.NewGrades.Terms() {
			for _, sem := range res.NewGrades.Semesters(term) {
				if term == liveTerm && sem == liveSem {
					continue
				}
				next, _ := res.NewGrades.Get(term, sem)
				prev, existed := data.Grades.Get(term, sem)
				if existed {
					for i := range next {
						idx := model.IndexOfClass(prev, next[i].ClassName)
						if idx != -1 && len(next[i].Grades) == 0 {
							next[i].Grades = prev[idx].Grades
						}
					}
					historyChanges(prev, next, changes)
				}
				data.Grades.Set(term, sem, next)
			}
		}
	}

	data.Reconcile()
	for _, term := range data.Grades.Terms() {
		for _, sem := range data.Grades.Semesters(term) {
			if !data.UpdateStartTimestamps.Has(term, sem) {
				data.UpdateStartTimestamps.Set(term, sem, 0)
			}
		}
	}
	s.weights.ReconcileBook(ctx, user.School, user.Username, &data.GradeBook, Scope{})

	err = s.repo.User.SetDocumentKeys(ctx, user.Username, map[string]any{
		"grades":                data.Grades,
		"weights":               data.Weights,
		"addedAssignments":      data.Added,
		"editedAssignments":     data.Edited,
		"updateStartTimestamps": data.UpdateStartTimestamps,
	})
	if err != nil {
		return err
	}

	ts := s.now().UnixMilli()
	if err := s.repo.User.AppendGradeHistory(ctx, user.Username, ts); err != nil {
		return err
	}
	if err := s.repo.User.AppendAlert(ctx, user.Username, model.UpdateEntry{Timestamp: ts, ChangeData: changes}); err != nil {
		return err
	}

	s.emit(a.username, notify.EventSyncSuccessHistory, map[string]any{})
	a.logger.Info("历史回填完成", zap.Int("overall_changes", len(changes.Overall)))
	return nil
}

// ────────────────────── Status ──────────────────────

func (s *syncService) Status(ctx context.Context, username string) (*dto.SyncStatusResponse, error) {
	user, err := s.repo.User.GetByUsername(ctx, repository.NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	status := user.SyncStatus
	resp := &dto.SyncStatusResponse{Status: string(status)}
	switch status {
	case model.SyncStatusComplete:
		consumed, err := s.repo.User.ConsumeCompleted(ctx, user.Username)
		if err != nil {
			return nil, err
		}
		resp.Success, resp.Message = true, "Sync Complete!"
		if !consumed {
			// 并发读取，已被另一方清除
			resp.Message = "Already Synced!"
		}
	case model.SyncStatusAlreadyDone:
		resp.Success, resp.Message = true, "Already Synced!"
	case model.SyncStatusNoData:
		resp.Message = model.NoGradesMessage(user.School)
	case model.SyncStatusFailed:
		resp.Message = "Sync Failed."
	case model.SyncStatusIdle, model.SyncStatusUpdating:
		resp.Message = "Did not sync"
	case model.SyncStatusHistory:
		resp.Message = "Syncing History..."
	case model.SyncStatusAccountInactive:
		resp.Message = model.AccountInactiveMessage(user.School)
	case model.SyncStatusNotSyncing:
		resp.Message = "Not syncing"
	default:
		if code, ok := status.ErrorCode(); ok {
			resp.Message = fmt.Sprintf("Sync Failed. Error %d.", code)
		} else {
			resp.Message = "Did not sync"
		}
	}
	return resp, nil
}

// ── 工具 ──

func (s *syncService) setStatus(ctx context.Context, a *attempt, status model.SyncStatus) {
	if err := s.repo.User.SetSyncStatus(ctx, a.username, status); err != nil {
		a.logger.Error("写入同步状态失败", zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *syncService) emit(username, event string, data any) {
	if s.emitter != nil {
		s.emitter.Emit(username, event, data)
	}
}
