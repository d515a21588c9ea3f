package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/graderoom/graderoom/config"
	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/migration"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/notify"
	"github.com/graderoom/graderoom/internal/repository"
	"github.com/graderoom/graderoom/internal/scraper"
)

// ── 测试辅助 ──

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

type syncFixture struct {
	svc     *syncService
	users   *mockUserRepo
	classes *mockClassRepo
	errs    *mockErrorRepo
	scraper *fakeScraper
	emitter *fakeEmitter
	jobs    *fakeJobs
}

func setupTestSyncService() *syncFixture {
	f := &syncFixture{
		users:   newMockUserRepo(),
		classes: newMockClassRepo(),
		errs:    newMockErrorRepo(),
		scraper: &fakeScraper{},
		emitter: &fakeEmitter{},
		jobs:    &fakeJobs{},
	}
	repo := &repository.Repository{
		User:    f.users,
		Class:   f.classes,
		Catalog: newMockCatalogRepo(),
		Error:   f.errs,
	}
	logger := zap.NewNop()
	cfg := &config.Config{}
	cfg.Sync.Timeout = 5 * time.Second
	cfg.Feature.HistoryBackfill = true

	deps := Dependencies{
		Migrator: migration.NewMigrator(repo, fixedNow, logger),
		Scraper:  f.scraper,
		Emitter:  f.emitter,
		Locker:   NewLocalLocker(),
		Jobs:     f.jobs,
		Now:      fixedNow,
	}
	weights := NewWeightService(repo, deps.Migrator, logger)
	f.svc = NewSyncService(cfg, repo, weights, NewErrorService(repo, logger), deps, logger).(*syncService)
	return f
}

func asg(id int64, category string, got float64) model.Assignment {
	return model.Assignment{
		PSAID:          model.PSAID(id),
		Category:       category,
		AssignmentName: category + " " + model.PSAID(id).Key(),
		Date:           "09/01/2023",
		PointsGotten:   model.NumberScore(got),
		PointsPossible: model.NumberScore(10),
		GradePercent:   model.NumberScore(got * 10),
	}
}

func class(name, teacher string, grades ...model.Assignment) model.ClassGrade {
	return model.ClassGrade{
		ClassName:      name,
		TeacherName:    teacher,
		OverallPercent: model.NumberScore(90),
		OverallLetter:  model.TextLetter("A-"),
		Grades:         grades,
	}
}

// putUser 写入当前版本的用户文档
func putUser(t *testing.T, users *mockUserRepo, username, school string, data model.UserData) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("序列化测试文档失败: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("解析测试文档失败: %v", err)
	}
	users.put(&model.User{
		Username:       username,
		School:         school,
		SchoolUsername: username + "@school",
		Version:        model.CurrentUserVersion,
		Document:       doc,
	})
}

func bookWith(term, sem string, classes ...model.ClassGrade) model.UserData {
	data := model.NewUserData()
	data.Grades.Set(term, sem, classes)
	data.Reconcile()
	return data
}

func success(term, sem string, classes ...model.ClassGrade) []scraper.Event {
	grades := model.TermMap[[]model.ClassGrade]{}
	grades.Set(term, sem, classes)
	return []scraper.Event{
		{Progress: &scraper.Progress{Progress: 10, Message: "Logging in"}},
		{Result: &scraper.Result{Success: true, NewGrades: grades}},
	}
}

func failure(message string) []scraper.Event {
	return []scraper.Event{{Result: &scraper.Result{Success: false, Message: message}}}
}

func (f *syncFixture) sync(t *testing.T, username string) {
	t.Helper()
	if _, err := f.svc.Start(context.Background(), username, &dto.SyncRequest{SchoolPassword: "pw"}); err != nil {
		t.Fatalf("Start 应成功: %v", err)
	}
	f.svc.Wait()
}

func lastAlert(t *testing.T, data *model.UserData) model.UpdateEntry {
	t.Helper()
	if len(data.Alerts.LastUpdated) == 0 {
		t.Fatal("期望存在更新记录")
	}
	return data.Alerts.LastUpdated[len(data.Alerts.LastUpdated)-1]
}

// ── 成功同步 ──

func TestSyncService_Start_AddsAssignmentAndCompletes(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine,
		bookWith("23-24", "S1", class("Biology", "Smith", asg(5, "Labs", 9))))
	f.scraper.events = success("23-24", "S1",
		class("Biology", "Smith", asg(5, "Labs", 9), asg(101, "Homework", 10)))

	f.sync(t, "alice")

	// 换学期提交了历史回填，状态停留在 HISTORY
	if got := f.users.status("alice"); got != model.SyncStatusHistory {
		t.Errorf("期望 HISTORY，实际: %s", got)
	}
	data := f.users.data("alice")
	entry := lastAlert(t, data)
	if ids := entry.ChangeData.Added["Biology"]; len(ids) != 1 || ids[0] != 101 {
		t.Errorf("期望新增 psaid 101，实际: %v", ids)
	}
	if entry.Timestamp != fixedNow().UnixMilli() {
		t.Errorf("期望时间戳为当前时间，实际: %d", entry.Timestamp)
	}
	weights, _ := data.Weights.Get("23-24", "S1")
	if _, ok := weights[0].Weights["Homework"]; !ok {
		t.Errorf("期望权重包含新类别 Homework，实际: %v", weights[0].Weights)
	}
	if f.emitter.count(notify.EventSyncProgress) != 1 {
		t.Errorf("期望 1 次进度事件，实际: %d", f.emitter.count(notify.EventSyncProgress))
	}
	ev, ok := f.emitter.last(notify.EventSyncSuccess)
	if !ok {
		t.Fatal("期望发送 sync-success")
	}
	if ev.data["message"] != "Updated grades!" {
		t.Errorf("期望 message=Updated grades!，实际: %v", ev.data["message"])
	}
	if _, ok := ev.data["updateData"]; !ok {
		t.Error("期望 sync-success 携带 updateData")
	}
	// 没有 updatedGradeHistory，视为换学期并提交历史回填
	if len(f.jobs.taken()) != 1 {
		t.Errorf("期望提交 1 个历史回填任务，实际: %d", len(f.jobs.taken()))
	}
	if ts, _ := data.UpdateStartTimestamps.Get("23-24", "S1"); ts != fixedNow().UnixMilli() {
		t.Errorf("期望写入学期起始时间戳，实际: %d", ts)
	}
}

func TestSyncService_Start_LockedHint(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine,
		bookWith("23-24", "S1", class("Biology", "Smith", asg(5, "Labs", 9))))
	f.scraper.events = failure(model.ScrapeMsgIncorrectLogin)

	f.sync(t, "alice")

	req := f.scraper.lastRequest()
	if req.TermDataIfLocked == nil || req.TermDataIfLocked.Term != "23-24" || req.TermDataIfLocked.Semester != "S1" {
		t.Fatalf("期望锁定提示指向 23-24/S1，实际: %+v", req.TermDataIfLocked)
	}
	if len(req.DataIfLocked) != 1 || len(req.DataIfLocked[0].Grades) != 0 {
		t.Errorf("期望锁定提示为不含作业的课程列表，实际: %+v", req.DataIfLocked)
	}
	if req.Username != "alice@school" || req.Password != "pw" {
		t.Errorf("期望使用门户账号与本次密码，实际: %s/%s", req.Username, req.Password)
	}
}

func TestSyncService_Start_MigratesV5User(t *testing.T) {
	f := setupTestSyncService()
	const v5 = `{
		"grades": {"23-24": {"S1": [
			{"class_name": "Biology", "teacher_name": "Smith", "overall_percent": 90, "overall_letter": "A-",
			 "grades": [{"psaid": 5, "category": "Labs", "assignment_name": "Lab 1", "points_gotten": 9, "points_possible": 10, "grade_percent": 90, "date": "09/01/2023"}]}
		]}},
		"weights": {"23-24": {"S1": [{"className": "Biology", "weights": {"Labs": 100}, "hasWeights": false, "custom": false}]}},
		"addedAssignments": {"23-24": {"S1": [{"className": "Biology", "data": []}]}},
		"editedAssignments": {"23-24": {"S1": [{"className": "Biology", "data": {}}]}},
		"alerts": {"lastUpdated": []},
		"appearance": {"classColors": ["#ffffff"], "showEmpty": false},
		"donoData": []
	}`
	var doc map[string]any
	if err := json.Unmarshal([]byte(v5), &doc); err != nil {
		t.Fatalf("测试数据解析失败: %v", err)
	}
	f.users.put(&model.User{Username: "bob", School: model.SchoolBellarmine, SchoolUsername: "bob", Version: 5, Document: doc})

	homework := model.Assignment{
		PSAID: 101, Category: "Homework", AssignmentName: "HW 1", Date: "09/05/2023",
		PointsGotten: model.NumberScore(10), PointsPossible: model.NumberScore(10), GradePercent: model.NumberScore(100),
	}
	lab := model.Assignment{
		PSAID: 5, Category: "Labs", AssignmentName: "Lab 1", Date: "09/01/2023",
		PointsGotten: model.NumberScore(9), PointsPossible: model.NumberScore(10), GradePercent: model.NumberScore(90),
	}
	f.scraper.events = success("23-24", "S1", class("Biology", "Smith", lab, homework))

	f.sync(t, "bob")

	user, _ := f.users.GetByUsername(context.Background(), "bob")
	if user.Version != model.CurrentUserVersion {
		t.Errorf("期望迁移到 v%d，实际: v%d", model.CurrentUserVersion, user.Version)
	}
	data := f.users.data("bob")
	entry := lastAlert(t, data)
	if ids := entry.ChangeData.Added["Biology"]; len(ids) != 1 || ids[0] != 101 {
		t.Errorf("期望新增 psaid 101，实际: %v", ids)
	}
	if len(entry.ChangeData.Modified) != 0 || len(entry.ChangeData.Removed) != 0 {
		t.Errorf("期望没有修改或移除，实际: %+v", entry.ChangeData)
	}
	weights, _ := data.Weights.Get("23-24", "S1")
	if _, ok := weights[0].Weights["Homework"]; !ok {
		t.Errorf("期望权重包含 Homework，实际: %v", weights[0].Weights)
	}
	if got := f.users.status("bob"); got != model.SyncStatusHistory {
		t.Errorf("期望等待历史回填的 HISTORY，实际: %s", got)
	}
}

func TestSyncService_Start_PrunesEditsForRemovedAssignments(t *testing.T) {
	f := setupTestSyncService()
	data := bookWith("23-24", "S1",
		class("Biology", "Smith", asg(5, "Labs", 9), asg(6, "Tests", 8)),
		class("History", "Jones", asg(6, "Essays", 7)),
	)
	points := model.NumberScore(10)
	edited, _ := data.Edited.Get("23-24", "S1")
	edited[0].Data = model.EditMap{"5": {PointsGotten: &points}, "6": {PointsGotten: &points}}
	edited[1].Data = model.EditMap{"6": {PointsGotten: &points}}
	data.UpdatedGradeHistory = []int64{1}
	putUser(t, f.users, "alice", model.SchoolBellarmine, data)

	f.scraper.events = success("23-24", "S1",
		class("Biology", "Smith", asg(5, "Labs", 9)),
		class("History", "Jones", asg(6, "Essays", 7)),
	)
	f.sync(t, "alice")

	got := f.users.data("alice")
	entry := lastAlert(t, got)
	if removed := entry.ChangeData.Removed["Biology"]; len(removed) != 1 || removed[0].PSAID != 6 {
		t.Errorf("期望移除 Biology psaid 6，实际: %v", removed)
	}
	edits, _ := got.Edited.Get("23-24", "S1")
	if _, ok := edits[0].Data["6"]; ok {
		t.Error("期望 Biology 中 psaid 6 的编辑被删除")
	}
	if _, ok := edits[0].Data["5"]; !ok {
		t.Error("期望 Biology 中 psaid 5 的编辑保留")
	}
	if _, ok := edits[1].Data["6"]; !ok {
		t.Error("期望 History 中 psaid 6 的编辑不受影响")
	}
	// 同一学期且已有历史，不提交回填
	if len(f.jobs.taken()) != 0 {
		t.Errorf("期望不提交历史回填，实际: %d", len(f.jobs.taken()))
	}
}

func TestSyncService_Start_PSLockedHasEmptyOverall(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine,
		bookWith("23-24", "S1", class("Biology", "Smith", asg(5, "Labs", 9))))

	locked := class("Biology", "Smith")
	locked.PSLocked = true
	locked.OverallPercent = model.Score{}
	locked.OverallLetter = model.Letter{}
	f.scraper.events = success("23-24", "S1", locked)

	f.sync(t, "alice")

	data := f.users.data("alice")
	entry := lastAlert(t, data)
	if len(entry.ChangeData.Overall) != 0 {
		t.Errorf("期望 ps_locked 时 overall 为空，实际: %v", entry.ChangeData.Overall)
	}
	if !entry.PSLocked {
		t.Error("期望更新记录 ps_locked=true")
	}
	if len(f.jobs.taken()) != 0 {
		t.Error("期望 ps_locked 时不视为换学期")
	}
}

func TestSyncService_Start_BISVReplacesTerm(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBISV,
		bookWith("23-24", "S1", class("Biology", "Smith", asg(5, "Labs", 9))))

	grades := model.TermMap[[]model.ClassGrade]{}
	grades.Set("23-24", "S2", []model.ClassGrade{class("Chemistry", "Lee", asg(7, "Labs", 10), asg(8, "Tests", 9))})
	newWeights := model.TermMap[[]model.ClassWeight]{}
	newWeights.Set("23-24", "S2", []model.ClassWeight{{
		ClassName:  "Chemistry",
		Weights:    model.Weights{"Labs": model.W(60), "Tests": model.W(40)},
		HasWeights: true,
	}})
	f.scraper.events = []scraper.Event{{Result: &scraper.Result{Success: true, NewGrades: grades, NewWeights: newWeights}}}

	f.sync(t, "alice")

	data := f.users.data("alice")
	if data.Grades.Has("23-24", "S1") {
		t.Error("期望 BISV 整个学年被新数据替换")
	}
	if !data.Grades.Has("23-24", "S2") {
		t.Fatal("期望写入 23-24/S2")
	}
	weights, _ := data.Weights.Get("23-24", "S2")
	if len(weights) != 1 || weights[0].Weights["Labs"] == nil || *weights[0].Weights["Labs"] != 60 {
		t.Errorf("期望使用门户权重，实际: %+v", weights)
	}
	if len(f.jobs.taken()) != 0 {
		t.Error("期望 BISV 不提交历史回填")
	}
}

// ── 失败映射 ──

func TestSyncService_Start_NoClassData(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = failure(model.ScrapeMsgNoClassData)

	f.sync(t, "alice")

	if got := f.users.status("alice"); got != model.SyncStatusNoData {
		t.Errorf("期望 NO_DATA，实际: %s", got)
	}
	ev, ok := f.emitter.last(notify.EventSyncFail)
	if !ok {
		t.Fatal("期望发送 sync-fail")
	}
	if ev.data["message"] != "No PowerSchool grades found for this term." {
		t.Errorf("期望 PowerSchool 无成绩消息，实际: %v", ev.data["message"])
	}
}

func TestSyncService_Start_IncorrectLogin(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = failure(model.ScrapeMsgIncorrectLogin)

	f.sync(t, "alice")

	if got := f.users.status("alice"); got != model.SyncStatusFailed {
		t.Errorf("期望 FAILED，实际: %s", got)
	}
	ev, _ := f.emitter.last(notify.EventSyncFail)
	if ev.data["message"] != model.ScrapeMsgIncorrectLogin {
		t.Errorf("期望原样返回登录失败消息，实际: %v", ev.data["message"])
	}
	if ev.data["gradeSyncEnabled"] != false {
		t.Errorf("期望 gradeSyncEnabled=false，实际: %v", ev.data["gradeSyncEnabled"])
	}
	if len(f.errs.sync) != 0 {
		t.Error("期望登录失败不登记错误码")
	}
}

func TestSyncService_Start_AccountInactive(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBISV, model.UserData{})
	f.scraper.events = failure("Your Schoology account is no longer active.")

	f.sync(t, "alice")

	if got := f.users.status("alice"); got != model.SyncStatusAccountInactive {
		t.Errorf("期望 ACCOUNT_INACTIVE，实际: %s", got)
	}
}

func TestSyncService_Start_ErrorCodeIsStable(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = failure("Error: table layout changed")

	f.sync(t, "alice")
	first := f.users.status("alice")
	code, ok := first.ErrorCode()
	if !ok {
		t.Fatalf("期望 FAILED-<code>，实际: %s", first)
	}
	if code < 100 || code > 999 {
		t.Errorf("期望 3 位错误码，实际: %d", code)
	}
	ev, _ := f.emitter.last(notify.EventSyncFail)
	want := fmt.Sprintf("Sync Error (%d). Contact Support.", code)
	if ev.data["message"] != want {
		t.Errorf("期望 %q，实际: %v", want, ev.data["message"])
	}

	f.sync(t, "alice")
	if second := f.users.status("alice"); second != first {
		t.Errorf("期望同一消息复用错误码 %s，实际: %s", first, second)
	}
	if len(f.errs.sync) != 1 || f.errs.sync[0].Error != "table layout changed" {
		t.Errorf("期望登记 1 条去掉前缀的错误，实际: %+v", f.errs.sync)
	}
}

func TestSyncService_Start_ScraperUnavailable(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.startErr = errors.New("exec: not found")

	_, err := f.svc.Start(context.Background(), "alice", &dto.SyncRequest{SchoolPassword: "pw"})
	if !errors.Is(err, ErrScrapeUnavailable) {
		t.Fatalf("期望 ErrScrapeUnavailable，实际: %v", err)
	}
	if got := f.users.status("alice"); got != model.SyncStatusFailed {
		t.Errorf("期望 FAILED，实际: %s", got)
	}
	if _, ok := f.emitter.last(notify.EventSyncFailGeneral); !ok {
		t.Error("期望发送 sync-fail-general")
	}
	if len(f.errs.general) != 1 || f.errs.general[0].ErrorCode < 100000 {
		t.Errorf("期望登记 1 条 6 位系统错误，实际: %+v", f.errs.general)
	}
	// 锁已释放
	f.scraper.startErr = nil
	f.scraper.events = failure(model.ScrapeMsgIncorrectLogin)
	f.sync(t, "alice")
}

func TestSyncService_Start_StoreFailure(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = success("23-24", "S1", class("Biology", "Smith", asg(5, "Labs", 9)))
	f.users.setKeysErr = errors.New("connection reset")

	f.sync(t, "alice")

	if got := f.users.status("alice"); got != model.SyncStatusFailed {
		t.Errorf("期望 FAILED，实际: %s", got)
	}
	if _, ok := f.emitter.last(notify.EventSyncFailGeneral); !ok {
		t.Error("期望发送 sync-fail-general")
	}
}

func TestSyncService_Start_RejectsConcurrent(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = failure(model.ScrapeMsgIncorrectLogin)
	f.scraper.gate = make(chan struct{})

	if _, err := f.svc.Start(context.Background(), "alice", &dto.SyncRequest{SchoolPassword: "pw"}); err != nil {
		t.Fatalf("第一次 Start 应成功: %v", err)
	}
	_, err := f.svc.Start(context.Background(), "alice", &dto.SyncRequest{SchoolPassword: "pw"})
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("期望 ErrSyncInProgress，实际: %v", err)
	}
	close(f.scraper.gate)
	f.svc.Wait()

	f.scraper.gate = nil
	if _, err := f.svc.Start(context.Background(), "alice", &dto.SyncRequest{SchoolPassword: "pw"}); err != nil {
		t.Errorf("同步结束后 Start 应成功: %v", err)
	}
	f.svc.Wait()
}

func TestSyncService_Start_UserNotFound(t *testing.T) {
	f := setupTestSyncService()
	_, err := f.svc.Start(context.Background(), "nobody", &dto.SyncRequest{SchoolPassword: "pw"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("期望 ErrUserNotFound，实际: %v", err)
	}
}

// ── Status ──

func TestSyncService_Status_Messages(t *testing.T) {
	cases := []struct {
		status  model.SyncStatus
		success bool
		message string
	}{
		{model.SyncStatusAlreadyDone, true, "Already Synced!"},
		{model.SyncStatusNoData, false, "No PowerSchool grades found for this term."},
		{model.SyncStatusFailed, false, "Sync Failed."},
		{model.SyncStatusUpdating, false, "Did not sync"},
		{model.SyncStatusIdle, false, "Did not sync"},
		{model.SyncStatusHistory, false, "Syncing History..."},
		{model.SyncStatusAccountInactive, false, "Your PowerSchool account is no longer active."},
		{model.SyncStatusNotSyncing, false, "Not syncing"},
		{model.FailedWithCode(321), false, "Sync Failed. Error 321."},
	}
	for _, tc := range cases {
		f := setupTestSyncService()
		putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
		_ = f.users.SetSyncStatus(context.Background(), "alice", tc.status)

		resp, err := f.svc.Status(context.Background(), "alice")
		if err != nil {
			t.Fatalf("Status 应成功: %v", err)
		}
		if resp.Success != tc.success || resp.Message != tc.message {
			t.Errorf("状态 %q: 期望 (%v, %q)，实际 (%v, %q)", tc.status, tc.success, tc.message, resp.Success, resp.Message)
		}
	}
}

func TestSyncService_Status_CompleteReadOnce(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	_ = f.users.SetSyncStatus(context.Background(), "alice", model.SyncStatusComplete)

	first, _ := f.svc.Status(context.Background(), "alice")
	if first.Message != "Sync Complete!" {
		t.Errorf("期望 Sync Complete!，实际: %s", first.Message)
	}
	if got := f.users.status("alice"); got != model.SyncStatusAlreadyDone {
		t.Errorf("期望读取后变为 ALREADY_DONE，实际: %s", got)
	}
	second, _ := f.svc.Status(context.Background(), "alice")
	if second.Message != "Already Synced!" {
		t.Errorf("期望 Already Synced!，实际: %s", second.Message)
	}
}

// ── 历史回填 ──

func TestSyncService_RunHistory_MergesPastSemesters(t *testing.T) {
	f := setupTestSyncService()
	live := bookWith("23-24", "S1", class("Physics", "Ng", asg(30, "Labs", 9)))
	past := class("Biology", "Smith", asg(5, "Labs", 9))
	live.Grades.Set("22-23", "S2", []model.ClassGrade{past})
	live.Reconcile()
	putUser(t, f.users, "alice", model.SchoolBellarmine, live)

	history := model.TermMap[[]model.ClassGrade]{}
	changed := class("Biology", "Smith")
	changed.OverallPercent = model.NumberScore(93)
	history.Set("22-23", "S2", []model.ClassGrade{changed})
	history.Set("22-23", "S1", []model.ClassGrade{class("Algebra", "Kim", asg(41, "Tests", 8))})
	history.Set("23-24", "S1", []model.ClassGrade{class("Physics", "Ng")})
	f.scraper.history = []scraper.Event{
		{Progress: &scraper.Progress{Progress: 50, Message: "Loading history"}},
		{Result: &scraper.Result{Success: true, NewGrades: history}},
	}

	if err := f.svc.RunHistory(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("RunHistory 应成功: %v", err)
	}

	data := f.users.data("alice")
	if !data.Grades.Has("22-23", "S1") {
		t.Error("期望合并新的历史学期")
	}
	bio, _ := data.Grades.Get("22-23", "S2")
	if len(bio[0].Grades) != 1 {
		t.Errorf("期望历史课程无作业时保留原作业，实际: %d", len(bio[0].Grades))
	}
	physics, _ := data.Grades.Get("23-24", "S1")
	if len(physics[0].Grades) != 1 {
		t.Error("期望不覆盖当前学期")
	}
	if len(data.UpdatedGradeHistory) != 1 {
		t.Errorf("期望追加 1 条 updatedGradeHistory，实际: %d", len(data.UpdatedGradeHistory))
	}
	entry := lastAlert(t, data)
	if overall := entry.ChangeData.Overall["Biology"]; overall == nil || overall["overall_percent"] == nil {
		t.Errorf("期望记录 Biology 总评变化，实际: %v", entry.ChangeData.Overall)
	}
	if ts, ok := data.UpdateStartTimestamps.Get("22-23", "S1"); !ok || ts != 0 {
		t.Errorf("期望新学期起始时间戳为 0，实际: %d (%v)", ts, ok)
	}
	if f.emitter.count(notify.EventSyncProgressHistory) != 1 {
		t.Error("期望发送 sync-progress-history")
	}
	if _, ok := f.emitter.last(notify.EventSyncSuccessHistory); !ok {
		t.Error("期望发送 sync-success-history")
	}
}

func TestSyncService_RunHistory_Failure(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	_ = f.users.SetSyncStatus(context.Background(), "alice", model.SyncStatusHistory)
	f.scraper.history = failure("History unavailable")

	if err := f.svc.RunHistory(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("门户返回失败不应视为错误: %v", err)
	}
	ev, ok := f.emitter.last(notify.EventSyncFailHistory)
	if !ok || ev.data["message"] != "History unavailable" {
		t.Errorf("期望 sync-fail-history 携带原消息，实际: %+v", ev)
	}
	if got := f.users.status("alice"); got != model.SyncStatusComplete {
		t.Errorf("期望回填失败后同样写入 COMPLETE，实际: %s", got)
	}
}

func TestSyncService_RunHistory_KeepsForeignStatus(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	_ = f.users.SetSyncStatus(context.Background(), "alice", model.FailedWithCode(123))
	f.scraper.history = success("22-23", "S2", class("Biology", "Smith", asg(5, "Labs", 9)))

	if err := f.svc.RunHistory(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("RunHistory 应成功: %v", err)
	}
	if got := f.users.status("alice"); got != model.FailedWithCode(123) {
		t.Errorf("期望保留其他同步写入的状态，实际: %s", got)
	}
}

func TestSyncService_HistoryJobRunsAfterSync(t *testing.T) {
	f := setupTestSyncService()
	putUser(t, f.users, "alice", model.SchoolBellarmine, model.UserData{})
	f.scraper.events = success("23-24", "S1", class("Physics", "Ng", asg(30, "Labs", 9)))
	f.scraper.history = success("22-23", "S2", class("Biology", "Smith", asg(5, "Labs", 9)))

	f.sync(t, "alice")

	jobs := f.jobs.taken()
	if len(jobs) != 1 {
		t.Fatalf("期望 1 个历史回填任务，实际: %d", len(jobs))
	}

	// 任务执行前轮询看到的是回填中
	resp, err := f.svc.Status(context.Background(), "alice")
	if err != nil || resp.Status != string(model.SyncStatusHistory) || resp.Message != "Syncing History..." {
		t.Fatalf("期望回填期间状态为 Syncing History...，实际: %+v %v", resp, err)
	}
	if again, _ := f.svc.Status(context.Background(), "alice"); again.Status != string(model.SyncStatusHistory) {
		t.Errorf("HISTORY 不应被读取消耗，实际: %s", again.Status)
	}

	if err := jobs[0].Run(context.Background()); err != nil {
		t.Fatalf("历史回填任务应成功: %v", err)
	}
	resp, _ = f.svc.Status(context.Background(), "alice")
	if !resp.Success || resp.Message != "Sync Complete!" {
		t.Errorf("期望回填结束后 Sync Complete!，实际: %+v", resp)
	}
	req := f.scraper.lastRequest()
	if !req.History || req.Password != "pw" {
		t.Errorf("期望历史模式并沿用本次密码，实际: %+v", req)
	}
	if !f.users.data("alice").Grades.Has("22-23", "S2") {
		t.Error("期望写入历史学期")
	}
}
