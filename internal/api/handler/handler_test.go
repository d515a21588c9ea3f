package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/api/middleware"
	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/migration"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/service"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
	"github.com/graderoom/graderoom/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock SyncService ──

type mockSyncService struct {
	startResult  *dto.SyncTicketResponse
	startErr     error
	statusResult *dto.SyncStatusResponse
	statusErr    error
	gotUsername  string
	gotPassword  string
}

func (m *mockSyncService) Start(_ context.Context, username string, req *dto.SyncRequest) (*dto.SyncTicketResponse, error) {
	m.gotUsername, m.gotPassword = username, req.SchoolPassword
	return m.startResult, m.startErr
}
func (m *mockSyncService) Status(_ context.Context, _ string) (*dto.SyncStatusResponse, error) {
	return m.statusResult, m.statusErr
}
func (m *mockSyncService) RunHistory(_ context.Context, _, _ string) error { return nil }
func (m *mockSyncService) Wait()                                          {}

// ── Mock UserService ──

type mockUserService struct {
	createResult *dto.UserResponse
	createErr    error
	getResult    *dto.UserResponse
	listResult   []dto.UserResponse
	listTotal    int64
	grades       *dto.GradesResponse
	gradesErr    error
	hasSemester  bool
	sortingErr   error
	gotQuery     *dto.TermQuery
	gotSorting   *dto.SortingRequest
}

func (m *mockUserService) Create(_ context.Context, _ *dto.CreateUserRequest) (*dto.UserResponse, error) {
	return m.createResult, m.createErr
}
func (m *mockUserService) Get(_ context.Context, _ string) (*dto.UserResponse, error) {
	return m.getResult, nil
}
func (m *mockUserService) List(_ context.Context, _ *dto.PaginationRequest) ([]dto.UserResponse, int64, error) {
	return m.listResult, m.listTotal, nil
}
func (m *mockUserService) Grades(_ context.Context, _ string, q *dto.TermQuery) (*dto.GradesResponse, error) {
	m.gotQuery = q
	return m.grades, m.gradesErr
}
func (m *mockUserService) Alerts(_ context.Context, _ string, q *dto.TermQuery) (*dto.AlertsResponse, error) {
	m.gotQuery = q
	return &dto.AlertsResponse{}, nil
}
func (m *mockUserService) HasSemester(_ context.Context, _ string, q *dto.TermQuery) (bool, error) {
	m.gotQuery = q
	return m.hasSemester, nil
}
func (m *mockUserService) UpdateSorting(_ context.Context, _ string, req *dto.SortingRequest) error {
	m.gotSorting = req
	return m.sortingErr
}
func (m *mockUserService) ResetSorting(_ context.Context, _ string) error { return m.sortingErr }

// ── Mock WeightService ──

type mockWeightService struct {
	setResult       *dto.SetWeightsResponse
	setErr          error
	canonicalResult *dto.SetCanonicalResponse
	canonicalErr    error
	relevant        map[string]dto.RelevantClass
}

func (m *mockWeightService) ReconcileBook(_ context.Context, _, _ string, _ *model.GradeBook, _ service.Scope) {
}
func (m *mockWeightService) ReconcileClasses(_ context.Context, _ string, _ service.Scope) error {
	return nil
}
func (m *mockWeightService) SetUserWeights(_ context.Context, _ string, _ *dto.SetWeightsRequest) (*dto.SetWeightsResponse, error) {
	return m.setResult, m.setErr
}
func (m *mockWeightService) AddSuggestion(_ context.Context, _ string, _ model.ClassKey, _ string, _ model.WeightScheme) error {
	return nil
}
func (m *mockWeightService) SetCanonical(_ context.Context, _ *dto.SetCanonicalRequest) (*dto.SetCanonicalResponse, error) {
	return m.canonicalResult, m.canonicalErr
}
func (m *mockWeightService) RelevantClassData(_ context.Context, _, _, _ string) (map[string]dto.RelevantClass, error) {
	return m.relevant, nil
}

// ── Mock OverrideService ──

type mockOverrideService struct {
	addedErr  error
	editedErr error
	gotReq    *dto.UpdateOverridesRequest
}

func (m *mockOverrideService) UpdateAdded(_ context.Context, _ string, req *dto.UpdateOverridesRequest) error {
	m.gotReq = req
	return m.addedErr
}
func (m *mockOverrideService) UpdateEdited(_ context.Context, _ string, req *dto.UpdateOverridesRequest) error {
	m.gotReq = req
	return m.editedErr
}

// ── Mock ExportService ──

type mockExportService struct {
	buf      *bytes.Buffer
	filename string
	err      error
}

func (m *mockExportService) ExportGrades(_ context.Context, _ string, _ *dto.TermQuery) (*bytes.Buffer, string, error) {
	return m.buf, m.filename, m.err
}

// ── Mock ErrorService ──

type mockErrorService struct {
	lookup    *dto.ErrorLookupResponse
	lookupErr error
}

func (m *mockErrorService) LogError(_ context.Context, _, _ string) (int, error)  { return 0, nil }
func (m *mockErrorService) LogGeneralError(_ context.Context, _ string) (int, error) { return 0, nil }
func (m *mockErrorService) Lookup(_ context.Context, _ int) (*dto.ErrorLookupResponse, error) {
	return m.lookup, m.lookupErr
}

// ── Mock CatalogService ──

type mockCatalogService struct {
	parsed    []byte
	importRes *dto.ImportCatalogResponse
	gotSchool string
}

func (m *mockCatalogService) ParseImportFile(r io.Reader) ([]service.CatalogRow, error) {
	m.parsed, _ = io.ReadAll(r)
	return []service.CatalogRow{{Row: 2, Fields: map[string]string{"class_name": "Biology"}}}, nil
}
func (m *mockCatalogService) Import(_ context.Context, school string, _ []service.CatalogRow) (*dto.ImportCatalogResponse, error) {
	m.gotSchool = school
	return m.importRes, nil
}
func (m *mockCatalogService) List(_ context.Context, _ string) ([]model.CatalogEntry, error) {
	return nil, nil
}

// ── Mock Sweeper / WSServer ──

type mockSweeper struct{}

func (mockSweeper) Sweep(context.Context) (migration.SweepReport, migration.SweepReport, error) {
	return migration.SweepReport{Total: 3, Upgraded: 2, Failed: 1}, migration.SweepReport{Total: 5, Upgraded: 5}, nil
}

type mockWS struct{ username string }

func (m *mockWS) ServeWS(w http.ResponseWriter, _ *http.Request, username string) {
	m.username = username
	w.WriteHeader(http.StatusSwitchingProtocols)
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

// perform 注册单条路由并以 alice 身份发起请求；username 为空时模拟未认证
func perform(route, method, target string, body io.Reader, h gin.HandlerFunc, username string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, route, func(c *gin.Context) {
		if username != "" {
			c.Set(middleware.ContextUsername, username)
			c.Set(middleware.ContextRole, "admin")
		}
	}, h)
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

var nop = zap.NewNop()

// ═══════════════════════════════════════════════════════════
// SyncHandler Tests
// ═══════════════════════════════════════════════════════════

func TestSyncHandler_Start_Accepted(t *testing.T) {
	mock := &mockSyncService{startResult: &dto.SyncTicketResponse{SyncID: "01H", Status: "UPDATING"}}
	h := NewSyncHandler(mock, nop)

	w := perform("/sync", "POST", "/sync", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), h.Start, "alice")

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if mock.gotUsername != "alice" || mock.gotPassword != "pw" {
		t.Errorf("期望以调用方身份发起同步，实际: %s/%s", mock.gotUsername, mock.gotPassword)
	}
	data := parseResponse(w).Data.(map[string]interface{})
	if data["sync_id"] != "01H" || data["status"] != "UPDATING" {
		t.Errorf("ticket 不符: %v", data)
	}
}

func TestSyncHandler_Start_Errors(t *testing.T) {
	cases := []struct {
		name     string
		body     io.Reader
		username string
		err      error
		status   int
		code     int
	}{
		{"未认证", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), "", nil, http.StatusUnauthorized, response.CodeUnauthorized},
		{"缺少密码", strings.NewReader(`{}`), "alice", nil, http.StatusBadRequest, response.CodeValidation},
		{"同步进行中", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), "alice", service.ErrSyncInProgress, http.StatusConflict, response.CodeSyncBusy},
		{"用户不存在", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), "alice", service.ErrUserNotFound, http.StatusNotFound, response.CodeNotFound},
		{"未归类", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), "alice", fmt.Errorf("db down"), http.StatusInternalServerError, response.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSyncHandler(&mockSyncService{startErr: tc.err}, nop)
			w := perform("/sync", "POST", "/sync", tc.body, h.Start, tc.username)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if resp := parseResponse(w); resp.Code != tc.code {
				t.Errorf("expected code %d, got %d", tc.code, resp.Code)
			}
		})
	}
}

func TestSyncHandler_Start_ScraperUnavailable(t *testing.T) {
	err := fmt.Errorf("%w: Something went wrong. Error %d.", service.ErrScrapeUnavailable, 104321)
	h := NewSyncHandler(&mockSyncService{startErr: err}, nop)

	w := perform("/sync", "POST", "/sync", jsonBody(dto.SyncRequest{SchoolPassword: "pw"}), h.Start, "alice")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if msg := parseResponse(w).Message; msg != "Something went wrong. Error 104321." {
		t.Errorf("期望只展示错误码提示，实际: %q", msg)
	}
}

func TestSyncHandler_Status(t *testing.T) {
	mock := &mockSyncService{statusResult: &dto.SyncStatusResponse{Success: true, Status: "COMPLETE", Message: "Sync Complete!"}}
	h := NewSyncHandler(mock, nop)

	w := perform("/sync/status", "GET", "/sync/status", nil, h.Status, "alice")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := parseResponse(w).Data.(map[string]interface{})
	if data["message"] != "Sync Complete!" || data["success"] != true {
		t.Errorf("状态不符: %v", data)
	}
}

// ═══════════════════════════════════════════════════════════
// GradesHandler Tests
// ═══════════════════════════════════════════════════════════

func TestGradesHandler_Grades_TermQuery(t *testing.T) {
	mock := &mockUserService{grades: &dto.GradesResponse{Term: "23-24", Semester: "S1"}}
	h := NewGradesHandler(mock, nop)

	w := perform("/grades", "GET", "/grades", nil, h.Grades, "alice")
	if w.Code != http.StatusOK || mock.gotQuery != nil {
		t.Fatalf("期望不带参数时取最近学期，got %d %+v", w.Code, mock.gotQuery)
	}

	w = perform("/grades", "GET", "/grades?term=22-23&semester=S2", nil, h.Grades, "alice")
	if w.Code != http.StatusOK || mock.gotQuery == nil || mock.gotQuery.Term != "22-23" || mock.gotQuery.Semester != "S2" {
		t.Fatalf("期望透传学期参数，got %d %+v", w.Code, mock.gotQuery)
	}
}

func TestGradesHandler_Grades_BadTerm(t *testing.T) {
	h := NewGradesHandler(&mockUserService{}, nop)

	for _, target := range []string{"/grades?term=2023&semester=S1", "/grades?term=23-24", "/grades?term=23-24&semester=X"} {
		w := perform("/grades", "GET", target, nil, h.Grades, "alice")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestGradesHandler_Grades_SemesterMissing(t *testing.T) {
	h := NewGradesHandler(&mockUserService{gradesErr: service.ErrSemesterMissing}, nop)

	w := perform("/grades", "GET", "/grades?term=23-24&semester=S1", nil, h.Grades, "alice")

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if msg := parseResponse(w).Message; msg != "该学期没有成绩" {
		t.Errorf("期望去掉类别前缀，实际: %q", msg)
	}
}

func TestGradesHandler_HasSemester(t *testing.T) {
	h := NewGradesHandler(&mockUserService{hasSemester: true}, nop)

	w := perform("/semesters/has", "GET", "/semesters/has?term=23-24&semester=S1", nil, h.HasSemester, "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if data := parseResponse(w).Data.(map[string]interface{}); data["has_semester"] != true {
		t.Errorf("期望 has_semester=true，实际: %v", data)
	}

	w = perform("/semesters/has", "GET", "/semesters/has", nil, h.HasSemester, "alice")
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望缺少参数返回 400，got %d", w.Code)
	}
}

func TestGradesHandler_Sorting(t *testing.T) {
	mock := &mockUserService{}
	h := NewGradesHandler(mock, nop)

	w := perform("/sorting", "PUT", "/sorting", strings.NewReader(`{"dateSort":[true],"categorySort":[]}`), h.UpdateSorting, "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotSorting == nil || len(mock.gotSorting.DateSort) != 1 {
		t.Errorf("排序数据未透传: %+v", mock.gotSorting)
	}

	w = perform("/sorting", "PUT", "/sorting", strings.NewReader(`{"dateSort":[true]}`), h.UpdateSorting, "alice")
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望缺少 categorySort 返回 400，got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// WeightHandler / AssignmentHandler Tests
// ═══════════════════════════════════════════════════════════

func TestWeightHandler_SetWeights(t *testing.T) {
	hasWeights := true
	req := dto.SetWeightsRequest{
		Term: "23-24", Semester: "S1", ClassName: "Biology", HasWeights: &hasWeights,
		Weights: model.Weights{"Labs": model.W(60), "Tests": model.W(40)},
	}

	h := NewWeightHandler(&mockWeightService{setResult: &dto.SetWeightsResponse{Message: "Changed weights for Biology"}}, nop)
	w := perform("/weights", "PUT", "/weights", jsonBody(req), h.SetWeights, "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	h = NewWeightHandler(&mockWeightService{setErr: service.ErrClassNotInGrades}, nop)
	w = perform("/weights", "PUT", "/weights", jsonBody(req), h.SetWeights, "alice")
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望课程不在成绩中返回 400，got %d", w.Code)
	}

	w = perform("/weights", "PUT", "/weights", strings.NewReader(`{"term":"23-24","semester":"S1","className":"Biology","weights":{}}`), h.SetWeights, "alice")
	if w.Code != http.StatusBadRequest {
		t.Errorf("期望缺少 hasWeights 返回 400，got %d", w.Code)
	}
}

func TestWeightHandler_RelevantClasses(t *testing.T) {
	h := NewWeightHandler(&mockWeightService{relevant: map[string]dto.RelevantClass{"Biology": {Department: "Science"}}}, nop)

	w := perform("/classes/relevant", "GET", "/classes/relevant?term=23-24&semester=S1", nil, h.RelevantClasses, "alice")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := parseResponse(w).Data.(map[string]interface{})
	if bio, ok := data["Biology"].(map[string]interface{}); !ok || bio["department"] != "Science" {
		t.Errorf("课程数据不符: %v", data)
	}
}

func TestAssignmentHandler_UpdateAdded(t *testing.T) {
	mock := &mockOverrideService{}
	h := NewAssignmentHandler(mock, nop)
	body := `{"term":"23-24","semester":"S1","classes":[{"className":"Biology","data":[]}]}`

	w := perform("/assignments/added", "PUT", "/assignments/added", strings.NewReader(body), h.UpdateAdded, "alice")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotReq == nil || !strings.Contains(string(mock.gotReq.Classes), "Biology") {
		t.Errorf("期望原样透传 classes，实际: %+v", mock.gotReq)
	}
}

func TestAssignmentHandler_UpdateEdited_Invalid(t *testing.T) {
	err := fmt.Errorf("%w: 不可编辑字段 %q", service.ErrInvalidOverride, "date")
	h := NewAssignmentHandler(&mockOverrideService{editedErr: err}, nop)
	body := `{"term":"23-24","semester":"S1","classes":[]}`

	w := perform("/assignments/edited", "PUT", "/assignments/edited", strings.NewReader(body), h.UpdateEdited, "alice")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := parseResponse(w); !strings.Contains(resp.Message, `"date"`) {
		t.Errorf("期望返回具体原因，实际: %q", resp.Message)
	}
}

// ═══════════════════════════════════════════════════════════
// ExportHandler / NotifyHandler Tests
// ═══════════════════════════════════════════════════════════

func TestExportHandler_ExportGrades(t *testing.T) {
	mock := &mockExportService{buf: bytes.NewBufferString("PK"), filename: "grades_alice_23-24_S1.xlsx"}
	h := NewExportHandler(mock, nop)

	w := perform("/export/grades", "GET", "/export/grades?term=23-24&semester=S1", nil, h.ExportGrades, "alice")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxMIME {
		t.Errorf("Content-Type 不符: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "grades_alice_23-24_S1.xlsx") {
		t.Errorf("Content-Disposition 不符: %s", cd)
	}
	if w.Body.String() != "PK" {
		t.Errorf("期望返回文件内容，实际: %q", w.Body.String())
	}
}

func TestExportHandler_SemesterMissing(t *testing.T) {
	h := NewExportHandler(&mockExportService{err: service.ErrSemesterMissing}, nop)

	w := perform("/export/grades", "GET", "/export/grades", nil, h.ExportGrades, "alice")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestNotifyHandler_Connect(t *testing.T) {
	ws := &mockWS{}
	h := NewNotifyHandler(ws)

	perform("/ws", "GET", "/ws", nil, h.Connect, "alice")
	if ws.username != "alice" {
		t.Errorf("期望按调用方订阅，实际: %q", ws.username)
	}

	ws.username = ""
	w := perform("/ws", "GET", "/ws", nil, h.Connect, "")
	if w.Code != http.StatusUnauthorized || ws.username != "" {
		t.Errorf("期望未认证时不建立连接，got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// AdminHandler Tests
// ═══════════════════════════════════════════════════════════

func newTestAdmin(users *mockUserService, errs *mockErrorService, catalog *mockCatalogService) *AdminHandler {
	return NewAdminHandler(users, &mockWeightService{canonicalResult: &dto.SetCanonicalResponse{SuggestionsRemoved: 1}}, errs, catalog, mockSweeper{}, nop)
}

func TestAdminHandler_CreateUser(t *testing.T) {
	body := dto.CreateUserRequest{Username: "alice", School: model.SchoolBellarmine, SchoolUsername: "alice@school"}

	h := newTestAdmin(&mockUserService{createResult: &dto.UserResponse{Username: "alice"}}, &mockErrorService{}, &mockCatalogService{})
	if w := perform("/admin/users", "POST", "/admin/users", jsonBody(body), h.CreateUser, "root"); w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}

	h = newTestAdmin(&mockUserService{createErr: service.ErrUserExists}, &mockErrorService{}, &mockCatalogService{})
	if w := perform("/admin/users", "POST", "/admin/users", jsonBody(body), h.CreateUser, "root"); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	body.School = "stanford"
	if w := perform("/admin/users", "POST", "/admin/users", jsonBody(body), h.CreateUser, "root"); w.Code != http.StatusBadRequest {
		t.Errorf("期望未知学校返回 400，got %d", w.Code)
	}
}

func TestAdminHandler_ListUsers(t *testing.T) {
	users := &mockUserService{listResult: []dto.UserResponse{{Username: "alice"}}, listTotal: 41}
	h := newTestAdmin(users, &mockErrorService{}, &mockCatalogService{})

	w := perform("/admin/users", "GET", "/admin/users?page=2&page_size=20", nil, h.ListUsers, "root")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	page := parseResponse(w).Data.(map[string]interface{})["pagination"].(map[string]interface{})
	if page["total_pages"] != float64(3) || page["page"] != float64(2) {
		t.Errorf("分页信息不符: %v", page)
	}
}

func TestAdminHandler_SetCanonical(t *testing.T) {
	hasWeights := true
	h := newTestAdmin(&mockUserService{}, &mockErrorService{}, &mockCatalogService{})
	req := dto.SetCanonicalRequest{
		School: model.SchoolBellarmine, Term: "23-24", Semester: "S1", ClassName: "Biology",
		TeacherName: "Smith", HasWeights: &hasWeights, Weights: model.Weights{"Labs": model.W(100)},
	}

	w := perform("/admin/classes/weights", "PUT", "/admin/classes/weights", jsonBody(req), h.SetCanonical, "root")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if data := parseResponse(w).Data.(map[string]interface{}); data["suggestions_removed"] != float64(1) {
		t.Errorf("结果不符: %v", data)
	}
}

func TestAdminHandler_LookupError(t *testing.T) {
	general := "pq: connection refused"
	errs := &mockErrorService{lookup: &dto.ErrorLookupResponse{Code: 104321, General: &general}}
	h := newTestAdmin(&mockUserService{}, errs, &mockCatalogService{})

	if w := perform("/admin/errors/:code", "GET", "/admin/errors/104321", nil, h.LookupError, "root"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := perform("/admin/errors/:code", "GET", "/admin/errors/abc", nil, h.LookupError, "root"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	errs.lookupErr = service.ErrErrorCodeNotFound
	if w := perform("/admin/errors/:code", "GET", "/admin/errors/999", nil, h.LookupError, "root"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAdminHandler_Sweep(t *testing.T) {
	h := newTestAdmin(&mockUserService{}, &mockErrorService{}, &mockCatalogService{})

	w := perform("/admin/migrations/sweep", "POST", "/admin/migrations/sweep", nil, h.Sweep, "root")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Data dto.SweepResponse `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Classes.Failed != 1 || resp.Data.Users.Upgraded != 5 {
		t.Errorf("扫描统计不符: %+v", resp.Data)
	}
}

func multipartCatalog(t *testing.T, school string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if school != "" {
		mw.WriteField("school", school)
	}
	if content != nil {
		fw, err := mw.CreateFormFile("file", "catalog.xlsx")
		if err != nil {
			t.Fatalf("创建表单失败: %v", err)
		}
		fw.Write(content)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAdminHandler_ImportCatalog(t *testing.T) {
	catalog := &mockCatalogService{importRes: &dto.ImportCatalogResponse{Total: 1, Success: 1}}
	h := newTestAdmin(&mockUserService{}, &mockErrorService{}, catalog)

	r := gin.New()
	r.POST("/admin/catalog/import", h.ImportCatalog)

	body, contentType := multipartCatalog(t, model.SchoolBellarmine, []byte("xlsx-bytes"))
	req := httptest.NewRequest("POST", "/admin/catalog/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if string(catalog.parsed) != "xlsx-bytes" || catalog.gotSchool != model.SchoolBellarmine {
		t.Errorf("期望读取上传文件并按学校导入，实际: %q %q", catalog.parsed, catalog.gotSchool)
	}

	for name, school := range map[string]string{"缺少文件": model.SchoolBellarmine, "学校不合法": "stanford"} {
		var content []byte
		if name != "缺少文件" {
			content = []byte("x")
		}
		body, contentType := multipartCatalog(t, school, content)
		req := httptest.NewRequest("POST", "/admin/catalog/import", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

// ═══════════════════════════════════════════════════════════
// handleError
// ═══════════════════════════════════════════════════════════

func TestHandleError_Taxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{pkgerrors.ErrOptimisticLock, http.StatusConflict},
		{fmt.Errorf("%w: x", pkgerrors.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: x", pkgerrors.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", pkgerrors.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: x", pkgerrors.ErrUnclassified), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/", nil)
		handleError(c, nop, tc.err)
		if w.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, w.Code)
		}
	}
}
