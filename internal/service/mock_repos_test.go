package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/notify"
	"github.com/graderoom/graderoom/internal/scraper"
	"github.com/graderoom/graderoom/internal/worker"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// jsonClone 经 JSON 往返得到与数据库读取一致的文档形态
func jsonClone(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

func cloneDoc(doc datatypes.JSONMap) datatypes.JSONMap {
	if doc == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(jsonClone(map[string]any(doc)).(map[string]any))
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	mu       sync.Mutex
	users    map[string]*model.User
	statuses []model.SyncStatus
	// setKeysErr 非 nil 时 SetDocumentKeys 返回该错误
	setKeysErr error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) put(user *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	cp.Document = cloneDoc(user.Document)
	m.users[cp.Username] = &cp
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return gorm.ErrDuplicatedKey
	}
	cp := *user
	cp.Document = cloneDoc(user.Document)
	m.users[cp.Username] = &cp
	return nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	cp.Document = cloneDoc(u.Document)
	return &cp, nil
}

func (m *mockUserRepo) List(_ context.Context, offset, limit int) ([]model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.users))
	for name := range m.users {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []model.User
	for i := offset; i < len(names) && len(out) < limit; i++ {
		out = append(out, *m.users[names[i]])
	}
	return out, int64(len(names)), nil
}

func (m *mockUserRepo) ListBehind(_ context.Context, target int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, u := range m.users {
		if u.Version < target {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockUserRepo) CompareAndSwapDocument(_ context.Context, username string, doc datatypes.JSONMap, from, to int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok || u.Version != from {
		return false, nil
	}
	u.Document = cloneDoc(doc)
	u.Version = to
	return true, nil
}

func (m *mockUserRepo) SetDocumentKeys(_ context.Context, username string, keys map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setKeysErr != nil {
		return m.setKeysErr
	}
	u, ok := m.users[username]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for k, v := range keys {
		u.Document[k] = jsonClone(v)
	}
	return nil
}

func (m *mockUserRepo) AppendAlert(_ context.Context, username string, entry model.UpdateEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	alerts, _ := u.Document["alerts"].(map[string]any)
	if alerts == nil {
		alerts = map[string]any{}
	}
	list, _ := alerts["lastUpdated"].([]any)
	alerts["lastUpdated"] = append(list, jsonClone(entry))
	u.Document["alerts"] = alerts
	return nil
}

func (m *mockUserRepo) AppendGradeHistory(_ context.Context, username string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	list, _ := u.Document["updatedGradeHistory"].([]any)
	u.Document["updatedGradeHistory"] = append(list, float64(ts))
	return nil
}

func (m *mockUserRepo) PushErrorCode(_ context.Context, username string, code int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	list, _ := u.Document["errors"].([]any)
	u.Document["errors"] = append(list, float64(code))
	return nil
}

func (m *mockUserRepo) SetSyncStatus(_ context.Context, username string, status model.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.SyncStatus = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockUserRepo) ConsumeCompleted(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok || u.SyncStatus != model.SyncStatusComplete {
		return false, nil
	}
	u.SyncStatus = model.SyncStatusAlreadyDone
	return true, nil
}

func (m *mockUserRepo) status(username string) model.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[username].SyncStatus
}

func (m *mockUserRepo) data(username string) *model.UserData {
	u, err := m.GetByUsername(context.Background(), username)
	if err != nil {
		panic(err)
	}
	d, err := u.Data()
	if err != nil {
		panic(err)
	}
	return d
}

// ── Mock ClassRepository ──

type mockClassRepo struct {
	mu      sync.Mutex
	classes map[model.ClassKey]*model.Class
	seq     int
	// conflicts UpdateTeacher 先返回若干次乐观锁冲突
	conflicts int
}

func newMockClassRepo() *mockClassRepo {
	return &mockClassRepo{classes: make(map[model.ClassKey]*model.Class)}
}

func (m *mockClassRepo) Get(_ context.Context, key model.ClassKey) (*model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	cp.Teachers = append([]model.ClassTeacher(nil), c.Teachers...)
	return &cp, nil
}

func (m *mockClassRepo) GetByID(_ context.Context, classID string) (*model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.classes {
		if c.ClassID == classID {
			cp := *c
			cp.Teachers = append([]model.ClassTeacher(nil), c.Teachers...)
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockClassRepo) ListBySemester(_ context.Context, school, term, semester string) ([]model.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Class
	for k, c := range m.classes {
		if k.School == school && k.Term == term && k.Semester == semester {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockClassRepo) EnsureTeacher(ctx context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error) {
	m.mu.Lock()
	c, ok := m.classes[key]
	if !ok {
		m.seq++
		c = &model.Class{
			ClassID:   fmt.Sprintf("class-%d", m.seq),
			School:    key.School,
			Term:      key.Term,
			Semester:  key.Semester,
			ClassName: key.ClassName,
			Version:   model.CurrentClassVersion,
		}
		m.classes[key] = c
	}
	if c.Teacher(teacherName) == nil {
		m.seq++
		t := model.NewClassTeacher(c.ClassID, teacherName)
		t.TeacherID = fmt.Sprintf("teacher-%d", m.seq)
		t.Version = 1
		c.Teachers = append(c.Teachers, t)
	}
	m.mu.Unlock()
	return m.GetTeacher(ctx, key, teacherName)
}

func (m *mockClassRepo) GetTeacher(_ context.Context, key model.ClassKey, teacherName string) (*model.ClassTeacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	t := c.Teacher(teacherName)
	if t == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	// JSONType 内部为值，复制 Suggestions 切片避免共享
	cp.Suggestions = datatypes.NewJSONType(append([]model.Suggestion(nil), t.Suggestions.Data()...))
	return &cp, nil
}

func (m *mockClassRepo) UpdateTeacher(_ context.Context, teacher *model.ClassTeacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return pkgerrors.ErrOptimisticLock
	}
	for _, c := range m.classes {
		for i := range c.Teachers {
			t := &c.Teachers[i]
			if t.TeacherID != teacher.TeacherID {
				continue
			}
			if t.Version != teacher.Version {
				return pkgerrors.ErrOptimisticLock
			}
			teacher.Version++
			*t = *teacher
			return nil
		}
	}
	return pkgerrors.ErrOptimisticLock
}

func (m *mockClassRepo) ListBehind(_ context.Context, target int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range m.classes {
		if c.Version < target {
			ids = append(ids, c.ClassID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockClassRepo) CompareAndSwap(_ context.Context, class *model.Class, from, to int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.classes {
		if c.ClassID == class.ClassID {
			if c.Version != from {
				return false, nil
			}
			teachers := append([]model.ClassTeacher(nil), class.Teachers...)
			for i := range teachers {
				stored := c.Teacher(teachers[i].TeacherName)
				if stored == nil || stored.Version != teachers[i].Version {
					return false, pkgerrors.ErrOptimisticLock
				}
				teachers[i].Version++
			}
			cp := *class
			cp.Version = to
			cp.Teachers = teachers
			m.classes[k] = &cp
			return true, nil
		}
	}
	return false, nil
}

func (m *mockClassRepo) setCanonical(key model.ClassKey, teacherName string, scheme model.WeightScheme) {
	_, _ = m.EnsureTeacher(context.Background(), key, teacherName)
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.classes[key].Teacher(teacherName)
	t.Weights = datatypes.NewJSONType(scheme.Weights)
	t.HasWeights = scheme.HasWeights
}

func (m *mockClassRepo) teacher(key model.ClassKey, teacherName string) *model.ClassTeacher {
	t, err := m.GetTeacher(context.Background(), key, teacherName)
	if err != nil {
		return nil
	}
	return t
}

// ── Mock CatalogRepository ──

type mockCatalogRepo struct {
	entries map[string]*model.CatalogEntry
}

func newMockCatalogRepo() *mockCatalogRepo {
	return &mockCatalogRepo{entries: make(map[string]*model.CatalogEntry)}
}

func (m *mockCatalogRepo) Get(_ context.Context, school, className string) (*model.CatalogEntry, error) {
	if e, ok := m.entries[school+"/"+className]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockCatalogRepo) ListBySchool(_ context.Context, school string) ([]model.CatalogEntry, error) {
	var out []model.CatalogEntry
	for _, e := range m.entries {
		if e.School == school {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassName < out[j].ClassName })
	return out, nil
}

func (m *mockCatalogRepo) Upsert(_ context.Context, entry *model.CatalogEntry) error {
	cp := *entry
	m.entries[entry.School+"/"+entry.ClassName] = &cp
	return nil
}

// ── Mock ErrorRepository ──

type mockErrorRepo struct {
	mu      sync.Mutex
	sync    []model.SyncError
	general []model.GeneralError
}

func newMockErrorRepo() *mockErrorRepo {
	return &mockErrorRepo{}
}

func (m *mockErrorRepo) FindSyncError(_ context.Context, username, message string) (*model.SyncError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sync {
		if m.sync[i].Username == username && m.sync[i].Error == message {
			e := m.sync[i]
			return &e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockErrorRepo) SyncCodeExists(_ context.Context, username string, code int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sync {
		if e.Username == username && e.ErrorCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockErrorRepo) CreateSyncError(_ context.Context, e *model.SyncError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.sync) + 1)
	m.sync = append(m.sync, *e)
	return nil
}

func (m *mockErrorRepo) ListSyncErrorsByCode(_ context.Context, code int) ([]model.SyncError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncError
	for _, e := range m.sync {
		if e.ErrorCode == code {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockErrorRepo) FindGeneralError(_ context.Context, message string) (*model.GeneralError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.general {
		if m.general[i].Error == message {
			e := m.general[i]
			return &e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockErrorRepo) GeneralCodeExists(_ context.Context, code int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.general {
		if e.ErrorCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockErrorRepo) CreateGeneralError(_ context.Context, e *model.GeneralError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.general) + 1)
	m.general = append(m.general, *e)
	return nil
}

func (m *mockErrorRepo) GetGeneralError(_ context.Context, code int) (*model.GeneralError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.general {
		if m.general[i].ErrorCode == code {
			e := m.general[i]
			return &e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Fake Scraper ──

// fakeScraper 按脚本依次返回事件；gate 非 nil 时在发送结果前等待
type fakeScraper struct {
	mu       sync.Mutex
	events   []scraper.Event
	history  []scraper.Event
	startErr error
	gate     chan struct{}
	requests []scraper.Request
}

func (f *fakeScraper) Scrape(ctx context.Context, req scraper.Request) (<-chan scraper.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	events := f.events
	if req.History {
		events = f.history
	}
	gate := f.gate
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	ch := make(chan scraper.Event)
	go func() {
		defer close(ch)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeScraper) lastRequest() scraper.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// ── Fake Emitter ──

type emitted struct {
	username string
	event    string
	data     map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(username, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, _ := jsonClone(data).(map[string]any)
	f.events = append(f.events, emitted{username: username, event: event, data: m})
}

func (f *fakeEmitter) last(event string) (emitted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i], true
		}
	}
	return emitted{}, false
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

var _ notify.Emitter = (*fakeEmitter)(nil)

// ── Fake JobSubmitter ──

type fakeJobs struct {
	mu   sync.Mutex
	jobs []worker.Job
}

func (f *fakeJobs) Submit(job worker.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeJobs) taken() []worker.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]worker.Job(nil), f.jobs...)
}
