package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
)

func setupTestErrorService() (*errorService, *mockErrorRepo, *mockUserRepo) {
	errs := newMockErrorRepo()
	users := newMockUserRepo()
	repo := &repository.Repository{User: users, Class: newMockClassRepo(), Catalog: newMockCatalogRepo(), Error: errs}
	return NewErrorService(repo, zap.NewNop()).(*errorService), errs, users
}

// sequence 依次返回给定偏移量
func sequence(values ...int) func(int) int {
	i := 0
	return func(int) int {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestErrorService_LogError_ReusesCode(t *testing.T) {
	svc, errs, _ := setupTestErrorService()
	svc.intN = sequence(23, 45)
	ctx := context.Background()

	code, err := svc.LogError(ctx, "alice", "table layout changed")
	if err != nil {
		t.Fatalf("LogError 应成功: %v", err)
	}
	if code != 123 {
		t.Errorf("期望错误码 123，实际: %d", code)
	}
	again, _ := svc.LogError(ctx, "alice", "table layout changed")
	if again != code {
		t.Errorf("期望同一消息复用错误码 %d，实际: %d", code, again)
	}
	other, _ := svc.LogError(ctx, "bob", "table layout changed")
	if other != 145 {
		t.Errorf("期望不同用户分配新错误码 145，实际: %d", other)
	}
	if len(errs.sync) != 2 {
		t.Errorf("期望登记 2 条记录，实际: %d", len(errs.sync))
	}
}

func TestErrorService_LogError_SkipsUsedCode(t *testing.T) {
	svc, _, users := setupTestErrorService()
	putUser(t, users, "alice", model.SchoolBellarmine, bookWith("23-24", "S1"))
	svc.intN = sequence(0, 0, 1)
	ctx := context.Background()

	first, _ := svc.LogError(ctx, "alice", "first")
	second, err := svc.LogError(ctx, "alice", "second")
	if err != nil {
		t.Fatalf("LogError 应成功: %v", err)
	}
	if first != 100 || second != 101 {
		t.Errorf("期望 100 与 101，实际: %d %d", first, second)
	}
	codes, _ := users.users["alice"].Document["errors"].([]any)
	if len(codes) != 2 || codes[1] != float64(101) {
		t.Errorf("期望用户错误码列表为 [100 101]，实际: %v", codes)
	}
}

func TestErrorService_LogError_Exhausted(t *testing.T) {
	svc, _, _ := setupTestErrorService()
	svc.intN = sequence(0)
	ctx := context.Background()

	if _, err := svc.LogError(ctx, "alice", "first"); err != nil {
		t.Fatalf("LogError 应成功: %v", err)
	}
	if _, err := svc.LogError(ctx, "alice", "second"); !errors.Is(err, ErrErrorCodeExhausted) {
		t.Errorf("期望 ErrErrorCodeExhausted，实际: %v", err)
	}
}

func TestErrorService_LogGeneralError(t *testing.T) {
	svc, _, _ := setupTestErrorService()
	svc.intN = sequence(4321)
	ctx := context.Background()

	code, err := svc.LogGeneralError(ctx, "connection reset")
	if err != nil {
		t.Fatalf("LogGeneralError 应成功: %v", err)
	}
	if code != 104321 {
		t.Errorf("期望错误码 104321，实际: %d", code)
	}
	if again, _ := svc.LogGeneralError(ctx, "connection reset"); again != code {
		t.Errorf("期望复用错误码，实际: %d", again)
	}
}

func TestErrorService_Lookup(t *testing.T) {
	svc, _, _ := setupTestErrorService()
	svc.intN = sequence(5)
	ctx := context.Background()
	syncCode, _ := svc.LogError(ctx, "alice", "table layout changed")
	generalCode, _ := svc.LogGeneralError(ctx, "connection reset")

	resp, err := svc.Lookup(ctx, syncCode)
	if err != nil {
		t.Fatalf("Lookup 应成功: %v", err)
	}
	if len(resp.Sync) != 1 || resp.Sync[0].Username != "alice" || resp.General != nil {
		t.Errorf("期望返回同步错误，实际: %+v", resp)
	}

	resp, err = svc.Lookup(ctx, generalCode)
	if err != nil {
		t.Fatalf("Lookup 应成功: %v", err)
	}
	if resp.General == nil || *resp.General != "connection reset" {
		t.Errorf("期望返回系统错误，实际: %+v", resp)
	}

	if _, err := svc.Lookup(ctx, 999); !errors.Is(err, ErrErrorCodeNotFound) {
		t.Errorf("期望 ErrErrorCodeNotFound，实际: %v", err)
	}
	if _, err := svc.Lookup(ctx, 999999); !errors.Is(err, ErrErrorCodeNotFound) {
		t.Errorf("期望 ErrErrorCodeNotFound，实际: %v", err)
	}
}
