package migration

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/graderoom/graderoom/internal/repository"
	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

// ── 用户文档 ──

type userStore struct {
	users repository.UserRepository
}

// NewUserStore 基于 UserRepository 的迁移存储
func NewUserStore(users repository.UserRepository) Store[*UserDocument] {
	return &userStore{users: users}
}

func (s *userStore) Load(ctx context.Context, key string) (*UserDocument, int, error) {
	user, err := s.users.GetByUsername(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	data, err := cloneObject(user.Document)
	if err != nil {
		return nil, 0, err
	}
	return &UserDocument{Username: user.Username, School: user.School, Data: data}, user.Version, nil
}

func (s *userStore) Commit(ctx context.Context, key string, doc *UserDocument, from, to int) error {
	ok, err := s.users.CompareAndSwapDocument(ctx, key, datatypes.JSONMap(doc.Data), from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	return nil
}

func (s *userStore) Pending(ctx context.Context, target int) ([]string, error) {
	return s.users.ListBehind(ctx, target)
}

// ── 课程文档 ──

type classStore struct {
	classes repository.ClassRepository
	catalog repository.CatalogRepository
}

// NewClassStore 基于 ClassRepository 的迁移存储；Load 时一并读取学校目录
func NewClassStore(classes repository.ClassRepository, catalog repository.CatalogRepository) Store[*ClassDocument] {
	return &classStore{classes: classes, catalog: catalog}
}

func (s *classStore) Load(ctx context.Context, key string) (*ClassDocument, int, error) {
	class, err := s.classes.GetByID(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	entry, err := s.catalog.Get(ctx, class.School, class.ClassName)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}
	return &ClassDocument{Class: class, Catalog: entry}, class.Version, nil
}

func (s *classStore) Commit(ctx context.Context, _ string, doc *ClassDocument, from, to int) error {
	ok, err := s.classes.CompareAndSwap(ctx, doc.Class, from, to)
	if errors.Is(err, pkgerrors.ErrOptimisticLock) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	return nil
}

func (s *classStore) Pending(ctx context.Context, target int) ([]string, error) {
	return s.classes.ListBehind(ctx, target)
}
