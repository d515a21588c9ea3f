package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
)

// ── 课程目录模块业务错误 ──

const maxImportRows = 2000

var (
	ErrImportNoData      = errors.New("Excel文件无数据行（第一行为表头）")
	ErrImportTooManyRows = fmt.Errorf("数据行数超过上限 %d 行", maxImportRows)
	ErrImportBadHeader   = errors.New("Excel表头缺少必要列（class_name）")
)

// CatalogService 学校课程目录
type CatalogService interface {
	ParseImportFile(reader io.Reader) ([]CatalogRow, error)
	Import(ctx context.Context, school string, rows []CatalogRow) (*dto.ImportCatalogResponse, error)
	List(ctx context.Context, school string) ([]model.CatalogEntry, error)
}

// CatalogRow Excel 导入解析后的单行数据
type CatalogRow struct {
	Row    int
	Fields map[string]string
}

// 目录列；class_name 必填
var catalogColumns = []string{
	"class_name", "department", "class_type", "uc_csu_class_type",
	"credits", "terms", "grade_levels", "description", "prereq",
}

type catalogService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewCatalogService 创建 CatalogService 实例
func NewCatalogService(repo *repository.Repository, logger *zap.Logger) CatalogService {
	return &catalogService{repo: repo, logger: logger}
}

// ────────────────────── ParseImportFile ──────────────────────

func (s *catalogService) ParseImportFile(reader io.Reader) ([]CatalogRow, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("无法解析Excel文件: %w", err)
	}
	defer f.Close()

	excelRows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("读取工作表失败: %w", err)
	}
	if len(excelRows) < 2 {
		return nil, ErrImportNoData
	}

	// 表头支持任意列序
	colIndex := make(map[string]int)
	for i, h := range excelRows[0] {
		colIndex[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := colIndex["class_name"]; !ok {
		return nil, ErrImportBadHeader
	}

	var rows []CatalogRow
	for i := 1; i < len(excelRows); i++ {
		item := CatalogRow{Row: i + 1, Fields: make(map[string]string)}
		empty := true
		for _, col := range catalogColumns {
			idx, ok := colIndex[col]
			if !ok || idx >= len(excelRows[i]) {
				continue
			}
			v := strings.TrimSpace(excelRows[i][idx])
			if v != "" {
				item.Fields[col] = v
				empty = false
			}
		}
		if empty {
			continue
		}
		rows = append(rows, item)
	}

	if len(rows) == 0 {
		return nil, ErrImportNoData
	}
	if len(rows) > maxImportRows {
		return nil, ErrImportTooManyRows
	}
	return rows, nil
}

// ────────────────────── Import ──────────────────────

func (s *catalogService) Import(ctx context.Context, school string, rows []CatalogRow) (*dto.ImportCatalogResponse, error) {
	if !model.ValidSchool(school) {
		return nil, ErrInvalidSchool
	}
	resp := &dto.ImportCatalogResponse{Total: len(rows)}

	for _, row := range rows {
		entry, err := catalogEntry(school, row)
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, dto.ImportError{Row: row.Row, Reason: err.Error()})
			continue
		}
		if err := s.repo.Catalog.Upsert(ctx, entry); err != nil {
			s.logger.Error("写入课程目录失败", zap.String("class", entry.ClassName), zap.Error(err))
			resp.Failed++
			resp.Errors = append(resp.Errors, dto.ImportError{Row: row.Row, Reason: "写入失败"})
			continue
		}
		resp.Success++
	}

	s.logger.Info("导入课程目录",
		zap.String("school", school),
		zap.Int("success", resp.Success),
		zap.Int("failed", resp.Failed),
	)
	return resp, nil
}

func catalogEntry(school string, row CatalogRow) (*model.CatalogEntry, error) {
	f := row.Fields
	if f["class_name"] == "" {
		return nil, errors.New("class_name 为空")
	}
	entry := &model.CatalogEntry{
		School:         school,
		ClassName:      f["class_name"],
		Department:     f["department"],
		ClassType:      f["class_type"],
		UCCSUClassType: f["uc_csu_class_type"],
		Description:    f["description"],
		Prereq:         f["prereq"],
	}
	if v := f["credits"]; v != "" {
		credits, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("credits 不是数字: %s", v)
		}
		entry.Credits = &credits
	}
	if v := f["terms"]; v != "" {
		terms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("terms 不是整数: %s", v)
		}
		entry.Terms = &terms
	}
	if v := f["grade_levels"]; v != "" {
		var levels []int
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("grade_levels 格式错误: %s", v)
			}
			levels = append(levels, n)
		}
		raw, _ := json.Marshal(levels)
		entry.GradeLevels = datatypes.JSON(raw)
	}
	return entry, nil
}

// ────────────────────── List ──────────────────────

func (s *catalogService) List(ctx context.Context, school string) ([]model.CatalogEntry, error) {
	if !model.ValidSchool(school) {
		return nil, ErrInvalidSchool
	}
	return s.repo.Catalog.ListBySchool(ctx, school)
}
