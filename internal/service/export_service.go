package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/graderoom/graderoom/internal/dto"
	"github.com/graderoom/graderoom/internal/model"
	"github.com/graderoom/graderoom/internal/repository"
)

// ── 导出模块业务错误 ──

var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置响应头后写入。
// 两个 Sheet：成绩（每行一个作业）与变更记录（该学期范围内的 alerts）。
type ExportService interface {
	// ExportGrades 导出某学期成绩；q 为 nil 时取最近学期
	ExportGrades(ctx context.Context, username string, q *dto.TermQuery) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo     *repository.Repository
	migrator DocumentMigrator
	logger   *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, migrator DocumentMigrator, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, migrator: migrator, logger: logger}
}

const (
	gradesSheet  = "Grades"
	changesSheet = "Changes"
)

// ════════════════════════════════════════════
// ExportGrades
// ════════════════════════════════════════════
//
// Grades: | Class | Teacher | Overall % | Letter | Assignment | Category | Date | Points | Possible | Percent | Excluded |
// Changes: | Time | Class | Type | Detail |

func (s *exportService) ExportGrades(ctx context.Context, username string, q *dto.TermQuery) (*bytes.Buffer, string, error) {
	user, data, err := loadUser(ctx, s.repo, s.migrator, s.logger, username)
	if err != nil {
		return nil, "", err
	}
	term, sem, ok := resolveTerm(data, q)
	if !ok {
		return nil, "", ErrSemesterMissing
	}
	classes, ok := data.Grades.Get(term, sem)
	if !ok {
		return nil, "", ErrSemesterMissing
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, _ := f.NewSheet(gradesSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")
	f.NewSheet(changesSheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 成绩
	headers := []string{"Class", "Teacher", "Overall %", "Letter", "Assignment", "Category", "Date", "Points", "Possible", "Percent", "Excluded"}
	writeHeader(f, gradesSheet, headers, headerStyle)
	f.SetColWidth(gradesSheet, "A", "B", 24)
	f.SetColWidth(gradesSheet, "E", "E", 32)

	row := 2
	for _, c := range classes {
		if len(c.Grades) == 0 {
			writeRow(f, gradesSheet, row, c.ClassName, c.TeacherName, scoreCell(c.OverallPercent), letterCell(c.OverallLetter))
			row++
			continue
		}
		for _, a := range c.Grades {
			writeRow(f, gradesSheet, row,
				c.ClassName, c.TeacherName, scoreCell(c.OverallPercent), letterCell(c.OverallLetter),
				a.AssignmentName, a.Category, a.Date,
				scoreCell(a.PointsGotten), scoreCell(a.PointsPossible), scoreCell(a.GradePercent), a.Exclude,
			)
			row++
		}
	}

	// 变更记录
	writeHeader(f, changesSheet, []string{"Time", "Class", "Type", "Detail"}, headerStyle)
	f.SetColWidth(changesSheet, "A", "A", 22)
	f.SetColWidth(changesSheet, "B", "B", 24)
	f.SetColWidth(changesSheet, "D", "D", 48)
	row = 2
	for _, entry := range data.TrimmedUpdates(term, sem) {
		when := time.UnixMilli(entry.Timestamp).UTC().Format("2006-01-02 15:04:05")
		for _, line := range changeLines(entry.ChangeData) {
			writeRow(f, changesSheet, row, when, line.class, line.kind, line.detail)
			row++
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.String("username", user.Username), zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("grades_%s_%s_%s.xlsx", user.Username, term, sem)
	return buf, filename, nil
}

// ── 辅助函数 ──

type changeLine struct {
	class  string
	kind   string
	detail string
}

func changeLines(c model.ChangeSet) []changeLine {
	var out []changeLine
	for _, name := range sortedKeys(c.Added) {
		ids := make([]string, 0, len(c.Added[name]))
		for _, id := range c.Added[name] {
			ids = append(ids, id.Key())
		}
		out = append(out, changeLine{name, "added", strings.Join(ids, ", ")})
	}
	for _, name := range sortedKeys(c.Modified) {
		for _, a := range c.Modified[name] {
			out = append(out, changeLine{name, "modified", a.AssignmentName})
		}
	}
	for _, name := range sortedKeys(c.Removed) {
		for _, a := range c.Removed[name] {
			out = append(out, changeLine{name, "removed", a.AssignmentName})
		}
	}
	for _, name := range sortedKeys(c.Overall) {
		fields := c.Overall[name]
		parts := make([]string, 0, len(fields))
		for _, k := range sortedKeys(fields) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, overallValue(fields[k])))
		}
		out = append(out, changeLine{name, "overall", strings.Join(parts, "; ")})
	}
	return out
}

func overallValue(v any) any {
	switch x := v.(type) {
	case model.Score:
		return scoreCell(x)
	case model.Letter:
		return letterCell(x)
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scoreCell(s model.Score) any {
	if !s.Valid {
		return ""
	}
	return s.Value
}

func letterCell(l model.Letter) string {
	if !l.Valid {
		return ""
	}
	return l.Value
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		f.SetCellValue(sheet, cell(colName(i), 1), h)
	}
	f.SetCellStyle(sheet, "A1", cell(colName(len(headers)-1), 1), style)
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		f.SetCellValue(sheet, cell(colName(i), row), v)
	}
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
