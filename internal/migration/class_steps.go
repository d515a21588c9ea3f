package migration

import (
	"context"

	"gorm.io/datatypes"

	"github.com/graderoom/graderoom/internal/model"
)

// ClassLadder 课程文档迁移阶梯（v0 → v3）
func ClassLadder() *Ladder[*ClassDocument] {
	return NewLadder(
		Step[*ClassDocument]{1, "清理与目录重复的元数据", cleanClassMetadata},
		Step[*ClassDocument]{2, "建议用户名去重", dedupeSuggestionUsers},
		Step[*ClassDocument]{3, "目录导入后再次清理元数据", cleanClassMetadata},
	)
}

var (
	validCredits = map[float64]bool{1: true, 2: true, 5: true, 10: true}
	validTerms   = map[int]bool{1: true, 2: true}
)

// cleanClassMetadata 与目录相同或为空的字段置为 nil（沿用目录值），
// 不合法的学分与学期数同样置为 nil；grade_levels 与 description 一律清除。
// 目录中没有该课程时只清除后两项。
func cleanClassMetadata(_ context.Context, doc *ClassDocument) error {
	c := doc.Class
	if cat := doc.Catalog; cat != nil {
		c.Department = clearString(c.Department, cat.Department)
		c.ClassType = clearString(c.ClassType, cat.ClassType)
		c.UCCSUClassType = clearString(c.UCCSUClassType, cat.UCCSUClassType)
		if c.Credits != nil && (equalFloat(c.Credits, cat.Credits) || !validCredits[*c.Credits]) {
			c.Credits = nil
		}
		if c.Terms != nil && (equalInt(c.Terms, cat.Terms) || !validTerms[*c.Terms]) {
			c.Terms = nil
		}
	}
	c.GradeLevels = nil
	c.Description = nil
	return nil
}

func dedupeSuggestionUsers(_ context.Context, doc *ClassDocument) error {
	for i := range doc.Class.Teachers {
		t := &doc.Class.Teachers[i]
		t.Suggestions = datatypes.NewJSONType(model.DedupeUsernames(t.Suggestions.Data()))
	}
	return nil
}

func clearString(v *string, catalog string) *string {
	if v == nil || *v == "" || *v == catalog {
		return nil
	}
	return v
}

func equalFloat(a, b *float64) bool { return a != nil && b != nil && *a == *b }

func equalInt(a, b *int) bool { return a != nil && b != nil && *a == *b }
