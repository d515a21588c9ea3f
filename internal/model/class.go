package model

import (
	"gorm.io/datatypes"
)

// CurrentClassVersion 课程文档当前结构版本
const CurrentClassVersion = 3

// Class 学期课程表，对应 classes，每个 (school, term, semester, class_name) 一行
// 元数据字段为 nil 时表示沿用 catalog 中的值
type Class struct {
	ClassID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"class_id"`
	School         string         `gorm:"type:varchar(32);not null"                      json:"school"`
	Term           string         `gorm:"type:varchar(16);not null"                      json:"term"`
	Semester       string         `gorm:"type:varchar(8);not null"                       json:"semester"`
	ClassName      string         `gorm:"type:varchar(255);not null"                     json:"class_name"`
	Version        int            `gorm:"not null;default:0"                             json:"version"`
	Department     *string        `gorm:"type:varchar(128)"                              json:"department"`
	ClassType      *string        `gorm:"type:varchar(64)"                               json:"class_type"`
	UCCSUClassType *string        `gorm:"column:uc_csu_class_type;type:varchar(64)"      json:"uc_csu_class_type"`
	Credits        *float64       `gorm:""                                               json:"credits"`
	Terms          *int           `gorm:""                                               json:"terms"`
	GradeLevels    datatypes.JSON `gorm:"type:jsonb"                                     json:"grade_levels,omitempty"`
	Description    *string        `gorm:"type:text"                                      json:"description,omitempty"`
	BaseModel

	// 关联
	Teachers []ClassTeacher `gorm:"foreignKey:ClassID;references:ClassID" json:"teachers,omitempty"`
}

// TableName 指定表名
func (Class) TableName() string { return "classes" }

// Teacher 按教师名查找
func (c *Class) Teacher(name string) *ClassTeacher {
	for i := range c.Teachers {
		if c.Teachers[i].TeacherName == name {
			return &c.Teachers[i]
		}
	}
	return nil
}

// ClassTeacher 教师标准权重方案与众包建议，对应 class_teachers
type ClassTeacher struct {
	TeacherID   string                           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"teacher_id"`
	ClassID     string                           `gorm:"type:uuid;not null"                             json:"class_id"`
	TeacherName string                           `gorm:"type:varchar(255);not null"                     json:"teacher_name"`
	Weights     datatypes.JSONType[Weights]      `gorm:"type:jsonb;not null"                            json:"weights"`
	HasWeights  bool                             `gorm:"not null;default:true"                          json:"has_weights"`
	Suggestions datatypes.JSONType[[]Suggestion] `gorm:"type:jsonb;not null"                            json:"suggestions"`
	VersionedModel
}

// TableName 指定表名
func (ClassTeacher) TableName() string { return "class_teachers" }

// NewClassTeacher 新教师：空权重、启用权重、无建议
func NewClassTeacher(classID, name string) ClassTeacher {
	return ClassTeacher{
		ClassID:     classID,
		TeacherName: name,
		Weights:     datatypes.NewJSONType(Weights{}),
		HasWeights:  true,
		Suggestions: datatypes.NewJSONType([]Suggestion{}),
	}
}

// Canonical 教师标准方案
func (t *ClassTeacher) Canonical() WeightScheme {
	return WeightScheme{Weights: t.Weights.Data(), HasWeights: t.HasWeights}
}

// CanonicalUsable 标准方案是否可直接下发（未启用权重，或已填写权重）
func (t *ClassTeacher) CanonicalUsable() bool {
	return !t.HasWeights || len(t.Weights.Data()) > 0
}

// Suggestion 用户提交的权重建议
type Suggestion struct {
	Weights    Weights  `json:"weights"`
	HasWeights bool     `json:"hasWeights"`
	Usernames  []string `json:"usernames"`
}

// Scheme 建议对应的方案
func (s Suggestion) Scheme() WeightScheme {
	return WeightScheme{Weights: s.Weights, HasWeights: s.HasWeights}
}

// AddSuggestion 记录 username 对 scheme 的建议：
// 先把该用户从其他建议中移除（最后一个支持者离开时删除该建议），
// 再合并进相同方案的建议；没有相同方案且与标准方案不同时新建。
func AddSuggestion(list []Suggestion, username string, scheme, canonical WeightScheme) []Suggestion {
	out := make([]Suggestion, 0, len(list)+1)
	merged := false
	for _, s := range list {
		if !merged && s.Scheme().Equal(scheme) {
			if !containsString(s.Usernames, username) {
				s.Usernames = append(append([]string{}, s.Usernames...), username)
			}
			merged = true
			out = append(out, s)
			continue
		}
		s.Usernames = removeString(s.Usernames, username)
		if len(s.Usernames) == 0 {
			continue
		}
		out = append(out, s)
	}
	if !merged && !canonical.Equal(scheme) {
		out = append(out, Suggestion{
			Weights:    scheme.Weights.Clone(),
			HasWeights: scheme.HasWeights,
			Usernames:  []string{username},
		})
	}
	return out
}

// RemoveSuggestionUser 将用户从所有建议中移除
func RemoveSuggestionUser(list []Suggestion, username string) []Suggestion {
	out := make([]Suggestion, 0, len(list))
	for _, s := range list {
		s.Usernames = removeString(s.Usernames, username)
		if len(s.Usernames) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// DropSuggestionsEqual 删除与给定方案相同的建议，返回被删除的数量
func DropSuggestionsEqual(list []Suggestion, scheme WeightScheme) ([]Suggestion, int) {
	out := make([]Suggestion, 0, len(list))
	dropped := 0
	for _, s := range list {
		if s.Scheme().Equal(scheme) {
			dropped++
			continue
		}
		out = append(out, s)
	}
	return out, dropped
}

// DedupeUsernames 去除建议中重复的用户名，保持首次出现顺序
func DedupeUsernames(list []Suggestion) []Suggestion {
	out := make([]Suggestion, len(list))
	for i, s := range list {
		seen := make(map[string]bool, len(s.Usernames))
		names := make([]string, 0, len(s.Usernames))
		for _, u := range s.Usernames {
			if seen[u] {
				continue
			}
			seen[u] = true
			names = append(names, u)
		}
		s.Usernames = names
		out[i] = s
	}
	return out
}

// CatalogEntry 学校课程目录，对应 catalog，按 (school, class_name) 唯一
type CatalogEntry struct {
	CatalogID      string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"catalog_id"`
	School         string         `gorm:"type:varchar(32);not null"                      json:"school"`
	ClassName      string         `gorm:"type:varchar(255);not null"                     json:"class_name"`
	Department     string         `gorm:"type:varchar(128)"                              json:"department"`
	ClassType      string         `gorm:"type:varchar(64)"                               json:"class_type"`
	UCCSUClassType string         `gorm:"column:uc_csu_class_type;type:varchar(64)"      json:"uc_csu_class_type"`
	Credits        *float64       `gorm:""                                               json:"credits"`
	Terms          *int           `gorm:""                                               json:"terms"`
	GradeLevels    datatypes.JSON `gorm:"type:jsonb"                                     json:"grade_levels,omitempty"`
	Description    string         `gorm:"type:text"                                      json:"description"`
	Prereq         string         `gorm:"type:text"                                      json:"prereq"`
}

// TableName 指定表名
func (CatalogEntry) TableName() string { return "catalog" }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// ClassKey 定位一门学期课程
type ClassKey struct {
	School    string
	Term      string
	Semester  string
	ClassName string
}
