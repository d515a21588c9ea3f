package model

// ── 学校 ──

const (
	SchoolBellarmine = "bellarmine"
	SchoolBISV       = "basis"
	SchoolNDSJ       = "ndsj"
)

// ValidSchool 是否为受支持的学校
func ValidSchool(school string) bool {
	switch school {
	case SchoolBellarmine, SchoolBISV, SchoolNDSJ:
		return true
	}
	return false
}

// PortalName 学校使用的成绩门户名称
func PortalName(school string) string {
	if school == SchoolBISV {
		return "Schoology"
	}
	return "PowerSchool"
}

// Assignment 门户同步的单个作业
type Assignment struct {
	PSAID          PSAID  `json:"psaid,omitempty"`
	Date           string `json:"date"`
	Category       string `json:"category"`
	AssignmentName string `json:"assignment_name"`
	Exclude        bool   `json:"exclude"`
	PointsPossible Score  `json:"points_possible"`
	PointsGotten   Score  `json:"points_gotten"`
	GradePercent   Score  `json:"grade_percent"`
}

// ClassGrade 某学期单门课程的成绩快照
type ClassGrade struct {
	ClassName      string       `json:"class_name"`
	TeacherName    string       `json:"teacher_name"`
	OverallPercent Score        `json:"overall_percent"`
	OverallLetter  Letter       `json:"overall_letter"`
	StudentID      string       `json:"student_id,omitempty"`
	SectionID      string       `json:"section_id,omitempty"`
	PSLocked       bool         `json:"ps_locked"`
	Grades         []Assignment `json:"grades"`
}

// Categories 作业类别（按首次出现顺序去重）
func (c *ClassGrade) Categories() []string {
	seen := make(map[string]bool, len(c.Grades))
	out := make([]string, 0, len(c.Grades))
	for _, a := range c.Grades {
		if seen[a.Category] {
			continue
		}
		seen[a.Category] = true
		out = append(out, a.Category)
	}
	return out
}

// HasPSAID 该课程是否包含指定作业 ID
func (c *ClassGrade) HasPSAID(id PSAID) bool {
	if id == 0 {
		return false
	}
	for _, a := range c.Grades {
		if a.PSAID == id {
			return true
		}
	}
	return false
}

// WithoutGrades 去掉作业明细的副本（门户锁定时作为提示数据传给抓取器）
func (c ClassGrade) WithoutGrades() ClassGrade {
	c.Grades = nil
	return c
}

// IndexOfClass 在课程列表中按名称查找
func IndexOfClass(classes []ClassGrade, name string) int {
	for i := range classes {
		if classes[i].ClassName == name {
			return i
		}
	}
	return -1
}

// AnyLocked 是否有课程处于门户锁定状态
func AnyLocked(classes []ClassGrade) bool {
	for i := range classes {
		if classes[i].PSLocked {
			return true
		}
	}
	return false
}
