package model

import (
	"bytes"
	"encoding/json"
)

// ManualAssignment 用户手动添加的作业
type ManualAssignment struct {
	AssignmentName string `json:"assignment_name"`
	Date           string `json:"date"`
	Category       string `json:"category"`
	GradePercent   Score  `json:"grade_percent"`
	PointsGotten   Score  `json:"points_gotten"`
	PointsPossible Score  `json:"points_possible"`
	Exclude        bool   `json:"exclude"`
}

// AssignmentEdit 对门户作业的覆盖编辑；nil 字段表示不覆盖
type AssignmentEdit struct {
	AssignmentName *string `json:"assignment_name"`
	Category       *string `json:"category"`
	GradePercent   *Score  `json:"grade_percent"`
	PointsGotten   *Score  `json:"points_gotten"`
	PointsPossible *Score  `json:"points_possible"`
	Exclude        *bool   `json:"exclude"`
}

// ManualList 手动作业列表；历史数据中非数组的值按空列表处理
type ManualList []ManualAssignment

// UnmarshalJSON 非数组一律视为空列表
func (l *ManualList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '[' {
		*l = ManualList{}
		return nil
	}
	var items []ManualAssignment
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// EditMap PSAID → 编辑；历史数据中的数组值按空 map 处理
type EditMap map[string]AssignmentEdit

// UnmarshalJSON 非对象一律视为空 map
func (m *EditMap) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*m = EditMap{}
		return nil
	}
	items := map[string]AssignmentEdit{}
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*m = items
	return nil
}

// AddedClass 某门课程的手动作业
type AddedClass struct {
	ClassName string     `json:"className"`
	Data      ManualList `json:"data"`
}

// EditedClass 某门课程的作业编辑
type EditedClass struct {
	ClassName string  `json:"className"`
	Data      EditMap `json:"data"`
}
