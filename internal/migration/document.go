package migration

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/graderoom/graderoom/internal/model"
)

// UserDocument 迁移过程中的用户文档。
// Data 为未类型化的 JSON 结构，旧版本数据往往无法解码为当前类型。
type UserDocument struct {
	Username string
	School   string
	Data     map[string]any
}

// ClassDocument 迁移过程中的课程文档，Catalog 为学校目录中的权威值（可能为 nil）
type ClassDocument struct {
	Class   *model.Class
	Catalog *model.CatalogEntry
}

// ── 通用 JSON 访问 ──

// toJSONValue 通过一次序列化往返把任意值转换为 map[string]any / []any / float64 …
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneObject 深拷贝 JSON 对象
func cloneObject(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	v, err := toJSONValue(m)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(map[string]any)
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// object 读取 key 对应的对象，不存在或类型不符时创建空对象
func object(parent map[string]any, key string) map[string]any {
	if m, ok := asObject(parent[key]); ok {
		return m
	}
	m := map[string]any{}
	parent[key] = m
	return m
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// semesterNode term → semester → value 结构中的一个节点
type semesterNode struct {
	Term     string
	Semester string
	Value    any
}

// semesters 按 term、semester 字典序遍历
func semesters(root map[string]any) []semesterNode {
	var out []semesterNode
	for _, term := range sortedKeys(root) {
		sems, ok := asObject(root[term])
		if !ok {
			continue
		}
		for _, sem := range sortedKeys(sems) {
			out = append(out, semesterNode{Term: term, Semester: sem, Value: sems[sem]})
		}
	}
	return out
}

// lookup root[term][semester]
func lookup(root map[string]any, term, semester string) (any, bool) {
	sems, ok := asObject(root[term])
	if !ok {
		return nil, false
	}
	v, ok := sems[semester]
	return v, ok
}

// classNames grades[term][semester] 中的课程名，按原顺序
func classNames(classes any) []string {
	list, _ := asArray(classes)
	out := make([]string, 0, len(list))
	for _, c := range list {
		obj, _ := asObject(c)
		name, _ := obj["class_name"].(string)
		out = append(out, name)
	}
	return out
}

// ── 类型化视图 ──

var bookKeys = []string{"grades", "weights", "addedAssignments", "editedAssignments"}

// decodeBook 将文档中的成绩与三类对齐数据解码为 GradeBook
func decodeBook(data map[string]any) (*model.GradeBook, error) {
	sub := make(map[string]any, len(bookKeys))
	for _, k := range bookKeys {
		if v, ok := data[k]; ok {
			sub[k] = v
		}
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, err
	}
	var book model.GradeBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("解析成绩数据失败: %w", err)
	}
	if book.Grades == nil {
		book.Grades = model.TermMap[[]model.ClassGrade]{}
	}
	return &book, nil
}

// alignSelector 选择写回文档的对齐数据
type alignSelector struct {
	weights bool
	added   bool
	edited  bool
}

// realign 以当前 grades 为准重新对齐所选数据并写回文档；grades 本身不被改写
func realign(data map[string]any, sel alignSelector, prune bool) error {
	book, err := decodeBook(data)
	if err != nil {
		return err
	}
	if sel.weights {
		book.AlignWeights()
	}
	if sel.added {
		book.AlignAdded()
	}
	if sel.edited {
		book.AlignEdited()
	}
	if prune {
		book.PruneOverrides()
	}

	write := map[string]any{}
	if sel.weights {
		write["weights"] = book.Weights
	}
	if sel.added || prune {
		write["addedAssignments"] = book.Added
	}
	if sel.edited || prune {
		write["editedAssignments"] = book.Edited
	}
	for k, v := range write {
		jv, err := toJSONValue(v)
		if err != nil {
			return err
		}
		data[k] = jv
	}
	return nil
}
