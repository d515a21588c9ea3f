package model

import (
	"sort"
	"strconv"
	"strings"
)

// TermMap term → semester → T 的键控容器
type TermMap[T any] map[string]map[string]T

// Get 读取
func (m TermMap[T]) Get(term, semester string) (T, bool) {
	var zero T
	if m == nil {
		return zero, false
	}
	sems, ok := m[term]
	if !ok {
		return zero, false
	}
	v, ok := sems[semester]
	return v, ok
}

// Has 是否存在该学期
func (m TermMap[T]) Has(term, semester string) bool {
	_, ok := m.Get(term, semester)
	return ok
}

// Set 写入；容器为 nil 时先初始化
func (m *TermMap[T]) Set(term, semester string, v T) {
	if *m == nil {
		*m = TermMap[T]{}
	}
	if (*m)[term] == nil {
		(*m)[term] = map[string]T{}
	}
	(*m)[term][semester] = v
}

// Terms 排序后的学年
func (m TermMap[T]) Terms() []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return termLess(out[i], out[j]) })
	return out
}

// Semesters 排序后的学期
func (m TermMap[T]) Semesters(term string) []string {
	out := make([]string, 0, len(m[term]))
	for s := range m[term] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return semesterLess(out[i], out[j]) })
	return out
}

// Latest 最近的学年与学期：学年按前两位数字取最大，学期按数字后缀取最大
func (m TermMap[T]) Latest() (term, semester string, ok bool) {
	terms := m.Terms()
	if len(terms) == 0 {
		return "", "", false
	}
	term = terms[len(terms)-1]
	sems := m.Semesters(term)
	if len(sems) == 0 {
		return term, "", false
	}
	return term, sems[len(sems)-1], true
}

// termLess "20-21" < "21-22"；无法解析时按字符串比较
func termLess(a, b string) bool {
	ai, aerr := strconv.Atoi(prefixDigits(a, 2))
	bi, berr := strconv.Atoi(prefixDigits(b, 2))
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// semesterLess "S1" < "S2"；带非数字后缀（如 "_"）的排在前面
func semesterLess(a, b string) bool {
	ai, aerr := strconv.Atoi(strings.TrimLeft(a, "ST"))
	bi, berr := strconv.Atoi(strings.TrimLeft(b, "ST"))
	switch {
	case aerr == nil && berr == nil && ai != bi:
		return ai < bi
	case aerr != nil && berr == nil:
		return true
	case aerr == nil && berr != nil:
		return false
	}
	return a < b
}

func prefixDigits(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// ── GradeBook ──

// GradeBook 成绩与三类对齐数据。
// 对每个 (term, semester)，Weights/Added/Edited 与 Grades 一一对应、顺序一致、className 相同。
type GradeBook struct {
	Grades  TermMap[[]ClassGrade]  `json:"grades"`
	Weights TermMap[[]ClassWeight] `json:"weights"`
	Added   TermMap[[]AddedClass]  `json:"addedAssignments"`
	Edited  TermMap[[]EditedClass] `json:"editedAssignments"`
}

func (b *GradeBook) ensure() {
	if b.Grades == nil {
		b.Grades = TermMap[[]ClassGrade]{}
	}
	if b.Weights == nil {
		b.Weights = TermMap[[]ClassWeight]{}
	}
	if b.Added == nil {
		b.Added = TermMap[[]AddedClass]{}
	}
	if b.Edited == nil {
		b.Edited = TermMap[[]EditedClass]{}
	}
}

// AlignWeights 权重与成绩对齐：按 className 保留已有条目，去掉已不存在的类别，补齐缺失类别为 nil，
// 多余条目截断。未出现在 Grades 中的学期会被丢弃。
func (b *GradeBook) AlignWeights() {
	b.ensure()
	out := TermMap[[]ClassWeight]{}
	for term, sems := range b.Grades {
		for sem, classes := range sems {
			current, _ := b.Weights.Get(term, sem)
			aligned := make([]ClassWeight, len(classes))
			for k := range classes {
				entry := ClassWeight{ClassName: classes[k].ClassName, Weights: Weights{}}
				if idx := indexOfWeight(current, classes[k].ClassName); idx != -1 {
					entry.Weights = current[idx].Weights.Clone()
					entry.HasWeights = current[idx].HasWeights
					entry.Custom = current[idx].Custom
				}
				categories := classes[k].Categories()
				keep := make(map[string]bool, len(categories))
				for _, c := range categories {
					keep[c] = true
				}
				for w := range entry.Weights {
					if !keep[w] {
						delete(entry.Weights, w)
					}
				}
				for _, c := range categories {
					if _, ok := entry.Weights[c]; !ok {
						entry.Weights[c] = nil
					}
				}
				aligned[k] = entry
			}
			out.Set(term, sem, aligned)
		}
	}
	b.Weights = out
}

// AlignAdded 手动作业与成绩对齐：按 className 保留，缺失的补空列表
func (b *GradeBook) AlignAdded() {
	b.ensure()
	out := TermMap[[]AddedClass]{}
	for term, sems := range b.Grades {
		for sem, classes := range sems {
			current, _ := b.Added.Get(term, sem)
			aligned := make([]AddedClass, len(classes))
			for k := range classes {
				aligned[k] = AddedClass{ClassName: classes[k].ClassName, Data: ManualList{}}
				for _, c := range current {
					if c.ClassName == classes[k].ClassName {
						if c.Data != nil {
							aligned[k].Data = c.Data
						}
						break
					}
				}
			}
			out.Set(term, sem, aligned)
		}
	}
	b.Added = out
}

// AlignEdited 作业编辑与成绩对齐：按 className 保留，缺失的补空 map
func (b *GradeBook) AlignEdited() {
	b.ensure()
	out := TermMap[[]EditedClass]{}
	for term, sems := range b.Grades {
		for sem, classes := range sems {
			current, _ := b.Edited.Get(term, sem)
			aligned := make([]EditedClass, len(classes))
			for k := range classes {
				aligned[k] = EditedClass{ClassName: classes[k].ClassName, Data: EditMap{}}
				for _, c := range current {
					if c.ClassName == classes[k].ClassName {
						if c.Data != nil {
							aligned[k].Data = c.Data
						}
						break
					}
				}
			}
			out.Set(term, sem, aligned)
		}
	}
	b.Edited = out
}

// PruneOverrides 删除引用已消失作业 ID 的编辑，以及类别不在该课程权重中的手动作业。
// 调用前三类数据必须已对齐。
func (b *GradeBook) PruneOverrides() {
	b.ensure()
	for term, sems := range b.Grades {
		for sem, classes := range sems {
			edited, _ := b.Edited.Get(term, sem)
			added, _ := b.Added.Get(term, sem)
			weights, _ := b.Weights.Get(term, sem)
			for i := range classes {
				if i < len(edited) {
					for key := range edited[i].Data {
						id, ok := ParsePSAID(key)
						if !ok || !classes[i].HasPSAID(id) {
							delete(edited[i].Data, key)
						}
					}
				}
				if i < len(added) && i < len(weights) {
					kept := make(ManualList, 0, len(added[i].Data))
					for _, a := range added[i].Data {
						if _, ok := weights[i].Weights[a.Category]; ok {
							kept = append(kept, a)
						}
					}
					added[i].Data = kept
				}
			}
		}
	}
}

// Reconcile 对齐全部覆盖数据并清理失效引用
func (b *GradeBook) Reconcile() {
	b.AlignWeights()
	b.AlignAdded()
	b.AlignEdited()
	b.PruneOverrides()
}

// RemoveEdits 删除指定课程中若干作业 ID 的编辑
func (b *GradeBook) RemoveEdits(term, semester, className string, ids []PSAID) {
	edited, ok := b.Edited.Get(term, semester)
	if !ok {
		return
	}
	for i := range edited {
		if edited[i].ClassName != className {
			continue
		}
		for _, id := range ids {
			delete(edited[i].Data, id.Key())
		}
	}
}

func indexOfWeight(list []ClassWeight, className string) int {
	for i := range list {
		if list[i].ClassName == className {
			return i
		}
	}
	return -1
}
