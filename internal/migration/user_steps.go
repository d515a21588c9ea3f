package migration

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/graderoom/graderoom/internal/model"
)

// UserLadder 用户文档迁移阶梯（v0 → v19）
func UserLadder(now func() time.Time) *Ladder[*UserDocument] {
	if now == nil {
		now = time.Now
	}
	return NewLadder(
		Step[*UserDocument]{1, "按课程顺序重建权重与覆盖数据", userV1},
		Step[*UserDocument]{2, "手动作业补齐 exclude", userV2},
		Step[*UserDocument]{3, "按类别重新匹配权重", userV3},
		Step[*UserDocument]{4, "对齐手动作业与编辑", alignOverrides},
		Step[*UserDocument]{5, "初始化 donoData", setDefault("donoData", func() any { return []any{} })},
		Step[*UserDocument]{6, "初始化 api", setDefault("api", func() any { return map[string]any{} })},
		Step[*UserDocument]{7, "外观: showPlusMinusLines", setAppearance(map[string]any{"showPlusMinusLines": false})},
		Step[*UserDocument]{8, "对齐编辑与手动作业", alignOverrides},
		Step[*UserDocument]{9, "外观: reduceMotion / showEmpty", setAppearance(map[string]any{"reduceMotion": false, "showEmpty": true})},
		Step[*UserDocument]{10, "通知迁移到 alerts", userV10(now)},
		Step[*UserDocument]{11, "重置初始通知", userV11(now)},
		Step[*UserDocument]{12, "BISV 学期键与总分格式", userV12},
		Step[*UserDocument]{13, "初始化 discord", setDefault("discord", func() any { return map[string]any{} })},
		Step[*UserDocument]{14, "清理失效的覆盖数据", userV14},
		Step[*UserDocument]{15, "初始化 errors", setDefault("errors", func() any { return []any{} })},
		Step[*UserDocument]{16, "外观: 移除 showEmpty", userV16},
		Step[*UserDocument]{17, "课程调色板", userV17},
		Step[*UserDocument]{18, "补齐 discord", userV18},
		Step[*UserDocument]{19, "推导 updateStartTimestamps", userV19},
	)
}

// ────────────────────── 通用步骤 ──────────────────────

func setDefault(key string, value func() any) func(context.Context, *UserDocument) error {
	return func(_ context.Context, doc *UserDocument) error {
		doc.Data[key] = value()
		return nil
	}
}

func setAppearance(values map[string]any) func(context.Context, *UserDocument) error {
	return func(_ context.Context, doc *UserDocument) error {
		appearance := object(doc.Data, "appearance")
		for k, v := range values {
			appearance[k] = v
		}
		return nil
	}
}

func alignOverrides(_ context.Context, doc *UserDocument) error {
	return realign(doc.Data, alignSelector{added: true, edited: true}, false)
}

// ────────────────────── v1 ──────────────────────

// userV1 weights / addedAssignments / editedAssignments 由按课程名索引的对象
// 改为与 grades 顺序一致的列表
func userV1(_ context.Context, doc *UserDocument) error {
	grades := object(doc.Data, "grades")

	restructure := func(key string, build func(className string, old any) map[string]any) {
		root := object(doc.Data, key)
		for _, node := range semesters(root) {
			byClass, ok := asObject(node.Value)
			if !ok {
				continue
			}
			classes, _ := lookup(grades, node.Term, node.Semester)
			list := make([]any, 0)
			for _, name := range classNames(classes) {
				list = append(list, build(name, byClass[name]))
			}
			object(root, node.Term)[node.Semester] = list
		}
	}

	restructure("weights", func(name string, old any) map[string]any {
		entry, _ := asObject(old)
		weights, ok := asObject(entry["weights"])
		if !ok {
			weights = map[string]any{}
		}
		hasWeights, _ := entry["hasWeights"].(bool)
		return map[string]any{"className": name, "weights": weights, "hasWeights": hasWeights}
	})
	restructure("addedAssignments", func(name string, old any) map[string]any {
		return map[string]any{"className": name, "data": old}
	})
	restructure("editedAssignments", func(name string, old any) map[string]any {
		return map[string]any{"className": name, "data": old}
	})

	return realign(doc.Data, alignSelector{weights: true, added: true, edited: true}, false)
}

// ────────────────────── v2 ──────────────────────

func userV2(_ context.Context, doc *UserDocument) error {
	added := object(doc.Data, "addedAssignments")
	for _, node := range semesters(added) {
		classes, _ := asArray(node.Value)
		for _, c := range classes {
			entry, _ := asObject(c)
			data, _ := asArray(entry["data"])
			for _, a := range data {
				item, ok := asObject(a)
				if !ok {
					continue
				}
				if _, has := item["exclude"]; !has {
					item["exclude"] = false
				}
			}
		}
	}
	return nil
}

// ────────────────────── v3 ──────────────────────

// userV3 按类别集合把权重重新匹配到课程，再按 grades 顺序排序
func userV3(_ context.Context, doc *UserDocument) error {
	grades := object(doc.Data, "grades")
	weights := object(doc.Data, "weights")

	for _, node := range semesters(grades) {
		classes, _ := asArray(node.Value)
		current, _ := lookup(weights, node.Term, node.Semester)
		list, _ := asArray(current)

		matched := make(map[int]bool, len(list))
		for _, c := range classes {
			class, _ := asObject(c)
			name, _ := class["class_name"].(string)
			actual := categorySet(class["grades"])
			for l, w := range list {
				entry, ok := asObject(w)
				if !ok || matched[l] {
					continue
				}
				ws, _ := asObject(entry["weights"])
				if sameKeys(ws, actual) {
					matched[l] = true
					entry["className"] = name
					break
				}
			}
		}

		sorted := make([]any, 0, len(classes))
		for _, name := range classNames(node.Value) {
			var found any
			for _, w := range list {
				if entry, ok := asObject(w); ok && entry["className"] == name {
					found = entry
					break
				}
			}
			if found == nil {
				found = map[string]any{"className": name, "weights": map[string]any{}, "hasWeights": false, "custom": false}
			}
			sorted = append(sorted, found)
		}
		object(weights, node.Term)[node.Semester] = sorted
	}

	fixData := func(key string) {
		root := object(doc.Data, key)
		for _, node := range semesters(root) {
			list, _ := asArray(node.Value)
			for _, c := range list {
				entry, ok := asObject(c)
				if !ok {
					continue
				}
				if _, has := entry["data"]; !has {
					entry["data"] = []any{}
				}
				delete(entry, "assignments")
			}
		}
	}
	fixData("addedAssignments")
	fixData("editedAssignments")
	return nil
}

func categorySet(assignments any) map[string]bool {
	list, _ := asArray(assignments)
	out := make(map[string]bool, len(list))
	for _, a := range list {
		item, _ := asObject(a)
		if c, ok := item["category"].(string); ok {
			out[c] = true
		}
	}
	return out
}

func sameKeys(m map[string]any, set map[string]bool) bool {
	if len(m) != len(set) {
		return false
	}
	for k := range m {
		if !set[k] {
			return false
		}
	}
	return true
}

// ────────────────────── v10 / v11 ──────────────────────

// StarterNotifications 新用户的初始通知
func StarterNotifications(now time.Time) []any {
	ts := float64(now.UnixMilli())
	return []any{
		map[string]any{
			"id":          "welcome",
			"type":        "announcement",
			"title":       "Welcome to Graderoom",
			"message":     "Sync your grades to get started.",
			"dismissible": true,
			"dismissed":   false,
			"pinned":      false,
			"createdDate": ts,
		},
		map[string]any{
			"id":          "weights",
			"type":        "tutorial",
			"title":       "Class weights",
			"message":     "If your teacher uses weighted categories, set the weights for each class.",
			"dismissible": true,
			"dismissed":   false,
			"pinned":      false,
			"createdDate": ts,
		},
	}
}

func userV10(now func() time.Time) func(context.Context, *UserDocument) error {
	return func(_ context.Context, doc *UserDocument) error {
		delete(doc.Data, "notifications")
		alerts := object(doc.Data, "alerts")
		alerts["notificationSettings"] = map[string]any{"showUpdatePopup": false}
		alerts["notifications"] = StarterNotifications(now())
		return nil
	}
}

func userV11(now func() time.Time) func(context.Context, *UserDocument) error {
	return func(_ context.Context, doc *UserDocument) error {
		delete(doc.Data, "notifications")
		object(doc.Data, "alerts")["notifications"] = StarterNotifications(now())
		return nil
	}
}

// ────────────────────── v12 ──────────────────────

// userV12 BISV: 学期键 "_" 改为 "T1"，overall_percent 的 null / "93%" 统一为 false / 93
func userV12(_ context.Context, doc *UserDocument) error {
	if doc.School != model.SchoolBISV {
		return nil
	}
	grades := object(doc.Data, "grades")
	weights := object(doc.Data, "weights")
	for _, term := range sortedKeys(grades) {
		sems := object(grades, term)
		if old, ok := sems["_"]; ok {
			sems["T1"] = old
			delete(sems, "_")
		}
		if wsems, ok := asObject(weights[term]); ok {
			if old, ok := wsems["_"]; ok {
				wsems["T1"] = old
				delete(wsems, "_")
			}
		}
		classes, _ := asArray(sems["T1"])
		for _, c := range classes {
			class, ok := asObject(c)
			if !ok {
				continue
			}
			switch v := class["overall_percent"].(type) {
			case nil:
				class["overall_percent"] = false
			case string:
				if strings.HasSuffix(v, "%") {
					f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
					if err != nil {
						return fmt.Errorf("overall_percent %q 无法解析: %w", v, err)
					}
					class["overall_percent"] = f
				}
			}
		}
	}
	return realign(doc.Data, alignSelector{added: true, edited: true}, false)
}

// ────────────────────── v14 ──────────────────────

func userV14(_ context.Context, doc *UserDocument) error {
	return realign(doc.Data, alignSelector{}, true)
}

// ────────────────────── v16 – v18 ──────────────────────

func userV16(_ context.Context, doc *UserDocument) error {
	if appearance, ok := asObject(doc.Data["appearance"]); ok {
		delete(appearance, "showEmpty")
	}
	return nil
}

func userV17(_ context.Context, doc *UserDocument) error {
	appearance := object(doc.Data, "appearance")
	colors, _ := asArray(appearance["classColors"])
	if len(colors) == model.PaletteSize {
		return nil
	}
	preset, _ := appearance["colorPalette"].(string)
	switch preset {
	case model.PalettePale, model.PalettePastel, model.PaletteClear, model.PaletteBright, model.PaletteDull:
	default:
		preset = model.PaletteClear
	}
	palette := model.Palette(preset)
	out := make([]any, len(palette))
	for i, c := range palette {
		out[i] = c
	}
	appearance["classColors"] = out
	appearance["colorPalette"] = preset
	if _, ok := appearance["shuffleColors"].(bool); !ok {
		appearance["shuffleColors"] = false
	}
	return nil
}

func userV18(_ context.Context, doc *UserDocument) error {
	if _, ok := doc.Data["discord"]; !ok {
		doc.Data["discord"] = map[string]any{}
	}
	return nil
}

// ────────────────────── v19 ──────────────────────

// userV19 从 alerts.lastUpdated 推导每个学期的更新起始时间戳。
// 按 term、semester 顺序前进：若某次变更涉及当前学期不存在的课程，
// 或涉及下一学期已有的作业 ID，则认为已进入下一学期。此为近似判断。
func userV19(_ context.Context, doc *UserDocument) error {
	grades := object(doc.Data, "grades")
	years := sortedKeys(grades)
	if len(years) == 0 {
		doc.Data["updateStartTimestamps"] = map[string]any{}
		return nil
	}

	semsOf := func(year string) []string {
		sems, _ := asObject(grades[year])
		return sortedKeys(sems)
	}
	psaidsOf := func(year, sem string) map[string]bool {
		out := map[string]bool{}
		classes, _ := lookup(grades, year, sem)
		list, _ := asArray(classes)
		for _, c := range list {
			class, _ := asObject(c)
			items, _ := asArray(class["grades"])
			for _, a := range items {
				item, _ := asObject(a)
				if key := psaidKey(item["psaid"]); key != "" {
					out[key] = true
				}
			}
		}
		return out
	}

	yearIdx, semIdx := 0, 0
	sems := semsOf(years[0])
	if len(sems) == 0 {
		return fmt.Errorf("学年 %s 没有学期数据", years[0])
	}
	current := func() (string, string) { return years[yearIdx], sems[semIdx] }
	next := func() map[string]bool {
		switch {
		case semIdx < len(sems)-1:
			return psaidsOf(years[yearIdx], sems[semIdx+1])
		case yearIdx < len(years)-1:
			nextSems := semsOf(years[yearIdx+1])
			if len(nextSems) == 0 {
				return map[string]bool{}
			}
			return psaidsOf(years[yearIdx+1], nextSems[0])
		}
		year, sem := current()
		return psaidsOf(year, sem)
	}

	starts := map[string]map[string]any{years[0]: {sems[0]: float64(0)}}
	mark := func(year, sem string, ts float64) {
		if starts[year] == nil {
			starts[year] = map[string]any{}
		}
		if _, ok := starts[year][sem]; !ok {
			starts[year][sem] = ts
		}
	}

	year, sem := current()
	names := stringSet(classNames(mustLookup(grades, year, sem)))
	nextIDs := next()

	alerts, _ := asObject(doc.Data["alerts"])
	entries, _ := asArray(alerts["lastUpdated"])
	var lastTS float64
	seen := 0
	for _, e := range entries {
		entry, ok := asObject(e)
		if !ok {
			continue
		}
		changeData, _ := asObject(entry["changeData"])
		if len(changeData) == 0 {
			continue
		}
		seen++
		ts, _ := entry["timestamp"].(float64)
		lastTS = ts

		classes, ids := changeReferences(changeData)
		for containsOutside(classes, names) || intersects(ids, nextIDs) {
			if semIdx < len(sems)-1 {
				mark(year, sem, 0)
				semIdx++
			} else if yearIdx < len(years)-1 {
				mark(year, sem, 0)
				yearIdx++
				semIdx = 0
				sems = semsOf(years[yearIdx])
				if len(sems) == 0 {
					return fmt.Errorf("学年 %s 没有学期数据", years[yearIdx])
				}
				starts[years[yearIdx]] = map[string]any{}
			} else {
				break
			}
			year, sem = current()
			names = stringSet(classNames(mustLookup(grades, year, sem)))
			nextIDs = next()
		}
		mark(year, sem, ts)
	}

	// 当前位置之后的学期以最后一次更新时间为起点
	if seen > 0 {
		for j := yearIdx; j < len(years); j++ {
			from := 0
			if j == yearIdx {
				from = semIdx + 1
			}
			ys := semsOf(years[j])
			for k := from; k < len(ys); k++ {
				if starts[years[j]] == nil {
					starts[years[j]] = map[string]any{}
				}
				starts[years[j]][ys[k]] = lastTS
			}
		}
	}

	out := make(map[string]any, len(years))
	for _, y := range years {
		for _, s := range semsOf(y) {
			mark(y, s, 0)
		}
		out[y] = starts[y]
	}
	doc.Data["updateStartTimestamps"] = out
	return nil
}

func mustLookup(root map[string]any, term, semester string) any {
	v, _ := lookup(root, term, semester)
	return v
}

// changeReferences 变更涉及的课程名，以及新增的作业 ID。
// 修改与移除的作业不参与学期判断，只有课程名会被计入。
func changeReferences(changeData map[string]any) ([]string, map[string]bool) {
	classSet := map[string]bool{}
	ids := map[string]bool{}
	for _, kind := range []string{"added", "modified", "removed", "overall"} {
		byClass, _ := asObject(changeData[kind])
		for name := range byClass {
			classSet[name] = true
		}
	}
	if added, ok := asObject(changeData["added"]); ok {
		for _, v := range added {
			list, _ := asArray(v)
			for _, id := range list {
				if key := psaidKey(id); key != "" {
					ids[key] = true
				}
			}
		}
	}
	classes := make([]string, 0, len(classSet))
	for name := range classSet {
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes, ids
}

// psaidKey 作业 ID 的字符串形式；缺失或为 0 时返回空串
func psaidKey(v any) string {
	switch id := v.(type) {
	case float64:
		if id == 0 {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case string:
		if id == "" || id == "0" {
			return ""
		}
		return id
	}
	return ""
}

func stringSet(list []string) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, s := range list {
		out[s] = true
	}
	return out
}

func containsOutside(list []string, set map[string]bool) bool {
	for _, s := range list {
		if !set[s] {
			return true
		}
	}
	return false
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
