package service

import "github.com/graderoom/graderoom/internal/model"

// ── 变更计算 ──

// ComputeChanges 比较同一学期前后两次抓取的快照。
// 按 class_name 对齐；旧快照中不存在的课程只产生 added；
// 没有 psaid 的作业不参与 added/modified/removed；
// 任一新课程 ps_locked 时 overall 为空。
func ComputeChanges(old, cur []model.ClassGrade) model.ChangeSet {
	changes := model.NewChangeSet()
	locked := model.AnyLocked(cur)

	for i := range cur {
		next := &cur[i]
		idx := model.IndexOfClass(old, next.ClassName)
		if idx == -1 {
			if ids := psaids(next.Grades); len(ids) > 0 {
				changes.Added[next.ClassName] = ids
			}
			continue
		}
		prev := &old[idx]

		before := indexByPSAID(prev.Grades)
		after := indexByPSAID(next.Grades)

		var added []model.PSAID
		var modified []model.Assignment
		for _, a := range next.Grades {
			if a.PSAID == 0 {
				continue
			}
			p, ok := before[a.PSAID]
			if !ok {
				added = append(added, a.PSAID)
				continue
			}
			if p != a {
				modified = append(modified, p)
			}
		}
		var removed []model.Assignment
		for _, a := range prev.Grades {
			if a.PSAID == 0 {
				continue
			}
			if _, ok := after[a.PSAID]; !ok {
				removed = append(removed, a)
			}
		}

		if len(added) > 0 {
			changes.Added[next.ClassName] = added
		}
		if len(modified) > 0 {
			changes.Modified[next.ClassName] = modified
		}
		if len(removed) > 0 {
			changes.Removed[next.ClassName] = removed
		}
		if !locked {
			if overall := overallChanges(prev, next, true); len(overall) > 0 {
				changes.Overall[next.ClassName] = overall
			}
		}
	}
	return changes
}

// historyChanges 历史回填只比较总评
func historyChanges(old, cur []model.ClassGrade, into model.ChangeSet) {
	for i := range old {
		idx := model.IndexOfClass(cur, old[i].ClassName)
		if idx == -1 {
			continue
		}
		if overall := overallChanges(&old[i], &cur[idx], false); len(overall) > 0 {
			into.Overall[old[i].ClassName] = overall
		}
	}
}

// overallChanges 非作业字段的变化，值取新快照
func overallChanges(prev, next *model.ClassGrade, full bool) map[string]any {
	out := map[string]any{}
	if prev.OverallPercent != next.OverallPercent {
		out["overall_percent"] = next.OverallPercent
	}
	if prev.OverallLetter != next.OverallLetter {
		out["overall_letter"] = next.OverallLetter
	}
	if !full {
		return out
	}
	if prev.TeacherName != next.TeacherName {
		out["teacher_name"] = next.TeacherName
	}
	if prev.StudentID != next.StudentID {
		out["student_id"] = next.StudentID
	}
	if prev.SectionID != next.SectionID {
		out["section_id"] = next.SectionID
	}
	return out
}

func psaids(grades []model.Assignment) []model.PSAID {
	var out []model.PSAID
	for _, a := range grades {
		if a.PSAID != 0 {
			out = append(out, a.PSAID)
		}
	}
	return out
}

func indexByPSAID(grades []model.Assignment) map[model.PSAID]model.Assignment {
	out := make(map[model.PSAID]model.Assignment, len(grades))
	for _, a := range grades {
		if a.PSAID != 0 {
			out[a.PSAID] = a
		}
	}
	return out
}
