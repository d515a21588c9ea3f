package model

// ChangeSet 两次相邻同步之间某学期的变更
type ChangeSet struct {
	Added    map[string][]PSAID        `json:"added"`
	Modified map[string][]Assignment   `json:"modified"`
	Removed  map[string][]Assignment   `json:"removed"`
	Overall  map[string]map[string]any `json:"overall"`
}

// NewChangeSet 四个子 map 均已初始化的空变更
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Added:    map[string][]PSAID{},
		Modified: map[string][]Assignment{},
		Removed:  map[string][]Assignment{},
		Overall:  map[string]map[string]any{},
	}
}

// Empty 是否没有任何变更
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0 && len(c.Overall) == 0
}

// RemovedIDs 某课程被移除的作业 ID
func (c ChangeSet) RemovedIDs(className string) []PSAID {
	out := make([]PSAID, 0, len(c.Removed[className]))
	for _, a := range c.Removed[className] {
		if a.PSAID != 0 {
			out = append(out, a.PSAID)
		}
	}
	return out
}

// UpdateEntry alerts.lastUpdated 中的一条记录，写入后不可变
type UpdateEntry struct {
	Timestamp  int64     `json:"timestamp"`
	ChangeData ChangeSet `json:"changeData"`
	PSLocked   bool      `json:"ps_locked"`
}
