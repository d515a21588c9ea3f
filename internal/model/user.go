package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// CurrentUserVersion 用户文档当前结构版本
const CurrentUserVersion = 19

// User 用户表，对应 users
// 结构化列用于查询与迁移加锁，其余内容存放在 document (jsonb) 中
type User struct {
	Username       string            `gorm:"type:varchar(64);primaryKey"            json:"username"`
	School         string            `gorm:"type:varchar(32);not null"              json:"school"`
	SchoolUsername string            `gorm:"type:varchar(128);not null"             json:"school_username"`
	Version        int               `gorm:"not null;default:0"                     json:"version"`
	SyncStatus     SyncStatus        `gorm:"type:varchar(32);not null;default:''"   json:"sync_status"`
	Document       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'::jsonb" json:"-"`
	BaseModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// Data 将 document 解码为类型化视图
func (u *User) Data() (*UserData, error) {
	raw, err := json.Marshal(u.Document)
	if err != nil {
		return nil, fmt.Errorf("序列化用户文档失败: %w", err)
	}
	var data UserData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("解析用户文档失败: %w", err)
	}
	data.ensure()
	return &data, nil
}

// UserData 用户文档中与同步相关的部分
type UserData struct {
	GradeBook
	UpdateStartTimestamps TermMap[int64] `json:"updateStartTimestamps"`
	UpdatedGradeHistory   []int64        `json:"updatedGradeHistory"`
	Alerts                Alerts         `json:"alerts"`
	SortingData           SortingData    `json:"sortingData"`
}

// NewUserData 所有键控容器已初始化的空文档视图
func NewUserData() UserData {
	var d UserData
	d.ensure()
	return d
}

func (d *UserData) ensure() {
	d.GradeBook.ensure()
	if d.UpdateStartTimestamps == nil {
		d.UpdateStartTimestamps = TermMap[int64]{}
	}
}

// Alerts 同步提醒
type Alerts struct {
	LastUpdated []UpdateEntry `json:"lastUpdated"`
}

// SortingData 用户手动排序数据
type SortingData struct {
	DateSort     []json.RawMessage `json:"dateSort"`
	CategorySort []json.RawMessage `json:"categorySort"`
}

// EmptySortingData 学期切换时重置的排序数据
func EmptySortingData() SortingData {
	return SortingData{DateSort: []json.RawMessage{}, CategorySort: []json.RawMessage{}}
}

// TrimmedUpdates 返回某学期范围内的更新记录：
// 起点为该学期的 updateStartTimestamps，终点为下一个更大的起始时间戳（不含）
func (d *UserData) TrimmedUpdates(term, semester string) []UpdateEntry {
	start, ok := d.UpdateStartTimestamps.Get(term, semester)
	if !ok {
		return []UpdateEntry{}
	}
	var all []int64
	for _, sems := range d.UpdateStartTimestamps {
		for _, ts := range sems {
			all = append(all, ts)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	end := int64(-1)
	for _, ts := range all {
		if ts > start {
			end = ts
			break
		}
	}

	out := make([]UpdateEntry, 0)
	for _, e := range d.Alerts.LastUpdated {
		if e.Timestamp < start {
			continue
		}
		if end != -1 && e.Timestamp >= end {
			continue
		}
		out = append(out, e)
	}
	return out
}

// HasSemester 该学期是否有可展示的成绩（存在非 CR/false 的等级或存在作业）
func (d *UserData) HasSemester(term, semester string) bool {
	classes, ok := d.Grades.Get(term, semester)
	if !ok {
		return false
	}
	for _, c := range classes {
		if len(c.Grades) > 0 {
			return true
		}
		if c.OverallLetter.Valid && c.OverallLetter.Value != "CR" {
			return true
		}
	}
	return false
}

// NowMillis 当前时间的毫秒时间戳
func NowMillis(t time.Time) int64 { return t.UnixMilli() }
