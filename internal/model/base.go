package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BaseModel 通用审计字段
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// VersionedModel 支持乐观锁的模型
type VersionedModel struct {
	BaseModel
	Version int `gorm:"not null;default:1" json:"version"`
}

// ── 数值或 false ──

// Score 门户返回的数值字段：数字，或 false 表示不可用。
// JSON null 也按不可用处理，序列化时统一写为 false。
type Score struct {
	Value float64
	Valid bool
}

// NumberScore 构造有效分值
func NumberScore(v float64) Score { return Score{Value: v, Valid: true} }

// MarshalJSON 不可用时输出 false
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("false"), nil
	}
	return []byte(strconv.FormatFloat(s.Value, 'f', -1, 64)), nil
}

// UnmarshalJSON 兼容数字、false/null 以及历史数据中的 "93%" 字符串
func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")), bytes.Equal(b, []byte("true")):
		*s = Score{}
		return nil
	case b[0] == '"':
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
		if raw == "" {
			*s = Score{}
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("Score: 无法解析 %q", raw)
		}
		*s = NumberScore(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("Score: %w", err)
	}
	*s = NumberScore(v)
	return nil
}

// Letter 字符串或 false（例如 overall_letter）
type Letter struct {
	Value string
	Valid bool
}

// TextLetter 构造有效字母等级
func TextLetter(v string) Letter { return Letter{Value: v, Valid: true} }

// MarshalJSON 不可用时输出 false
func (l Letter) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("false"), nil
	}
	return json.Marshal(l.Value)
}

// UnmarshalJSON 非字符串值一律视为不可用
func (l *Letter) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		*l = Letter{}
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = TextLetter(v)
	return nil
}

// ── PSAID ──

// PSAID 门户作业 ID；0 表示手动录入、无 ID 的作业。
// 历史数据中可能以字符串形式存储，解码时一并兼容。
type PSAID int64

// Key 以字符串形式表示，用作 editedAssignments 的键
func (p PSAID) Key() string { return strconv.FormatInt(int64(p), 10) }

// UnmarshalJSON 兼容数字与数字字符串
func (p *PSAID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("false")) {
		*p = 0
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		if raw == "" {
			*p = 0
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("PSAID: 无法解析 %q", raw)
		}
		*p = PSAID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("PSAID: %w", err)
	}
	*p = PSAID(v)
	return nil
}

// ParsePSAID 解析 editedAssignments 中的字符串键
func ParsePSAID(key string) (PSAID, bool) {
	v, err := strconv.ParseInt(key, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return PSAID(v), true
}
