package model

import (
	"fmt"
	"math"
	"sort"

	pkgerrors "github.com/graderoom/graderoom/pkg/errors"
)

var (
	ErrInvalidWeights  = fmt.Errorf("%w: 权重必须在 0-100 之间", pkgerrors.ErrValidation)
	ErrWeightsRequired = fmt.Errorf("%w: 启用权重时至少需要一个非空权重", pkgerrors.ErrValidation)
)

// Weights 类别 → 权重；nil 表示该类别不参与加权（按分数计）
type Weights map[string]*float64

// W 便捷构造非空权重
func W(v float64) *float64 { return &v }

// Clone 深拷贝
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		if v == nil {
			out[k] = nil
			continue
		}
		c := *v
		out[k] = &c
	}
	return out
}

// Keys 排序后的类别
func (w Weights) Keys() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AllNull 是否全部为空（空 map 也视为全部为空）
func (w Weights) AllNull() bool {
	for _, v := range w {
		if v != nil {
			return false
		}
	}
	return true
}

// Equal 键集合与取值完全一致
func (w Weights) Equal(o Weights) bool {
	if len(w) != len(o) {
		return false
	}
	for k, v := range w {
		ov, ok := o[k]
		if !ok {
			return false
		}
		if (v == nil) != (ov == nil) {
			return false
		}
		if v != nil && *v != *ov {
			return false
		}
	}
	return true
}

// WeightScheme 一套权重方案
type WeightScheme struct {
	Weights    Weights `json:"weights"`
	HasWeights bool    `json:"hasWeights"`
}

// Equal 方案值相等
func (s WeightScheme) Equal(o WeightScheme) bool {
	return s.HasWeights == o.HasWeights && s.Weights.Equal(o.Weights)
}

// ClassWeight 用户某门课程的权重，与 grades 按下标对齐
type ClassWeight struct {
	ClassName  string  `json:"className"`
	Weights    Weights `json:"weights"`
	HasWeights bool    `json:"hasWeights"`
	Custom     bool    `json:"custom"`
}

// Scheme 取出权重方案部分
func (c ClassWeight) Scheme() WeightScheme {
	return WeightScheme{Weights: c.Weights, HasWeights: c.HasWeights}
}

// NormalizeWeights 校验并规范化权重
//   - 非空权重必须为有限值且位于 [0, 100]
//   - hasWeights 为 true 时必须至少有一个非空权重
//   - categories 中存在但 weights 缺失的类别补为 nil
//   - hasWeights 为 false 时所有值置为 nil
func NormalizeWeights(hasWeights bool, weights Weights, categories []string) (bool, Weights, error) {
	out := weights.Clone()
	for k, v := range out {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 || *v > 100 {
			return false, nil, fmt.Errorf("%w (%s=%v)", ErrInvalidWeights, k, *v)
		}
	}
	if hasWeights && out.AllNull() {
		return false, nil, ErrWeightsRequired
	}
	for _, c := range categories {
		if _, ok := out[c]; !ok {
			out[c] = nil
		}
	}
	if !hasWeights {
		for k := range out {
			out[k] = nil
		}
	}
	return hasWeights, out, nil
}

// normalizedScheme 不做校验的规范化，仅用于比较
func normalizedScheme(s WeightScheme) WeightScheme {
	w := s.Weights.Clone()
	if !s.HasWeights {
		for k := range w {
			w[k] = nil
		}
	}
	return WeightScheme{Weights: w, HasWeights: s.HasWeights}
}

// IsCustom 用户方案与教师标准方案是否不同
func IsCustom(effective, canonical WeightScheme) bool {
	return !normalizedScheme(effective).Equal(normalizedScheme(canonical))
}
