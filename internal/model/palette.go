package model

import (
	"fmt"
	"math"
)

// 调色板预设
const (
	PalettePale   = "pale"
	PalettePastel = "pastel"
	PaletteClear  = "clear"
	PaletteBright = "bright"
	PaletteDull   = "dull"
)

// PaletteSize 课程颜色数量
const PaletteSize = 18

var paletteHues = [PaletteSize]float64{0, 30, 60, 120, 180, 240, 270, 300, 330, 15, 45, 90, 150, 210, 255, 285, 315, 345}

// Palette 按预设生成 18 种课程颜色（#rrggbb）；未知预设按 clear 处理
func Palette(preset string) []string {
	s, l := 0.7, 0.6
	switch preset {
	case PalettePale:
		s, l = 0.7, 0.8
	case PalettePastel:
		s, l = 0.8, 0.7
	case PaletteBright:
		s, l = 0.8, 0.5
	case PaletteDull:
		s, l = 0.7, 0.4
	}
	out := make([]string, PaletteSize)
	for i, h := range paletteHues {
		out[i] = hslHex(h, s, l)
	}
	return out
}

func hslHex(h, s, l float64) string {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := l - c/2
	return fmt.Sprintf("#%02x%02x%02x", channel(r+m), channel(g+m), channel(b+m))
}

func channel(v float64) int {
	n := int(math.Round(v * 255))
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}
