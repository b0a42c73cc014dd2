package collab

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// 服务端回放画布的默认尺寸
const (
	DefaultCanvasWidth  = 800
	DefaultCanvasHeight = 600
)

// RenderLines 清空画布后按日志顺序回放每条笔画。
// 回放只依赖日志内容，同一份日志多次渲染得到相同的像素。
func RenderLines(lines []domain.DrawingLine, width, height int) *image.RGBA {
	if width <= 0 {
		width = DefaultCanvasWidth
	}
	if height <= 0 {
		height = DefaultCanvasHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = white.R, white.G, white.B, white.A
	}
	for _, line := range lines {
		drawLine(img, line)
	}
	return img
}

func drawLine(img *image.RGBA, line domain.DrawingLine) {
	if len(line.Points) == 0 {
		return
	}
	c := ParseColor(line.Color)
	width := line.StrokeWidth
	if width <= 0 {
		width = domain.DefaultLineStroke
	}
	radius := width / 2

	prev := line.Points[0]
	stamp(img, prev.X, prev.Y, radius, c)
	for _, p := range line.Points[1:] {
		segment(img, prev.X, prev.Y, p.X, p.Y, radius, c)
		prev = p
	}
}

// segment 沿两点之间以不超过 1 像素的步长盖章
func segment(img *image.RGBA, x0, y0, x1, y1, radius float64, c color.RGBA) {
	dx, dy := x1-x0, y1-y0
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		stamp(img, x1, y1, radius, c)
		return
	}
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stamp(img, x0+dx*t, y0+dy*t, radius, c)
	}
}

// stamp 画一个实心圆
func stamp(img *image.RGBA, cx, cy, radius float64, c color.RGBA) {
	b := img.Bounds()
	if radius < 0.5 {
		radius = 0.5
	}
	minX := int(math.Floor(cx - radius))
	maxX := int(math.Ceil(cx + radius))
	minY := int(math.Floor(cy - radius))
	maxY := int(math.Ceil(cy + radius))
	r2 := radius * radius
	for y := minY; y <= maxY; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			px, py := float64(x)+0.5-cx, float64(y)+0.5-cy
			if px*px+py*py <= r2 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// ParseColor 解析 "#rrggbb" 或 "#rgb"，无法解析时返回黑色
func ParseColor(s string) color.RGBA {
	black := color.RGBA{A: 255}
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return black
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return black
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
