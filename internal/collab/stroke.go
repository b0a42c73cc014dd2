package collab

import "github.com/ayzthp/ColabCode/internal/domain"

// StrokeRecorder 在指针按下期间累积采样点，抬起或离开画布时提交为一条笔画。
type StrokeRecorder struct {
	active bool
	color  string
	width  float64
	points []domain.DrawingPoint
}

// Down 开始一条新笔画，正在进行的笔画会被丢弃
func (r *StrokeRecorder) Down(p domain.DrawingPoint) {
	r.active = true
	r.color = p.Color
	r.width = p.StrokeWidth
	r.points = append(r.points[:0:0], p)
}

// Move 在按下状态时追加采样点，返回是否被记录
func (r *StrokeRecorder) Move(p domain.DrawingPoint) bool {
	if !r.active || len(r.points) >= domain.MaxLinePoints {
		return false
	}
	r.points = append(r.points, p)
	return true
}

// Up 结束笔画并返回要提交的内容
func (r *StrokeRecorder) Up() (domain.DrawingLine, bool) {
	if !r.active {
		return domain.DrawingLine{}, false
	}
	line := domain.DrawingLine{Points: r.points, Color: r.color, StrokeWidth: r.width}.Normalize()
	r.active = false
	r.points = nil
	return line, true
}

// Leave 与 Up 走同一条提交路径，避免按住拖出画布时丢失笔画
func (r *StrokeRecorder) Leave() (domain.DrawingLine, bool) {
	return r.Up()
}

// Active 返回是否正在绘制
func (r *StrokeRecorder) Active() bool {
	return r.active
}
