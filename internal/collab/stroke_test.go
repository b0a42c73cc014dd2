package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
)

func TestStrokeRecorder_CommitOnUp(t *testing.T) {
	var r StrokeRecorder
	assert.False(t, r.Move(domain.DrawingPoint{X: 1, Y: 1}), "未按下时的移动应被忽略")

	r.Down(domain.DrawingPoint{X: 0, Y: 0, Color: "#ff0000", StrokeWidth: 5})
	r.Move(domain.DrawingPoint{X: 1, Y: 1})
	r.Move(domain.DrawingPoint{X: 2, Y: 2})

	line, ok := r.Up()
	require.True(t, ok)
	assert.Len(t, line.Points, 3)
	assert.Equal(t, "#ff0000", line.Color)
	assert.Equal(t, float64(5), line.StrokeWidth)
	assert.False(t, r.Active())

	_, ok = r.Up()
	assert.False(t, ok, "重复抬起不应提交")
}

func TestStrokeRecorder_LeaveCommitsInProgressStroke(t *testing.T) {
	var r StrokeRecorder
	r.Down(domain.DrawingPoint{X: 10, Y: 10})
	r.Move(domain.DrawingPoint{X: 20, Y: 10})

	line, ok := r.Leave()
	require.True(t, ok)
	assert.Len(t, line.Points, 2)
	assert.Equal(t, domain.DefaultLineColor, line.Color, "缺省颜色应被补全")
}
