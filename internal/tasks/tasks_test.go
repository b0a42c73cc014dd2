package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
)

func TestDrawingLinePersistTask_Payload(t *testing.T) {
	line := domain.DrawingLine{Points: []domain.DrawingPoint{{X: 1, Y: 2}}, Color: "#123456", StrokeWidth: 4}
	task, err := NewDrawingLinePersistTask(DrawingLinePersistPayload{RoomID: "r1", UserID: "u1", LineIndex: 3, Line: line})
	require.NoError(t, err)
	assert.Equal(t, TypeDrawingLinePersist, task.Type())

	payload, err := ParseDrawingLinePersistPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "r1", payload.RoomID)
	assert.Equal(t, 3, payload.LineIndex)
	assert.Equal(t, line, payload.Line)
}

func TestParseDrawingLinePersistPayload_Invalid(t *testing.T) {
	_, err := ParseDrawingLinePersistPayload(asynq.NewTask(TypeDrawingLinePersist, []byte("not-json")))
	assert.Error(t, err)

	_, err = ParseDrawingLinePersistPayload(asynq.NewTask(TypeDrawingLinePersist, []byte(`{"line_index":1}`)))
	assert.Error(t, err, "缺少房间 ID 的任务应被拒绝")
}
