package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// 定义任务类型常量
const (
	TypeDrawingLinePersist    = "drawing:persist"     // 笔画持久化任务
	TypeSnapshotPeriodicCheck = "room:snapshot_check" // 周期性快照检查任务
)

// DrawingLinePersistPayload 是笔画持久化任务的数据
type DrawingLinePersistPayload struct {
	RoomID    string             `json:"room_id"`
	UserID    string             `json:"user_id"`
	LineIndex int                `json:"line_index"`
	Line      domain.DrawingLine `json:"line"`
}

// NewDrawingLinePersistTask 创建笔画持久化任务。
// TaskID 由房间和位置决定，重复入队会被 asynq 拒绝。
func NewDrawingLinePersistTask(payload DrawingLinePersistPayload) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDrawingLinePersist, payloadBytes,
		asynq.TaskID(fmt.Sprintf("line:%s:%d", payload.RoomID, payload.LineIndex)),
		asynq.MaxRetry(5),
	), nil
}

// ParseDrawingLinePersistPayload 解析笔画持久化任务
func ParseDrawingLinePersistPayload(t *asynq.Task) (DrawingLinePersistPayload, error) {
	var payload DrawingLinePersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.RoomID == "" {
		return payload, fmt.Errorf("drawing line payload has no room id")
	}
	return payload, nil
}

// NewSnapshotPeriodicCheckTask 创建周期性快照检查任务 (无 payload)
func NewSnapshotPeriodicCheckTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotPeriodicCheck, nil)
}
