package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/tasks"
)

// LinePersistenceHandler 处理笔画持久化任务
type LinePersistenceHandler struct {
	lineRepo repository.DrawingLineRepository
}

// NewLinePersistenceHandler 创建 Handler 实例
func NewLinePersistenceHandler(lineRepo repository.DrawingLineRepository) *LinePersistenceHandler {
	if lineRepo == nil {
		panic("DrawingLineRepository cannot be nil for LinePersistenceHandler")
	}
	return &LinePersistenceHandler{lineRepo: lineRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *LinePersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	payload, err := tasks.ParseDrawingLinePersistPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "line_index": payload.LineIndex})

	record := domain.DrawingLineRecord{
		RoomID:    payload.RoomID,
		LineIndex: payload.LineIndex,
		UserID:    payload.UserID,
	}
	if err := record.SetLine(payload.Line); err != nil {
		logCtx.WithError(err).Error("Failed to encode drawing line")
		return fmt.Errorf("failed to encode line: %v: %w", err, asynq.SkipRetry)
	}

	// (room_id, line_index) 唯一，重试不会产生重复记录
	if err := h.lineRepo.SaveBatch(ctx, []domain.DrawingLineRecord{record}); err != nil {
		logCtx.WithError(err).Error("Failed to save drawing line")
		return fmt.Errorf("failed to save line %d of room %s: %w", payload.LineIndex, payload.RoomID, err)
	}

	logCtx.Debug("Drawing line persisted")
	return nil
}
