package repository

import (
	"context"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// DrawingLineRepository 定义了笔画日志的持久化操作。
type DrawingLineRepository interface {
	// SaveBatch 批量保存笔画记录，已存在的 (room_id, line_index) 会被忽略。
	SaveBatch(ctx context.Context, lines []domain.DrawingLineRecord) error

	// ListByRoom 按日志顺序返回房间的全部笔画。
	ListByRoom(ctx context.Context, roomID string) ([]domain.DrawingLineRecord, error)
}
