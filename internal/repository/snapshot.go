package repository

import (
	"context"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// SnapshotRepository 定义了房间文档快照在数据库中的操作。
type SnapshotRepository interface {
	// GetLatestSnapshot 获取指定房间的最新快照，没有时返回 ErrSnapshotNotFound。
	GetLatestSnapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)

	// SaveSnapshot 保存快照记录。
	SaveSnapshot(ctx context.Context, snapshot *domain.RoomSnapshot) error
}
