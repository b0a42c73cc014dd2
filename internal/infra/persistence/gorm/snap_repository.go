package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// GormSnapshotRepository 是 SnapshotRepository 接口的 GORM 实现
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository 创建 GormSnapshotRepository 实例
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSnapshotRepository")
	}
	return &GormSnapshotRepository{db: db}
}

// GetLatestSnapshot 获取指定房间 revision 最大的快照
func (r *GormSnapshotRepository) GetLatestSnapshot(ctx context.Context, roomID string) (*domain.RoomSnapshot, error) {
	var snapshot domain.RoomSnapshot
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("revision DESC").
		Order("created_at DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: failed to get latest snapshot for room %s: %w", roomID, err)
	}
	return &snapshot, nil
}

// SaveSnapshot 插入一条新的快照记录
func (r *GormSnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *domain.RoomSnapshot) error {
	err := r.db.WithContext(ctx).Create(snapshot).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save snapshot (room %s, revision %d): %w", snapshot.RoomID, snapshot.Revision, err)
	}
	return nil
}
