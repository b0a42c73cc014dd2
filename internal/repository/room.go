package repository

import (
	"context"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// RoomRepository 定义了房间元数据在数据库中的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间，不存在时返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id string) (*domain.RoomRecord, error)

	// FindByInviteCode 根据邀请码查找房间，不存在时返回 ErrRoomNotFound。
	FindByInviteCode(ctx context.Context, code string) (*domain.RoomRecord, error)

	// Save 创建或更新房间元数据。邀请码冲突时返回 ErrDuplicateEntry。
	Save(ctx context.Context, room *domain.RoomRecord) error

	// ListPublic 按创建时间倒序列出公开房间。
	ListPublic(ctx context.Context, limit int) ([]domain.RoomRecord, error)

	// IsInviteCodeExists 检查邀请码是否已存在。
	IsInviteCodeExists(ctx context.Context, code string) (bool, error)

	// UpdateVisibility 更新房间的公开/私有状态。
	UpdateVisibility(ctx context.Context, id string, isPublic bool) error

	// TouchLastActive 刷新房间的最后活跃时间。
	TouchLastActive(ctx context.Context, id string) error
}
