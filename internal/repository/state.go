package repository

import (
	"context"
	"time"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// EventKind 区分房间事件的类型
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventLine     EventKind = "line"
)

// RoomEvent 是订阅者收到的房间通知。
// snapshot 事件携带完整文档；line 事件携带新追加的笔画及其在日志中的位置。
type RoomEvent struct {
	Kind      EventKind           `json:"kind"`
	Room      *domain.Room        `json:"room,omitempty"`
	Line      *domain.DrawingLine `json:"line,omitempty"`
	LineIndex int                 `json:"index"`
}

// MutateFunc 在存储层的原子事务内修改房间文档的副本。
// 返回错误时不提交；返回 ErrNoChange 时不提交也不视为失败。
type MutateFunc func(room *domain.Room) error

// RoomStore 是房间实时文档的唯一数据源 (Room State Store)。
// 每次提交都会递增 Revision 并按提交顺序通知订阅者；
// 订阅者可能错过中间状态 (按字段最后写入者胜出)，但最终一定看到最新状态。
type RoomStore interface {
	// Create 写入新房间文档，已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// Get 读取房间文档，不存在时返回 ErrRoomNotFound。
	Get(ctx context.Context, roomID string) (*domain.Room, error)

	// Mutate 原子地读取-修改-写回房间文档，并发布 snapshot 事件。
	Mutate(ctx context.Context, roomID string, fn MutateFunc) (*domain.Room, error)

	// AppendLine 向房间的笔画日志追加一条记录，返回它的位置，并发布 line 事件。
	AppendLine(ctx context.Context, roomID string, line domain.DrawingLine) (int, error)

	// RestoreLines 在日志为空时批量写入笔画 (用于从数据库恢复)，不发布事件。
	RestoreLines(ctx context.Context, roomID string, lines []domain.DrawingLine) error

	// Lines 按顺序返回房间的全部笔画。
	Lines(ctx context.Context, roomID string) ([]domain.DrawingLine, error)

	// Subscribe 订阅房间事件，ctx 取消后通道关闭。
	Subscribe(ctx context.Context, roomID string) (<-chan RoomEvent, error)

	// CheckRateLimit 检查给定 key 的调用频率是否超限，并递增计数。
	// 返回 true 表示超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
