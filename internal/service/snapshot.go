package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// SnapshotMark 记录某个房间上一次成功保存快照的时间和 revision
type SnapshotMark struct {
	At       time.Time
	Revision uint64
}

// SnapshotService 定期把房间的实时文档备份到数据库，供实时存储丢失后恢复。
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	roomRepo     repository.RoomRepository
	store        repository.RoomStore
	now          func() time.Time
}

// NewSnapshotService 创建 SnapshotService 实例。
func NewSnapshotService(snapshotRepo repository.SnapshotRepository, roomRepo repository.RoomRepository, store repository.RoomStore) *SnapshotService {
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		roomRepo:     roomRepo,
		store:        store,
		now:          time.Now,
	}
}

// CheckAndGenerateSnapshot 检查房间自上次快照以来的变化量，按自适应间隔决定是否生成快照。
// 返回新的标记；未生成时原样返回 mark。
func (s *SnapshotService) CheckAndGenerateSnapshot(ctx context.Context, roomID string, mark SnapshotMark) (SnapshotMark, error) {
	logCtx := logrus.WithField("room_id", roomID)

	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load room document for snapshot")
		return mark, mapRepoError(err)
	}
	if room.Revision <= mark.Revision {
		logCtx.Debug("No changes since last snapshot")
		return mark, nil
	}

	changes := int(room.Revision - mark.Revision)
	interval := calculateSnapshotInterval(changes)
	if !shouldGenerateSnapshot(mark.At, interval, s.now()) {
		logCtx.Debugf("Snapshot condition not met (Last: %s, Interval: %s, ChangesSince: %d)",
			mark.At.Format(time.RFC3339), interval, changes)
		return mark, nil
	}

	snapshot := &domain.RoomSnapshot{}
	if err := snapshot.SetRoom(room); err != nil {
		logCtx.WithError(err).Error("Snapshot: Failed to serialize room document")
		return mark, ErrInternalServer
	}
	if err := s.snapshotRepo.SaveSnapshot(ctx, snapshot); err != nil {
		logCtx.WithError(err).Error("Snapshot: Failed to save snapshot to database repository")
		return mark, ErrInternalServer
	}
	if s.roomRepo != nil {
		if err := s.roomRepo.TouchLastActive(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Snapshot: Failed to touch room last_active")
		}
	}

	logCtx.WithField("revision", room.Revision).Info("Snapshot generated and saved.")
	return SnapshotMark{At: s.now(), Revision: room.Revision}, nil
}

// --- 快照辅助函数 ---

func calculateSnapshotInterval(changesSinceLast int) time.Duration {
	if changesSinceLast > 100 {
		return 30 * time.Second
	} else if changesSinceLast > 20 {
		return 2 * time.Minute
	}
	return 10 * time.Minute
}

func shouldGenerateSnapshot(last time.Time, interval time.Duration, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= interval
}
