package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/service"
)

// 单个房间快照检查的超时
const snapshotCheckTimeout = 30 * time.Second

// ActiveRooms 提供当前有连接的房间 ID (由 Hub 实现)
type ActiveRooms interface {
	GetActiveRoomIDs() []string
}

// SnapshotChecker 检查并按需生成快照 (由 SnapshotService 实现)
type SnapshotChecker interface {
	CheckAndGenerateSnapshot(ctx context.Context, roomID string, mark service.SnapshotMark) (service.SnapshotMark, error)
}

// SnapshotCheckHandler 处理周期性的快照检查任务
type SnapshotCheckHandler struct {
	rooms   ActiveRooms
	checker SnapshotChecker

	mu    sync.Mutex
	marks map[string]service.SnapshotMark
}

// NewSnapshotCheckHandler 创建 Handler 实例
func NewSnapshotCheckHandler(rooms ActiveRooms, checker SnapshotChecker) *SnapshotCheckHandler {
	if rooms == nil {
		panic("ActiveRooms cannot be nil for SnapshotCheckHandler")
	}
	if checker == nil {
		panic("SnapshotChecker cannot be nil for SnapshotCheckHandler")
	}
	return &SnapshotCheckHandler{
		rooms:   rooms,
		checker: checker,
		marks:   make(map[string]service.SnapshotMark),
	}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SnapshotCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	logrus.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()}).Info("Processing periodic snapshot check task...")
	h.CheckActiveRooms(ctx)
	return nil
}

// CheckActiveRooms 检查所有活跃房间。单个房间失败只记录日志，不影响其他房间。
func (h *SnapshotCheckHandler) CheckActiveRooms(ctx context.Context) {
	activeRoomIDs := h.rooms.GetActiveRoomIDs()
	h.pruneMarks(activeRoomIDs)
	if len(activeRoomIDs) == 0 {
		logrus.Debug("No active rooms found, skipping snapshot check.")
		return
	}
	logrus.Infof("Found %d active rooms to check.", len(activeRoomIDs))

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	failed := 0
	for _, roomID := range activeRoomIDs {
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			if err := h.checkRoom(ctx, roomID); err != nil {
				failedMu.Lock()
				failed++
				failedMu.Unlock()
			}
		}(roomID)
	}
	wg.Wait()

	if failed > 0 {
		logrus.Errorf("Snapshot check completed with %d errors for some rooms.", failed)
		return
	}
	logrus.Info("Periodic snapshot check task completed successfully.")
}

func (h *SnapshotCheckHandler) checkRoom(ctx context.Context, roomID string) error {
	logCtx := logrus.WithField("room_id", roomID)

	h.mu.Lock()
	mark := h.marks[roomID]
	h.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, snapshotCheckTimeout)
	defer cancel()
	next, err := h.checker.CheckAndGenerateSnapshot(checkCtx, roomID, mark)
	if err != nil {
		logCtx.WithError(err).Error("Snapshot check/generation failed for room")
		return err
	}
	if next != mark {
		h.mu.Lock()
		h.marks[roomID] = next
		h.mu.Unlock()
	}
	return nil
}

// pruneMarks 丢弃已经没有连接的房间的标记
func (h *SnapshotCheckHandler) pruneMarks(active []string) {
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.marks {
		if _, ok := keep[id]; !ok {
			delete(h.marks, id)
		}
	}
}

// Mark 返回房间当前记录的快照标记
func (h *SnapshotCheckHandler) Mark(roomID string) (service.SnapshotMark, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mark, ok := h.marks[roomID]
	return mark, ok
}
