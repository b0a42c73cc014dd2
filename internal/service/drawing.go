package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/collab"
	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/tasks"
)

// TaskEnqueuer 是 asynq.Client 的子集，便于测试替换
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DrawingService 负责共享画板的笔画日志
type DrawingService struct {
	store    repository.RoomStore
	rooms    RoomLoader
	lineRepo repository.DrawingLineRepository
	enqueuer TaskEnqueuer
}

// NewDrawingService 创建 DrawingService 实例。rooms 为 nil 时不做恢复。
func NewDrawingService(store repository.RoomStore, rooms RoomLoader, lineRepo repository.DrawingLineRepository, enqueuer TaskEnqueuer) *DrawingService {
	if store == nil {
		panic("RoomStore cannot be nil for DrawingService")
	}
	return &DrawingService{store: store, rooms: rooms, lineRepo: lineRepo, enqueuer: enqueuer}
}

// AppendLine 追加一条笔画，仅房主。返回笔画在日志中的位置。
// 房主身份在房间生命周期内不变，因此读取校验后再追加不会有竞态。
func (s *DrawingService) AppendLine(ctx context.Context, roomID, actorID string, line domain.DrawingLine) (int, error) {
	line = line.Normalize()
	if err := line.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}

	room, err := loadRoom(ctx, s.store, s.rooms, roomID)
	if err != nil {
		return 0, err
	}
	if err := assertCapability(actorID, room, domain.CapabilityDraw); err != nil {
		return 0, err
	}

	index, err := s.store.AppendLine(ctx, roomID, line)
	if err != nil {
		return 0, mapRepoError(err)
	}
	s.enqueuePersist(roomID, actorID, index, line)
	return index, nil
}

func (s *DrawingService) enqueuePersist(roomID, actorID string, index int, line domain.DrawingLine) {
	if s.enqueuer == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "line_index": index})
	task, err := tasks.NewDrawingLinePersistTask(tasks.DrawingLinePersistPayload{
		RoomID:    roomID,
		UserID:    actorID,
		LineIndex: index,
		Line:      line,
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to create drawing line persistence task")
		return
	}
	if _, err := s.enqueuer.Enqueue(task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return
		}
		// 笔画已在实时日志中，下次快照前仍可恢复
		logCtx.WithError(err).Warn("Failed to enqueue drawing line persistence task")
		return
	}
	logCtx.Debug("Drawing line persistence task enqueued")
}

// Lines 返回房间的全部笔画。实时存储不可用时退回数据库中的持久化日志。
func (s *DrawingService) Lines(ctx context.Context, roomID string) ([]domain.DrawingLine, error) {
	lines, err := s.store.Lines(ctx, roomID)
	if err == nil {
		return lines, nil
	}
	if !errors.Is(err, repository.ErrStoreUnavailable) || s.lineRepo == nil {
		return nil, mapRepoError(err)
	}

	logrus.WithField("room_id", roomID).WithError(err).Warn("Room store unavailable, reading drawing lines from database")
	records, dbErr := s.lineRepo.ListByRoom(ctx, roomID)
	if dbErr != nil {
		return nil, ErrStoreUnavailable
	}
	lines = make([]domain.DrawingLine, 0, len(records))
	for i := range records {
		line, parseErr := records[i].ParseLine()
		if parseErr != nil {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ViewerLines 在校验读取权限后返回房间的全部笔画
func (s *DrawingService) ViewerLines(ctx context.Context, roomID, viewerID string) ([]domain.DrawingLine, error) {
	room, err := loadRoom(ctx, s.store, s.rooms, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertCapability(viewerID, room, domain.CapabilityView); err != nil {
		return nil, err
	}
	return s.Lines(ctx, roomID)
}

// RenderPNG 在服务端回放笔画日志并编码为 PNG
func (s *DrawingService) RenderPNG(ctx context.Context, roomID, viewerID string, width, height int) ([]byte, error) {
	lines, err := s.ViewerLines(ctx, roomID, viewerID)
	if err != nil {
		return nil, err
	}
	img := collab.RenderLines(lines, width, height)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}
