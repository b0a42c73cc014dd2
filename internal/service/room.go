package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// 房间人数上限的取值范围
const (
	MinParticipants = 2
	MaxParticipants = 50
)

// CreateRoomInput 是创建房间所需的参数
type CreateRoomInput struct {
	Title           string
	Description     string
	IsPublic        bool
	MaxParticipants int
}

// RoomLoader 读取房间文档，实时文档缺失时负责从数据库恢复。*RoomService 实现了它。
type RoomLoader interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}

// loadRoom 优先通过 rooms 读取，以便触发恢复
func loadRoom(ctx context.Context, store repository.RoomStore, rooms RoomLoader, roomID string) (*domain.Room, error) {
	if rooms != nil {
		return rooms.GetRoom(ctx, roomID)
	}
	room, err := store.Get(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return room, nil
}

// RoomService 负责房间管理、成员、编辑令牌和共享代码相关的业务逻辑。
// 所有对共享文档的写入都经过 RoomStore.Mutate，并在事务函数内校验权限。
type RoomService struct {
	roomRepo     repository.RoomRepository
	snapshotRepo repository.SnapshotRepository
	lineRepo     repository.DrawingLineRepository
	store        repository.RoomStore
	now          func() time.Time
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	roomRepo repository.RoomRepository,
	snapshotRepo repository.SnapshotRepository,
	lineRepo repository.DrawingLineRepository,
	store repository.RoomStore,
) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if store == nil {
		panic("RoomStore cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo:     roomRepo,
		snapshotRepo: snapshotRepo,
		lineRepo:     lineRepo,
		store:        store,
		now:          time.Now,
	}
}

// CreateRoom 创建一个新房间，创建者成为房主和当前编辑者。
func (s *RoomService) CreateRoom(ctx context.Context, host domain.Identity, input CreateRoomInput) (*domain.Room, error) {
	logCtx := logrus.WithField("host_id", host.ID)

	title := strings.TrimSpace(input.Title)
	if host.ID == "" || title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	maxParticipants := input.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = domain.DefaultMaxParticipants
	}
	if maxParticipants < MinParticipants || maxParticipants > MaxParticipants {
		return nil, fmt.Errorf("%w: maxParticipants must be between %d and %d", ErrInvalidInput, MinParticipants, MaxParticipants)
	}

	// 1. 生成唯一的邀请码
	inviteCode, err := s.generateUniqueInviteCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique invite code")
		return nil, ErrInternalServer
	}

	// 2. 构造房间文档
	room := domain.NewRoom(uuid.NewString(), host, title, strings.TrimSpace(input.Description), input.IsPublic, maxParticipants, s.now())
	room.InviteCode = inviteCode
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": room.ID, "invite_code": inviteCode})

	// 3. 持久化元数据
	if err := s.roomRepo.Save(ctx, domain.NewRoomRecord(room)); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Error("Failed to save new room due to duplicate entry (invite code conflict?)")
		} else {
			logCtx.WithError(err).Error("Failed to save new room to database")
		}
		return nil, ErrInternalServer
	}

	// 4. 写入实时文档
	if err := s.store.Create(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to create live room document")
		return nil, mapRepoError(err)
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// GetRoom 读取房间的实时文档。
// 实时文档缺失 (例如 Redis 被清空) 时，从数据库的最新快照恢复。
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.store.Get(ctx, roomID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logrus.WithField("room_id", roomID).WithError(err).Error("GetRoom: store error")
		return nil, mapRepoError(err)
	}
	return s.restoreRoom(ctx, roomID, true)
}

// GetRoomForViewer 读取房间文档并校验读取权限。私有房间只对房主和成员可见。
func (s *RoomService) GetRoomForViewer(ctx context.Context, roomID, viewerID string) (*domain.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertCapability(viewerID, room, domain.CapabilityView); err != nil {
		return nil, err
	}
	return room, nil
}

// restoreRoom 从数据库重建实时文档和笔画日志。
// announce 为 false 时调用方紧接着会提交一次修改，由那次提交通知订阅方。
func (s *RoomService) restoreRoom(ctx context.Context, roomID string, announce bool) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "restoreRoom"})

	record, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room record")
		return nil, ErrInternalServer
	}

	room := record.ToRoom()
	if s.snapshotRepo != nil {
		snapshot, err := s.snapshotRepo.GetLatestSnapshot(ctx, roomID)
		switch {
		case err == nil:
			if restored, parseErr := snapshot.ParseRoom(); parseErr == nil {
				room = restored
				// 元数据以数据库为准
				room.IsPublic = record.IsPublic
				room.InviteCode = record.InviteCode
			} else {
				logCtx.WithError(parseErr).Warn("Failed to parse latest snapshot, falling back to room record")
			}
		case errors.Is(err, repository.ErrSnapshotNotFound):
			logCtx.Info("No snapshot found, restoring room from record")
		default:
			logCtx.WithError(err).Warn("Failed to load latest snapshot, falling back to room record")
		}
	}

	room.PrepareRestore(s.now())

	// 先写入笔画，文档可见时日志已经完整
	if s.lineRepo != nil {
		if err := s.restoreLines(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to restore drawing lines")
		}
	}

	if err := s.store.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 另一个请求已完成恢复
			existing, getErr := s.store.Get(ctx, roomID)
			return existing, mapRepoError(getErr)
		}
		logCtx.WithError(err).Error("Failed to write restored room document")
		return nil, mapRepoError(err)
	}

	if announce {
		if announced := s.announceRestored(ctx, roomID); announced != nil {
			room = announced
		}
	}
	logCtx.WithFields(logrus.Fields{"revision": room.Revision, "epoch": room.Epoch}).Info("Room restored from database")
	return room, nil
}

// announceRestored 提交一次空修改。Create 不发布事件，已连接的订阅方靠这次提交拿到恢复后的文档。
func (s *RoomService) announceRestored(ctx context.Context, roomID string) *domain.Room {
	room, err := s.store.Mutate(ctx, roomID, func(*domain.Room) error { return nil })
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to announce restored room document")
		return nil
	}
	return room
}

// mutate 提交一次文档修改。实时文档缺失时先从数据库恢复，再重试一次。
func (s *RoomService) mutate(ctx context.Context, roomID string, fn repository.MutateFunc) (*domain.Room, error) {
	room, err := s.store.Mutate(ctx, roomID, fn)
	if errors.Is(err, repository.ErrNotFound) {
		restored, restoreErr := s.restoreRoom(ctx, roomID, false)
		if restoreErr != nil {
			return nil, restoreErr
		}
		room, err = s.store.Mutate(ctx, roomID, fn)
		if err != nil || room.Revision == restored.Revision {
			// 重试没有产生提交
			s.announceRestored(ctx, roomID)
		}
	}
	if err != nil {
		return nil, mapRepoError(err)
	}
	return room, nil
}

func (s *RoomService) restoreLines(ctx context.Context, roomID string) error {
	records, err := s.lineRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	lines := make([]domain.DrawingLine, 0, len(records))
	for i := range records {
		line, err := records[i].ParseLine()
		if err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("Skipping corrupt drawing line record")
			continue
		}
		lines = append(lines, line)
	}
	return s.store.RestoreLines(ctx, roomID, lines)
}

// ListPublicRooms 按创建时间倒序列出公开房间
func (s *RoomService) ListPublicRooms(ctx context.Context, limit int) ([]domain.RoomRecord, error) {
	rooms, err := s.roomRepo.ListPublic(ctx, limit)
	if err != nil {
		logrus.WithError(err).Error("ListPublicRooms: repository error")
		return nil, ErrInternalServer
	}
	return rooms, nil
}

// SetVisibility 切换房间的公开/私有状态，仅房主
func (s *RoomService) SetVisibility(ctx context.Context, roomID, actorID string, isPublic bool) (*domain.Room, error) {
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityModerate); err != nil {
			return err
		}
		if room.IsPublic == isPublic {
			return repository.ErrNoChange
		}
		room.IsPublic = isPublic
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := s.roomRepo.UpdateVisibility(ctx, roomID, isPublic); err != nil {
		// 实时文档已更新，列表会在下次快照后修正
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to persist room visibility")
	}
	return room, nil
}

// --- 私有辅助函数 ---

// generateUniqueInviteCode 生成唯一的邀请码
func (s *RoomService) generateUniqueInviteCode(ctx context.Context) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 6
	const maxAttempts = 10

	b := make([]byte, codeLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		code := string(b)

		exists, err := s.roomRepo.IsInviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking invite code: %w", err)
		}
		if !exists {
			logrus.WithField("invite_code", code).Debugf("Generated unique invite code after %d attempt(s).", attempt+1)
			return code, nil
		}
		logrus.WithField("invite_code", code).Warnf("Generated invite code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique invite code after %d attempts", maxAttempts)
}
