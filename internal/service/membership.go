package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// Join 在用户打开房间时把他加入成员名单。
// 按用户 ID upsert，同一用户的多个连接重复调用只会确认成员身份。
// 私有房间只允许已经通过邀请码加入的成员。
func (s *RoomService) Join(ctx context.Context, roomID string, identity domain.Identity) (*domain.Room, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.addParticipant(ctx, roomID, identity, false)
}

// JoinByInviteCode 通过邀请码加入房间 (公开和私有房间都可以)
func (s *RoomService) JoinByInviteCode(ctx context.Context, identity domain.Identity, inviteCode string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": identity.ID, "invite_code": inviteCode})

	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return nil, ErrInvalidInviteCode
	}
	record, err := s.roomRepo.FindByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("Failed to find room by invite code: Not found")
			return nil, ErrInvalidInviteCode
		}
		logCtx.WithError(err).Warn("Failed to find room by invite code: Repository error")
		return nil, ErrInternalServer
	}

	if _, err := s.GetRoom(ctx, record.ID); err != nil {
		return nil, err
	}
	room, err := s.addParticipant(ctx, record.ID, identity, true)
	if err != nil {
		return nil, err
	}
	logCtx.WithField("room_id", record.ID).Info("User joined room by invite code")
	return room, nil
}

func (s *RoomService) addParticipant(ctx context.Context, roomID string, identity domain.Identity, invited bool) (*domain.Room, error) {
	if identity.ID == "" {
		return nil, ErrInvalidInput
	}
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if p, ok := room.Participants[identity.ID]; ok {
			name := identity.DisplayName()
			if p.Name == name && p.Email == identity.Email {
				return repository.ErrNoChange
			}
			p.Name = name
			p.Email = identity.Email
			return nil
		}
		if !room.IsPublic && !invited {
			return ErrForbidden
		}
		if room.IsFull() {
			return ErrRoomFull
		}
		room.Participants[identity.ID] = domain.NewParticipant(identity, domain.RoleParticipant, s.now())
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	if err := s.roomRepo.TouchLastActive(ctx, roomID); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Debug("Failed to touch room last_active")
	}
	return room, nil
}

// RemoveParticipant 由房主把成员移出房间。
// 被移除者持有编辑令牌时，令牌在同一次提交中交还房主。
func (s *RoomService) RemoveParticipant(ctx context.Context, roomID, actorID, userID string) (*domain.Room, error) {
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityModerate); err != nil {
			return err
		}
		if userID == room.HostID {
			return ErrCannotRemoveHost
		}
		if !room.HasParticipant(userID) {
			return ErrUnknownParticipant
		}
		delete(room.Participants, userID)
		if room.CurrentEditorID == userID {
			room.CurrentEditorID = room.HostID
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("Participant removed by host")
	return room, nil
}

// MuteParticipant 标记成员为静音。静音只是展示标记，不影响编辑权限。
func (s *RoomService) MuteParticipant(ctx context.Context, roomID, actorID, userID string) (*domain.Room, error) {
	return s.setMuted(ctx, roomID, actorID, userID, true)
}

// UnmuteParticipant 取消成员的静音标记
func (s *RoomService) UnmuteParticipant(ctx context.Context, roomID, actorID, userID string) (*domain.Room, error) {
	return s.setMuted(ctx, roomID, actorID, userID, false)
}

func (s *RoomService) setMuted(ctx context.Context, roomID, actorID, userID string, muted bool) (*domain.Room, error) {
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityModerate); err != nil {
			return err
		}
		p, ok := room.Participants[userID]
		if !ok {
			return ErrUnknownParticipant
		}
		if p.Muted == muted {
			return repository.ErrNoChange
		}
		p.Muted = muted
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return room, nil
}
