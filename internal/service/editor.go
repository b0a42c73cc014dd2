package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// 单次写入的代码大小上限
const MaxCodeSize = 256 * 1024

// TransferEditor 由房主把编辑令牌交给房间内的某个成员 (包括自己)
func (s *RoomService) TransferEditor(ctx context.Context, roomID, actorID, newEditorID string) (*domain.Room, error) {
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityModerate); err != nil {
			return err
		}
		if !room.HasParticipant(newEditorID) {
			return ErrUnknownParticipant
		}
		if room.CurrentEditorID == newEditorID {
			return repository.ErrNoChange
		}
		room.CurrentEditorID = newEditorID
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "editor_id": newEditorID}).Info("Editor token transferred")
	return room, nil
}

// UpdateCode 写入当前编辑者的代码缓冲区。
// stamp 标识这次写入的来源连接，订阅方据此识别自己的回声。
func (s *RoomService) UpdateCode(ctx context.Context, roomID, actorID, code, stamp string) (*domain.Room, error) {
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidInput, MaxCodeSize)
	}
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityEditCode); err != nil {
			return err
		}
		if room.CurrentCode == code {
			return repository.ErrNoChange
		}
		room.CurrentCode = code
		room.CodeVersion++
		room.CodeStamp = stamp
		room.LastUpdated = s.now()
		room.LastUpdatedBy = actorID
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	return room, nil
}

// ChangeLanguage 切换语言，并在同一次提交中把代码重置为该语言的模板
func (s *RoomService) ChangeLanguage(ctx context.Context, roomID, actorID string, key domain.LanguageKey, stamp string) (*domain.Room, error) {
	lang, ok := domain.LookupLanguage(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, key)
	}
	room, err := s.mutate(ctx, roomID, func(room *domain.Room) error {
		if err := assertCapability(actorID, room, domain.CapabilityEditCode); err != nil {
			return err
		}
		room.CurrentLanguage = lang.Key
		room.CurrentCode = lang.Template
		room.CodeVersion++
		room.CodeStamp = stamp
		room.LastUpdated = s.now()
		room.LastUpdatedBy = actorID
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "language": lang.Key}).Info("Room language changed")
	return room, nil
}
