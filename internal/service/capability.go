package service

import (
	"fmt"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// assertCapability 在写入共享文档前校验调用者权限。
// 必须在 RoomStore.Mutate 的事务函数内调用，使校验与提交基于同一份文档。
func assertCapability(actorID string, room *domain.Room, c domain.Capability) error {
	if !room.Allows(actorID, c) {
		return fmt.Errorf("%w: user %s lacks %s in room %s", ErrForbidden, actorID, c, room.ID)
	}
	return nil
}
