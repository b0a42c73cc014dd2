package service

import (
	"context"
	"errors"

	"github.com/ayzthp/ColabCode/internal/repository"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrForbidden           = errors.New("forbidden")
	ErrCannotRemoveHost    = errors.New("the host cannot be removed from the room")
	ErrUnknownParticipant  = errors.New("unknown participant")
	ErrStoreUnavailable    = errors.New("room store unavailable")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrRoomFull            = errors.New("room is full")
	ErrInvalidInviteCode   = errors.New("invalid or expired invite code")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidLine         = errors.New("invalid drawing line")
	ErrRateLimited         = errors.New("too many requests")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInternalServer      = errors.New("internal server error")
)

// serviceErrors 是可以原样返回给调用方的业务错误
var serviceErrors = []error{
	ErrRoomNotFound, ErrForbidden, ErrCannotRemoveHost, ErrUnknownParticipant,
	ErrStoreUnavailable, ErrExecutionFailed, ErrRoomFull, ErrInvalidInviteCode,
	ErrUnsupportedLanguage, ErrInvalidLine, ErrRateLimited, ErrInvalidInput, ErrInternalServer,
}

// mapRepoError 将仓库层错误映射到服务层错误。
// MutateFunc 内部返回的业务错误会穿过存储层，这里保留它们的包装信息。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range serviceErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrStoreUnavailable),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrStoreUnavailable
	}
	return ErrInternalServer
}
