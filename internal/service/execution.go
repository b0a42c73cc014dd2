package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// CodeExecutor 是外部代码执行服务 (Judge0) 的抽象
type CodeExecutor interface {
	Execute(ctx context.Context, languageID int, source, stdin string) (*domain.ExecutionResult, error)
}

// ExecutionOptions 配置执行超时和每个用户的调用频率
type ExecutionOptions struct {
	Timeout    time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// ExecutionService 把代码发送给执行服务，并把成功的输出广播到共享文档
type ExecutionService struct {
	store    repository.RoomStore
	rooms    RoomLoader
	executor CodeExecutor
	opts     ExecutionOptions
	now      func() time.Time
}

// NewExecutionService 创建 ExecutionService 实例
// rooms 为 nil 时直接读取实时存储，不做恢复。
func NewExecutionService(store repository.RoomStore, rooms RoomLoader, executor CodeExecutor, opts ExecutionOptions) *ExecutionService {
	if store == nil || executor == nil {
		panic("RoomStore and CodeExecutor cannot be nil for ExecutionService")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &ExecutionService{store: store, rooms: rooms, executor: executor, opts: opts, now: time.Now}
}

// Execute 运行代码，仅当前编辑者。
// code 为空时运行共享文档中的代码。只有 stdout 非空的结果会写入 lastExecution；
// stderr 和编译错误只返回给调用者。
func (s *ExecutionService) Execute(ctx context.Context, roomID, actorID, code, stdin string) (*domain.ExecutionResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "operation": "Execute"})

	room, err := loadRoom(ctx, s.store, s.rooms, roomID)
	if err != nil {
		return nil, err
	}
	if err := assertCapability(actorID, room, domain.CapabilityEditCode); err != nil {
		return nil, err
	}
	lang, ok := domain.LookupLanguage(room.CurrentLanguage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, room.CurrentLanguage)
	}
	if code == "" {
		code = room.CurrentCode
	}

	exceeded, err := s.store.CheckRateLimit(ctx, "ratelimit:exec:"+actorID, s.opts.RateLimit, s.opts.RateWindow)
	if err != nil {
		// 计数器不可用时不阻止执行
		logCtx.WithError(err).Warn("Execution rate limit check failed")
	} else if exceeded {
		return nil, ErrRateLimited
	}

	execCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	result, err := s.executor.Execute(execCtx, lang.ID, code, stdin)
	if err != nil {
		logCtx.WithError(err).Warn("Code execution failed")
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	if !result.Broadcastable() {
		return result, nil
	}

	_, err = s.store.Mutate(ctx, roomID, func(room *domain.Room) error {
		// 令牌可能在执行期间被转走
		if err := assertCapability(actorID, room, domain.CapabilityEditCode); err != nil {
			return err
		}
		room.LastExecution = &domain.Execution{
			Output:     result.Stdout,
			ExecutedBy: actorID,
			ExecutedAt: s.now(),
			Language:   lang.Key,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			logCtx.Info("Editor token moved during execution, result not broadcast")
			return result, nil
		}
		logCtx.WithError(err).Warn("Failed to broadcast execution result")
		return result, mapRepoError(err)
	}
	logCtx.WithField("language", lang.Key).Info("Execution result broadcast")
	return result, nil
}
