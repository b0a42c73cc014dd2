package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/tasks"
)

// NewServeMux 注册本服务的全部任务处理器
func NewServeMux(lines *LinePersistenceHandler, snapshots *SnapshotCheckHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if lines != nil {
		mux.Handle(tasks.TypeDrawingLinePersist, lines)
	}
	if snapshots != nil {
		mux.Handle(tasks.TypeSnapshotPeriodicCheck, snapshots)
	}
	return mux
}

// InlineEnqueuer 在进程内异步执行任务，用于没有 Redis 的单实例部署 (STATE_BACKEND=memory)。
// 失败的任务只记录日志，不重试。
type InlineEnqueuer struct {
	ctx     context.Context
	handler asynq.Handler
}

// NewInlineEnqueuer 创建 InlineEnqueuer，ctx 取消后新任务不再执行
func NewInlineEnqueuer(ctx context.Context, handler asynq.Handler) *InlineEnqueuer {
	return &InlineEnqueuer{ctx: ctx, handler: handler}
}

// Enqueue 与 asynq.Client.Enqueue 的签名一致
func (e *InlineEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	info := &asynq.TaskInfo{ID: uuid.NewString(), Queue: "inline", Type: task.Type(), Payload: task.Payload()}
	go func() {
		if err := e.handler.ProcessTask(e.ctx, task); err != nil {
			logrus.WithFields(logrus.Fields{"task_id": info.ID, "task_type": task.Type()}).WithError(err).Error("Inline task failed")
		}
	}()
	return info, nil
}
