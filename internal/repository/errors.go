package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的记录未找到
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示尝试插入或更新的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrStoreUnavailable 表示共享存储暂时不可达
	ErrStoreUnavailable = errors.New("repository: store unavailable")
	// ErrNoChange 由 MutateFunc 返回，表示无需提交，存储层返回当前文档且不发布通知
	ErrNoChange = errors.New("repository: no change")
	// ErrConflict 表示乐观事务多次重试后仍然冲突
	ErrConflict = errors.New("repository: concurrent modification conflict")
)

// 特定资源的错误
var (
	ErrRoomNotFound     = ErrNotFound
	ErrSnapshotNotFound = ErrNotFound
)
