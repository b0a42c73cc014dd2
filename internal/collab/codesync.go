package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// 默认的静默窗口和写入超时
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
)

// ErrReadOnly 表示非编辑者尝试修改代码，调用不会产生任何写入
var ErrReadOnly = errors.New("collab: only the current editor can change the code")

// CodeWriter 把代码写入共享文档，由服务层按连接的用户和房间绑定
type CodeWriter interface {
	UpdateCode(ctx context.Context, code, stamp string) (*domain.Room, error)
	ChangeLanguage(ctx context.Context, key domain.LanguageKey, stamp string) (*domain.Room, error)
}

// CodeSyncOptions 配置 CodeSync 的回调和时间参数
type CodeSyncOptions struct {
	Debounce     time.Duration
	WriteTimeout time.Duration
	// OnBuffer 在本地缓冲区被远端内容覆盖时调用
	OnBuffer func(code string, version uint64)
	// OnError 在后台写入失败时调用
	OnError func(err error)
}

// CodeSync 是一个连接的代码同步状态：本地缓冲区、防抖写出和回声抑制。
//
// 出站：编辑者的本地修改在静默窗口后合并成一次 UpdateCode，
// 写入带上 "<connID>:<seq>" 形式的 stamp。
// 入站：快照的 codeVersion 不大于已知版本时忽略；stamp 属于本连接时
// 只推进版本，不覆盖缓冲区。
type CodeSync struct {
	mu      sync.Mutex
	writeMu sync.Mutex // 串行化写出，保证同一连接的写入按发出顺序提交

	writer      CodeWriter
	debounce    *Debouncer
	opts        CodeSyncOptions
	stampPrefix string

	seq         uint64
	buffer      string
	dirty       bool
	version     uint64
	initialized bool
	isEditor    bool
	closed      bool
}

// NewCodeSync 创建一个连接的代码同步状态
func NewCodeSync(connID string, writer CodeWriter, opts CodeSyncOptions) *CodeSync {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	s := &CodeSync{
		writer:      writer,
		opts:        opts,
		stampPrefix: connID + ":",
	}
	s.debounce = NewDebouncer(opts.Debounce, s.flush)
	return s
}

// LocalEdit 记录一次本地编辑。非编辑者返回 ErrReadOnly 且不会写出。
func (s *CodeSync) LocalEdit(code string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if !s.isEditor {
		s.mu.Unlock()
		return ErrReadOnly
	}
	s.buffer = code
	s.dirty = true
	s.mu.Unlock()

	s.debounce.Trigger()
	return nil
}

// Flush 立即写出尚未发送的本地编辑
func (s *CodeSync) Flush() {
	s.debounce.Flush()
}

func (s *CodeSync) nextStampLocked() string {
	s.seq++
	return fmt.Sprintf("%s%d", s.stampPrefix, s.seq)
}

// flush 是防抖到期后的写出
func (s *CodeSync) flush() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed || !s.isEditor || !s.dirty {
		s.mu.Unlock()
		return
	}
	code := s.buffer
	s.dirty = false
	stamp := s.nextStampLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	room, err := s.writer.UpdateCode(ctx, code, stamp)
	cancel()
	if err != nil {
		// 本地缓冲区保留，下一次编辑会重新写出
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}

	s.mu.Lock()
	if room != nil && room.CodeVersion > s.version {
		s.version = room.CodeVersion
	}
	s.mu.Unlock()
}

// ApplySnapshot 处理一份房间快照，返回本地缓冲区是否被覆盖
func (s *CodeSync) ApplySnapshot(room *domain.Room, isEditor bool) bool {
	s.mu.Lock()
	if s.closed || room == nil {
		s.mu.Unlock()
		return false
	}
	if s.isEditor && !isEditor {
		// 失去编辑令牌，丢弃尚未发送的编辑
		s.debounce.Cancel()
		s.dirty = false
	}
	s.isEditor = isEditor

	if s.initialized && room.CodeVersion <= s.version {
		s.mu.Unlock()
		return false
	}
	s.version = room.CodeVersion
	if s.initialized && strings.HasPrefix(room.CodeStamp, s.stampPrefix) {
		// 本连接自己的写入
		s.mu.Unlock()
		return false
	}
	s.initialized = true
	if room.CurrentCode == s.buffer {
		s.mu.Unlock()
		return false
	}
	s.buffer = room.CurrentCode
	if s.dirty {
		s.debounce.Cancel()
		s.dirty = false
	}
	code, version, cb := s.buffer, s.version, s.opts.OnBuffer
	s.mu.Unlock()

	if cb != nil {
		cb(code, version)
	}
	return true
}

// ChangeLanguage 切换语言并把缓冲区重置为模板，仅编辑者
func (s *CodeSync) ChangeLanguage(ctx context.Context, key domain.LanguageKey) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if !s.isEditor {
		s.mu.Unlock()
		return ErrReadOnly
	}
	// 模板会覆盖缓冲区，未发送的编辑没有意义了
	s.debounce.Cancel()
	s.dirty = false
	stamp := s.nextStampLocked()
	s.mu.Unlock()

	room, err := s.writer.ChangeLanguage(ctx, key, stamp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if room.CodeVersion < s.version {
		s.mu.Unlock()
		return nil
	}
	s.version = room.CodeVersion
	s.buffer = room.CurrentCode
	code, version, cb := s.buffer, s.version, s.opts.OnBuffer
	s.mu.Unlock()

	if cb != nil {
		cb(code, version)
	}
	return nil
}

// Buffer 返回本地缓冲区的内容
func (s *CodeSync) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Version 返回已知的最新代码版本
func (s *CodeSync) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// IsEditor 返回本连接当前是否持有编辑令牌
func (s *CodeSync) IsEditor() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isEditor
}

// Close 取消尚未执行的写出，之后的调用都不再生效
func (s *CodeSync) Close() {
	s.mu.Lock()
	s.closed = true
	s.dirty = false
	s.mu.Unlock()
	s.debounce.Stop()
}
