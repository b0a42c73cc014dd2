package memorystate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// MemoryRoomStore 是单进程的 RoomStore 实现，用于本地开发和测试。
// 语义与 Redis 实现一致：提交顺序即通知顺序。
type MemoryRoomStore struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	lines       map[string][]domain.DrawingLine
	subscribers map[string]map[*subscription]struct{}
	counters    map[string]*rateCounter
	now         func() time.Time
}

var _ repository.RoomStore = (*MemoryRoomStore)(nil)

type rateCounter struct {
	count     int
	expiresAt time.Time
}

// NewMemoryRoomStore 创建 MemoryRoomStore 实例
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:       make(map[string]*domain.Room),
		lines:       make(map[string][]domain.DrawingLine),
		subscribers: make(map[string]map[*subscription]struct{}),
		counters:    make(map[string]*rateCounter),
		now:         time.Now,
	}
}

func (s *MemoryRoomStore) Create(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[room.ID]; exists {
		return repository.ErrDuplicateEntry
	}
	doc := room.Clone()
	if doc.Revision == 0 {
		doc.Revision = 1
	}
	s.rooms[room.ID] = doc
	room.Revision = doc.Revision
	return nil
}

func (s *MemoryRoomStore) Get(ctx context.Context, roomID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *MemoryRoomStore) Mutate(ctx context.Context, roomID string, fn repository.MutateFunc) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, repository.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	working.ID = current.ID
	working.Revision = current.Revision + 1
	s.rooms[roomID] = working

	s.publishLocked(roomID, repository.RoomEvent{Kind: repository.EventSnapshot, Room: working.Clone()})
	return working.Clone(), nil
}

func (s *MemoryRoomStore) AppendLine(ctx context.Context, roomID string, line domain.DrawingLine) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return 0, repository.ErrRoomNotFound
	}
	s.lines[roomID] = append(s.lines[roomID], line)
	index := len(s.lines[roomID]) - 1
	l := line
	s.publishLocked(roomID, repository.RoomEvent{Kind: repository.EventLine, Line: &l, LineIndex: index})
	return index, nil
}

func (s *MemoryRoomStore) RestoreLines(ctx context.Context, roomID string, lines []domain.DrawingLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines[roomID]) > 0 {
		return nil
	}
	s.lines[roomID] = append([]domain.DrawingLine(nil), lines...)
	return nil
}

func (s *MemoryRoomStore) Lines(ctx context.Context, roomID string) ([]domain.DrawingLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DrawingLine{}, s.lines[roomID]...), nil
}

func (s *MemoryRoomStore) Subscribe(ctx context.Context, roomID string) (<-chan repository.RoomEvent, error) {
	sub := newSubscription()
	s.mu.Lock()
	if s.subscribers[roomID] == nil {
		s.subscribers[roomID] = make(map[*subscription]struct{})
	}
	s.subscribers[roomID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers[roomID], sub)
		if len(s.subscribers[roomID]) == 0 {
			delete(s.subscribers, roomID)
		}
		s.mu.Unlock()
		sub.close()
	}()
	go sub.pump()
	return sub.out, nil
}

func (s *MemoryRoomStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &rateCounter{expiresAt: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count > limit, nil
}

// publishLocked 按提交顺序把事件放入每个订阅者的队列，调用方必须持有 s.mu
func (s *MemoryRoomStore) publishLocked(roomID string, event repository.RoomEvent) {
	for sub := range s.subscribers[roomID] {
		sub.push(event)
	}
}

// subscription 用无界队列解耦发布者和消费者，发布时不会阻塞在慢消费者上
type subscription struct {
	mu     sync.Mutex
	queue  []repository.RoomEvent
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan repository.RoomEvent
}

func newSubscription() *subscription {
	return &subscription{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan repository.RoomEvent, 16),
	}
}

func (s *subscription) push(event repository.RoomEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, event := range pending {
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
