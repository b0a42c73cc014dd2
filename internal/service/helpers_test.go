package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	memorystate "github.com/ayzthp/ColabCode/internal/infra/state/memory"
	"github.com/ayzthp/ColabCode/internal/repository/mocks"
	"github.com/ayzthp/ColabCode/internal/service"
)

var (
	hostIdentity  = domain.Identity{ID: "host-1", Name: "Hana", Email: "hana@example.com"}
	aliceIdentity = domain.Identity{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	bobIdentity   = domain.Identity{ID: "bob", Name: "Bob", Email: "bob@example.com"}
)

var (
	anyString = mock.AnythingOfType("string")
	anyRecord = mock.AnythingOfType("*domain.RoomRecord")
)

func lower(s string) string { return strings.ToLower(s) }

type roomFixture struct {
	svc          *service.RoomService
	store        *memorystate.MemoryRoomStore
	roomRepo     *mocks.RoomRepository
	snapshotRepo *mocks.SnapshotRepository
	lineRepo     *mocks.DrawingLineRepository
}

// newRoomFixture 使用内存 RoomStore 和 Mock 仓库构造 RoomService
func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	f := &roomFixture{
		store:        memorystate.NewMemoryRoomStore(),
		roomRepo:     new(mocks.RoomRepository),
		snapshotRepo: new(mocks.SnapshotRepository),
		lineRepo:     new(mocks.DrawingLineRepository),
	}
	f.svc = service.NewRoomService(f.roomRepo, f.snapshotRepo, f.lineRepo, f.store)
	// 最后活跃时间的刷新与测试无关
	f.roomRepo.On("TouchLastActive", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

// createRoom 创建一个由 hostIdentity 主持的房间
func (f *roomFixture) createRoom(t *testing.T, isPublic bool) *domain.Room {
	t.Helper()
	f.roomRepo.On("IsInviteCodeExists", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
	f.roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.RoomRecord")).Return(nil).Once()
	room, err := f.svc.CreateRoom(context.Background(), hostIdentity, service.CreateRoomInput{
		Title:    "Pair programming",
		IsPublic: isPublic,
	})
	require.NoError(t, err)
	return room
}

// createRoomWith 创建房间并让给定的用户加入
func (f *roomFixture) createRoomWith(t *testing.T, members ...domain.Identity) *domain.Room {
	t.Helper()
	room := f.createRoom(t, true)
	for _, m := range members {
		_, err := f.svc.Join(context.Background(), room.ID, m)
		require.NoError(t, err)
	}
	latest, err := f.store.Get(context.Background(), room.ID)
	require.NoError(t, err)
	return latest
}
