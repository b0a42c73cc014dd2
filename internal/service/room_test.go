package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	redisstate "github.com/ayzthp/ColabCode/internal/infra/state/redis"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/service"
)

func TestRoomService_CreateRoom_Success(t *testing.T) {
	// Arrange
	f := newRoomFixture(t)
	ctx := context.Background()

	f.roomRepo.On("IsInviteCodeExists", ctx, mock.AnythingOfType("string")).Return(true, nil).Once()
	f.roomRepo.On("IsInviteCodeExists", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	f.roomRepo.On("Save", ctx, mock.MatchedBy(func(r *domain.RoomRecord) bool {
		assert.Equal(t, hostIdentity.ID, r.HostID)
		assert.Len(t, r.InviteCode, 6)
		return true
	})).Return(nil).Once()

	// Act
	room, err := f.svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "  Algo night ", IsPublic: true})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Algo night", room.Title)
	assert.Equal(t, hostIdentity.ID, room.CurrentEditorID, "创建者应成为当前编辑者")
	assert.Equal(t, domain.DefaultMaxParticipants, room.MaxParticipants)
	assert.Equal(t, domain.LanguageJavaScript, room.CurrentLanguage)
	require.Contains(t, room.Participants, hostIdentity.ID)
	assert.Equal(t, domain.RoleHost, room.Participants[hostIdentity.ID].Role)

	live, err := f.store.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.InviteCode, live.InviteCode)

	f.roomRepo.AssertExpectations(t)
}

func TestRoomService_CreateRoom_InvalidInput(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "   "})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "x", MaxParticipants: 51})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	f.roomRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRoomService_CreateRoom_SaveFails(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	f.roomRepo.On("IsInviteCodeExists", ctx, mock.Anything).Return(false, nil).Once()
	f.roomRepo.On("Save", ctx, mock.Anything).Return(repository.ErrDuplicateEntry).Once()

	_, err := f.svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "x"})
	assert.ErrorIs(t, err, service.ErrInternalServer)
}

func TestRoomService_GetRoom_RestoresFromSnapshot(t *testing.T) {
	// Arrange: 实时存储中没有文档，数据库中有元数据、快照和笔画
	f := newRoomFixture(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)

	record := &domain.RoomRecord{ID: "r-restored", Title: "Old", HostID: hostIdentity.ID, HostName: "Hana",
		IsPublic: false, MaxParticipants: 5, InviteCode: "ABC123", CreatedAt: created}
	saved := record.ToRoom()
	saved.CurrentCode = "print('restored')"
	saved.CurrentLanguage = domain.LanguagePython
	saved.CodeVersion = 7
	saved.Revision = 42
	saved.IsPublic = true // 快照中的可见性已过期，以数据库记录为准
	snapshot := &domain.RoomSnapshot{}
	require.NoError(t, snapshot.SetRoom(saved))

	lineRecord := domain.DrawingLineRecord{RoomID: "r-restored", LineIndex: 0}
	require.NoError(t, lineRecord.SetLine(domain.DrawingLine{Points: []domain.DrawingPoint{{X: 1, Y: 1}}}))

	f.roomRepo.On("FindByID", ctx, "r-restored").Return(record, nil).Once()
	f.snapshotRepo.On("GetLatestSnapshot", ctx, "r-restored").Return(snapshot, nil).Once()
	f.lineRepo.On("ListByRoom", ctx, "r-restored").Return([]domain.DrawingLineRecord{lineRecord}, nil).Once()

	// Act
	room, err := f.svc.GetRoom(ctx, "r-restored")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "print('restored')", room.CurrentCode)
	assert.Greater(t, room.Revision, uint64(42), "恢复后的 revision 不能回退")
	assert.Greater(t, room.CodeVersion, uint64(7))
	assert.Equal(t, uint64(1), room.Epoch)
	assert.False(t, room.IsPublic)

	lines, err := f.store.Lines(ctx, "r-restored")
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	// 第二次读取直接命中实时存储
	_, err = f.svc.GetRoom(ctx, "r-restored")
	require.NoError(t, err)
	f.roomRepo.AssertExpectations(t)
	f.snapshotRepo.AssertExpectations(t)
}

func TestRoomService_GetRoom_NotFound(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	f.roomRepo.On("FindByID", ctx, "nope").Return(nil, repository.ErrRoomNotFound).Once()

	_, err := f.svc.GetRoom(ctx, "nope")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_SetVisibility(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoomWith(t, aliceIdentity)

	_, err := f.svc.SetVisibility(ctx, room.ID, aliceIdentity.ID, false)
	assert.ErrorIs(t, err, service.ErrForbidden, "只有房主可以切换可见性")

	f.roomRepo.On("UpdateVisibility", ctx, room.ID, false).Return(nil).Once()
	updated, err := f.svc.SetVisibility(ctx, room.ID, hostIdentity.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsPublic)
	f.roomRepo.AssertExpectations(t)
}

func TestRoomService_ListPublicRooms(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	f.roomRepo.On("ListPublic", ctx, 20).Return([]domain.RoomRecord{{ID: "a"}, {ID: "b"}}, nil).Once()

	rooms, err := f.svc.ListPublicRooms(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
}

func TestRoomService_GetRoomForViewer(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	private := f.createRoom(t, false)
	public := f.createRoom(t, true)

	_, err := f.svc.GetRoomForViewer(ctx, private.ID, hostIdentity.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetRoomForViewer(ctx, private.ID, bobIdentity.ID)
	assert.ErrorIs(t, err, service.ErrForbidden, "私有房间对非成员不可见")

	_, err = f.svc.GetRoomForViewer(ctx, public.ID, bobIdentity.ID)
	assert.NoError(t, err, "公开房间任何人可读")
}

func TestRoomService_MutationsRestoreAfterStoreFlush(t *testing.T) {
	// Arrange: Redis 中的房间被清空，数据库里只有一份较旧的快照
	f := newRoomFixture(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstate.NewRedisRoomStore(client, "test:")
	svc := service.NewRoomService(f.roomRepo, f.snapshotRepo, f.lineRepo, store)

	var record *domain.RoomRecord
	f.roomRepo.On("IsInviteCodeExists", mock.Anything, anyString).Return(false, nil).Once()
	f.roomRepo.On("Save", mock.Anything, anyRecord).Run(func(args mock.Arguments) {
		record = args.Get(1).(*domain.RoomRecord)
	}).Return(nil).Once()
	room, err := svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "flush", IsPublic: true})
	require.NoError(t, err)
	_, err = svc.Join(ctx, room.ID, aliceIdentity)
	require.NoError(t, err)

	stale, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	snapshot := &domain.RoomSnapshot{}
	require.NoError(t, snapshot.SetRoom(stale))

	var before *domain.Room
	for _, code := range []string{"a", "ab", "abc"} {
		before, err = svc.UpdateCode(ctx, room.ID, hostIdentity.ID, code, "c1:1")
		require.NoError(t, err)
	}

	f.roomRepo.On("FindByID", mock.Anything, room.ID).Return(record, nil).Once()
	f.snapshotRepo.On("GetLatestSnapshot", mock.Anything, room.ID).Return(snapshot, nil).Once()
	f.lineRepo.On("ListByRoom", mock.Anything, room.ID).Return([]domain.DrawingLineRecord{}, nil).Once()
	mr.FlushAll()

	// Act: 写路径直接遇到缺失的文档
	after, err := svc.UpdateCode(ctx, room.ID, hostIdentity.ID, "restored edit", "c1:2")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "restored edit", after.CurrentCode)
	assert.True(t, after.HasParticipant(aliceIdentity.ID), "成员来自快照")
	assert.Greater(t, after.Revision, before.Revision, "恢复后的 revision 必须大于清空前已发出的值")
	assert.Greater(t, after.CodeVersion, before.CodeVersion)
	assert.Equal(t, before.Epoch+1, after.Epoch)

	// 恢复后的后续写入照常递增
	next, err := svc.TransferEditor(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)
	assert.Equal(t, after.Revision+1, next.Revision)
	f.roomRepo.AssertExpectations(t)
	f.snapshotRepo.AssertExpectations(t)
}

func TestRoomService_MutateOnMissingRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	f.roomRepo.On("FindByID", mock.Anything, "gone").Return(nil, repository.ErrRoomNotFound).Once()

	_, err := f.svc.UpdateCode(ctx, "gone", hostIdentity.ID, "x", "c1:1")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}
