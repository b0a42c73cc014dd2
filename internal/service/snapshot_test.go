package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/service"
)

func TestSnapshotService_CheckAndGenerateSnapshot(t *testing.T) {
	// Arrange
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, true)
	_, err := f.svc.UpdateCode(ctx, room.ID, hostIdentity.ID, "let a = 1", "conn:1")
	require.NoError(t, err)

	snapSvc := service.NewSnapshotService(f.snapshotRepo, f.roomRepo, f.store)
	var saved *domain.RoomSnapshot
	f.snapshotRepo.On("SaveSnapshot", ctx, mock.AnythingOfType("*domain.RoomSnapshot")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*domain.RoomSnapshot) }).
		Return(nil).Once()

	// Act: 首次检查总是生成快照
	mark, err := snapSvc.CheckAndGenerateSnapshot(ctx, room.ID, service.SnapshotMark{})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, room.ID, saved.RoomID)
	assert.Equal(t, mark.Revision, saved.Revision)
	assert.False(t, mark.At.IsZero())

	restored, err := saved.ParseRoom()
	require.NoError(t, err)
	assert.Equal(t, "let a = 1", restored.CurrentCode)

	// 没有变化时不再生成
	again, err := snapSvc.CheckAndGenerateSnapshot(ctx, room.ID, mark)
	require.NoError(t, err)
	assert.Equal(t, mark, again)

	// 少量变化且距上次快照不足 10 分钟时不生成
	_, err = f.svc.UpdateCode(ctx, room.ID, hostIdentity.ID, "let a = 2", "conn:2")
	require.NoError(t, err)
	again, err = snapSvc.CheckAndGenerateSnapshot(ctx, room.ID, mark)
	require.NoError(t, err)
	assert.Equal(t, mark, again)

	f.snapshotRepo.AssertNumberOfCalls(t, "SaveSnapshot", 1)
}

func TestSnapshotService_SaveFails(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, true)
	snapSvc := service.NewSnapshotService(f.snapshotRepo, f.roomRepo, f.store)
	f.snapshotRepo.On("SaveSnapshot", ctx, mock.Anything).Return(errors.New("db down")).Once()

	mark, err := snapSvc.CheckAndGenerateSnapshot(ctx, room.ID, service.SnapshotMark{})
	assert.ErrorIs(t, err, service.ErrInternalServer)
	assert.Equal(t, service.SnapshotMark{}, mark, "失败时保留旧标记以便下次重试")
}

func TestSnapshotService_RoomMissing(t *testing.T) {
	f := newRoomFixture(t)
	snapSvc := service.NewSnapshotService(f.snapshotRepo, f.roomRepo, f.store)

	_, err := snapSvc.CheckAndGenerateSnapshot(context.Background(), "gone", service.SnapshotMark{})
	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}
