package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/service"
)

func TestRoomService_Join_IsIdempotent(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, true)

	first, err := f.svc.Join(ctx, room.ID, aliceIdentity)
	require.NoError(t, err)
	require.Contains(t, first.Participants, aliceIdentity.ID)
	assert.Equal(t, domain.RoleParticipant, first.Participants[aliceIdentity.ID].Role)

	// 同一用户的第二个连接不应产生新的提交
	second, err := f.svc.Join(ctx, room.ID, aliceIdentity)
	require.NoError(t, err)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Len(t, second.Participants, 2)
}

func TestRoomService_Join_PrivateRoomRequiresInvite(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, false)

	_, err := f.svc.Join(ctx, room.ID, aliceIdentity)
	assert.ErrorIs(t, err, service.ErrForbidden)

	record := domain.NewRoomRecord(room)
	f.roomRepo.On("FindByInviteCode", ctx, room.InviteCode).Return(record, nil).Once()

	joined, err := f.svc.JoinByInviteCode(ctx, aliceIdentity, " "+lower(room.InviteCode)+" ")
	require.NoError(t, err)
	assert.True(t, joined.HasParticipant(aliceIdentity.ID))

	// 加入后可以通过房间链接重新进入
	_, err = f.svc.Join(ctx, room.ID, aliceIdentity)
	assert.NoError(t, err)
}

func TestRoomService_JoinByInviteCode_Invalid(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	_, err := f.svc.JoinByInviteCode(ctx, aliceIdentity, "  ")
	assert.ErrorIs(t, err, service.ErrInvalidInviteCode)

	f.roomRepo.On("FindByInviteCode", ctx, "ZZZZZZ").Return(nil, repository.ErrRoomNotFound).Once()
	_, err = f.svc.JoinByInviteCode(ctx, aliceIdentity, "zzzzzz")
	assert.ErrorIs(t, err, service.ErrInvalidInviteCode)
}

func TestRoomService_Join_RoomFull(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	f.roomRepo.On("IsInviteCodeExists", ctx, anyString).Return(false, nil).Once()
	f.roomRepo.On("Save", ctx, anyRecord).Return(nil).Once()
	room, err := f.svc.CreateRoom(ctx, hostIdentity, service.CreateRoomInput{Title: "Duo", IsPublic: true, MaxParticipants: 2})
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, room.ID, aliceIdentity)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, room.ID, bobIdentity)
	assert.ErrorIs(t, err, service.ErrRoomFull)

	// 已在房间内的成员不受人数限制
	_, err = f.svc.Join(ctx, room.ID, aliceIdentity)
	assert.NoError(t, err)
}

func TestRoomService_RemoveParticipant_ReassignsEditor(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoomWith(t, aliceIdentity, bobIdentity)

	_, err := f.svc.TransferEditor(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)

	updated, err := f.svc.RemoveParticipant(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)
	assert.False(t, updated.HasParticipant(aliceIdentity.ID))
	assert.Equal(t, hostIdentity.ID, updated.CurrentEditorID, "被移除的编辑者的令牌应交还房主")
}

func TestRoomService_RemoveParticipant_KeepsOtherEditor(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoomWith(t, aliceIdentity, bobIdentity)

	_, err := f.svc.TransferEditor(ctx, room.ID, hostIdentity.ID, bobIdentity.ID)
	require.NoError(t, err)
	updated, err := f.svc.RemoveParticipant(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)
	assert.Equal(t, bobIdentity.ID, updated.CurrentEditorID)
}

func TestRoomService_RemoveParticipant_Rejections(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoomWith(t, aliceIdentity)

	testCases := []struct {
		name    string
		actorID string
		userID  string
		wantErr error
	}{
		{"host cannot be removed", hostIdentity.ID, hostIdentity.ID, service.ErrCannotRemoveHost},
		{"non-host cannot moderate", aliceIdentity.ID, hostIdentity.ID, service.ErrForbidden},
		{"unknown participant", hostIdentity.ID, "ghost", service.ErrUnknownParticipant},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RemoveParticipant(ctx, room.ID, tc.actorID, tc.userID)
			assert.ErrorIs(t, err, tc.wantErr)

			// 被拒绝的操作不能改变文档
			after, getErr := f.store.Get(ctx, room.ID)
			require.NoError(t, getErr)
			assert.Equal(t, room.Revision, after.Revision)
			assert.Len(t, after.Participants, 2)
		})
	}
}

func TestRoomService_MuteParticipant(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.createRoomWith(t, aliceIdentity)

	updated, err := f.svc.MuteParticipant(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)
	assert.True(t, updated.Participants[aliceIdentity.ID].Muted)

	_, err = f.svc.MuteParticipant(ctx, room.ID, aliceIdentity.ID, hostIdentity.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	updated, err = f.svc.UnmuteParticipant(ctx, room.ID, hostIdentity.ID, aliceIdentity.ID)
	require.NoError(t, err)
	assert.False(t, updated.Participants[aliceIdentity.ID].Muted)

	_, err = f.svc.MuteParticipant(ctx, room.ID, hostIdentity.ID, "ghost")
	assert.ErrorIs(t, err, service.ErrUnknownParticipant)
}
