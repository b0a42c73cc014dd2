package hub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/hub"
	memorystate "github.com/ayzthp/ColabCode/internal/infra/state/memory"
	redisstate "github.com/ayzthp/ColabCode/internal/infra/state/redis"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/repository/mocks"
	"github.com/ayzthp/ColabCode/internal/service"
)

var (
	host  = domain.Identity{ID: "host-1", Name: "Hana"}
	alice = domain.Identity{ID: "alice", Name: "Alice"}
)

type hubFixture struct {
	hub     *hub.Hub
	rooms   *service.RoomService
	drawing *service.DrawingService
	server  *httptest.Server
	roomID  string
}

// hubDeps 覆盖 fixture 的默认依赖，零值字段使用内存实现和空 Mock
type hubDeps struct {
	store        repository.RoomStore
	drawingStore repository.RoomStore // 为 nil 时与 store 相同
	roomRepo     *mocks.RoomRepository
	snapshotRepo *mocks.SnapshotRepository
	lineRepo     *mocks.DrawingLineRepository
}

// newHubFixture 启动一个 Hub 和一个测试用 WebSocket 服务，并创建一个房主为 host、alice 已加入的房间
func newHubFixture(t *testing.T) *hubFixture {
	return newHubFixtureWith(t, hubDeps{})
}

func newHubFixtureWith(t *testing.T, deps hubDeps) *hubFixture {
	t.Helper()
	if deps.store == nil {
		deps.store = memorystate.NewMemoryRoomStore()
	}
	if deps.drawingStore == nil {
		deps.drawingStore = deps.store
	}
	if deps.roomRepo == nil {
		deps.roomRepo = new(mocks.RoomRepository)
	}
	if deps.snapshotRepo == nil {
		deps.snapshotRepo = new(mocks.SnapshotRepository)
	}
	if deps.lineRepo == nil {
		deps.lineRepo = new(mocks.DrawingLineRepository)
	}
	roomRepo := deps.roomRepo
	roomRepo.On("TouchLastActive", mock.Anything, mock.Anything).Return(nil).Maybe()
	roomRepo.On("IsInviteCodeExists", mock.Anything, mock.Anything).Return(false, nil).Maybe()
	roomRepo.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()

	rooms := service.NewRoomService(roomRepo, deps.snapshotRepo, deps.lineRepo, deps.store)
	drawing := service.NewDrawingService(deps.drawingStore, rooms, nil, nil)
	h := hub.NewHub(deps.store, rooms, nil, drawing, hub.Options{CodeDebounce: 20 * time.Millisecond})
	go h.Run()

	ctx := context.Background()
	room, err := rooms.CreateRoom(ctx, host, service.CreateRoomInput{Title: "hub test", IsPublic: true})
	require.NoError(t, err)
	_, err = rooms.Join(ctx, room.ID, alice)
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	identities := map[string]domain.Identity{host.ID: host, alice.ID: alice}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := identities[r.URL.Query().Get("user")]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.NewClient(h, conn, room.ID, identity, r.URL.Query().Get("conn"))
		h.QueueMessage(hub.HubMessage{Type: "register", Client: client})
		client.Run()
	}))

	t.Cleanup(func() {
		srv.Close()
		h.Shutdown()
	})
	return &hubFixture{hub: h, rooms: rooms, drawing: drawing, server: srv, roomID: room.ID}
}

func (f *hubFixture) dial(t *testing.T, userID, connID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?user=" + userID + "&conn=" + connID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type inbound map[string]interface{}

// readUntil 读取消息直到 match 返回 true
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(inbound) bool) inbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		var msg inbound
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == msgType && (match == nil || match(msg)) {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestHub_InitialStateAndEditPropagation(t *testing.T) {
	f := newHubFixture(t)
	hostConn := f.dial(t, host.ID, "c-host")
	aliceConn := f.dial(t, alice.ID, "c-alice")

	// 初始快照：代码通过 code 消息下发，快照本身不带代码
	snap := readUntil(t, hostConn, hub.MsgSnapshot, nil)
	assert.Equal(t, true, snap["isEditor"])
	assert.Equal(t, true, snap["isHost"])
	room := snap["room"].(map[string]interface{})
	assert.NotContains(t, room, "currentCode")
	assert.NotEmpty(t, room["inviteCode"], "房主可以看到邀请码")
	readUntil(t, hostConn, hub.MsgCode, nil)

	aliceSnap := readUntil(t, aliceConn, hub.MsgSnapshot, nil)
	assert.Equal(t, false, aliceSnap["isEditor"])
	assert.NotContains(t, aliceSnap["room"].(map[string]interface{}), "inviteCode")
	readUntil(t, aliceConn, hub.MsgLines, nil)

	// 编辑者的修改经过防抖写入后推送给其他连接
	send(t, hostConn, map[string]string{"type": hub.MsgEdit, "code": "let a"})
	send(t, hostConn, map[string]string{"type": hub.MsgEdit, "code": "let answer = 42"})

	msg := readUntil(t, aliceConn, hub.MsgCode, func(m inbound) bool { return m["code"] == "let answer = 42" })
	assert.NotZero(t, msg["version"])

	live, err := f.rooms.GetRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "let answer = 42", live.CurrentCode)
}

func TestHub_NonEditorEditRejected(t *testing.T) {
	f := newHubFixture(t)
	aliceConn := f.dial(t, alice.ID, "c-alice")
	readUntil(t, aliceConn, hub.MsgSnapshot, nil)

	send(t, aliceConn, map[string]string{"type": hub.MsgEdit, "code": "nope"})
	errMsg := readUntil(t, aliceConn, hub.MsgError, nil)
	assert.Equal(t, "forbidden", errMsg["code"])

	live, err := f.rooms.GetRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultCode, live.CurrentCode)
}

func TestHub_TransferEditorUpdatesRoles(t *testing.T) {
	f := newHubFixture(t)
	hostConn := f.dial(t, host.ID, "c-host")
	aliceConn := f.dial(t, alice.ID, "c-alice")
	readUntil(t, hostConn, hub.MsgSnapshot, nil)
	readUntil(t, aliceConn, hub.MsgSnapshot, nil)

	send(t, hostConn, map[string]string{"type": hub.MsgTransferEditor, "userId": alice.ID})

	readUntil(t, aliceConn, hub.MsgSnapshot, func(m inbound) bool { return m["isEditor"] == true })
	readUntil(t, hostConn, hub.MsgSnapshot, func(m inbound) bool { return m["isEditor"] == false })

	// 非房主不能转移令牌
	send(t, aliceConn, map[string]string{"type": hub.MsgTransferEditor, "userId": alice.ID})
	errMsg := readUntil(t, aliceConn, hub.MsgError, nil)
	assert.Equal(t, "forbidden", errMsg["code"])
}

func TestHub_RemoveParticipantKicksConnection(t *testing.T) {
	f := newHubFixture(t)
	hostConn := f.dial(t, host.ID, "c-host")
	aliceConn := f.dial(t, alice.ID, "c-alice")
	readUntil(t, hostConn, hub.MsgSnapshot, nil)
	readUntil(t, aliceConn, hub.MsgSnapshot, nil)

	send(t, hostConn, map[string]string{"type": hub.MsgRemove, "userId": host.ID})
	errMsg := readUntil(t, hostConn, hub.MsgError, nil)
	assert.Equal(t, "cannot_remove_host", errMsg["code"])

	send(t, hostConn, map[string]string{"type": hub.MsgRemove, "userId": alice.ID})
	readUntil(t, aliceConn, hub.MsgRemoved, nil)

	snap := readUntil(t, hostConn, hub.MsgSnapshot, func(m inbound) bool {
		participants := m["room"].(map[string]interface{})["participants"].(map[string]interface{})
		return len(participants) == 1
	})
	assert.Equal(t, true, snap["isEditor"])
}

func TestHub_HostStrokeBroadcastsLine(t *testing.T) {
	f := newHubFixture(t)
	hostConn := f.dial(t, host.ID, "c-host")
	aliceConn := f.dial(t, alice.ID, "c-alice")
	readUntil(t, hostConn, hub.MsgLines, nil)
	readUntil(t, aliceConn, hub.MsgLines, nil)

	point := func(x, y float64) map[string]float64 { return map[string]float64{"x": x, "y": y} }
	send(t, hostConn, map[string]interface{}{"type": hub.MsgPointerDown, "point": point(1, 1)})
	send(t, hostConn, map[string]interface{}{"type": hub.MsgPointerMove, "point": point(5, 5)})

	// 其他人能看到房主的光标
	presence := readUntil(t, aliceConn, hub.MsgPresence, nil)
	assert.Equal(t, host.ID, presence["userId"])

	send(t, hostConn, map[string]interface{}{"type": hub.MsgPointerLeave, "point": point(9, 9)})

	msg := readUntil(t, aliceConn, hub.MsgLine, nil)
	assert.Equal(t, float64(0), msg["index"])
	line := msg["line"].(map[string]interface{})
	assert.Len(t, line["points"], 2)
	assert.Equal(t, domain.DefaultLineColor, line["color"])

	// 非房主的指针事件不产生笔画
	send(t, aliceConn, map[string]interface{}{"type": hub.MsgPointerDown, "point": point(1, 1)})
	send(t, aliceConn, map[string]interface{}{"type": hub.MsgPointerUp, "point": point(2, 2)})
	send(t, hostConn, map[string]interface{}{"type": hub.MsgDrawLine, "line": map[string]interface{}{
		"points": []map[string]float64{point(3, 3)},
	}})
	next := readUntil(t, aliceConn, hub.MsgLine, nil)
	assert.Equal(t, float64(1), next["index"], "房主的下一条笔画应紧接在第一条之后")
}

func TestHub_ActiveRoomsFollowConnections(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, host.ID, "c-host")
	readUntil(t, conn, hub.MsgSnapshot, nil)

	assert.Equal(t, []string{f.roomID}, f.hub.GetActiveRoomIDs())
	assert.Equal(t, []string{host.ID}, f.hub.OnlineUserIDs(f.roomID))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return len(f.hub.GetActiveRoomIDs()) == 0 }, 3*time.Second, 10*time.Millisecond)
}

// linesUnavailableStore 模拟读取笔画日志时 Redis 不可用
type linesUnavailableStore struct {
	*memorystate.MemoryRoomStore
}

func (s linesUnavailableStore) Lines(ctx context.Context, roomID string) ([]domain.DrawingLine, error) {
	return nil, repository.ErrStoreUnavailable
}

func TestHub_InitialStateFailureClosesConnection(t *testing.T) {
	store := memorystate.NewMemoryRoomStore()
	f := newHubFixtureWith(t, hubDeps{store: store, drawingStore: linesUnavailableStore{store}})
	conn := f.dial(t, alice.ID, "c-alice")

	errMsg := readUntil(t, conn, hub.MsgError, nil)
	assert.Equal(t, "store_unavailable", errMsg["code"])

	// 连接被关闭并从 Hub 注销，不会继续积压笔画
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
	}
	assert.Eventually(t, func() bool { return len(f.hub.GetActiveRoomIDs()) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestHub_SessionContinuesAfterStoreFlush(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstate.NewRedisRoomStore(client, "test:")
	roomRepo := new(mocks.RoomRepository)
	snapshotRepo := new(mocks.SnapshotRepository)
	lineRepo := new(mocks.DrawingLineRepository)
	f := newHubFixtureWith(t, hubDeps{store: store, roomRepo: roomRepo, snapshotRepo: snapshotRepo, lineRepo: lineRepo})
	ctx := context.Background()

	hostConn := f.dial(t, host.ID, "c-host")
	aliceConn := f.dial(t, alice.ID, "c-alice")
	readUntil(t, hostConn, hub.MsgLines, nil)
	readUntil(t, aliceConn, hub.MsgLines, nil)

	// 清空前：一条笔画和若干次代码修改
	_, err := f.drawing.AppendLine(ctx, f.roomID, host.ID, domain.DrawingLine{Points: []domain.DrawingPoint{{X: 1, Y: 1}}})
	require.NoError(t, err)
	readUntil(t, aliceConn, hub.MsgLine, nil)
	send(t, hostConn, map[string]string{"type": hub.MsgEdit, "code": "before flush"})
	readUntil(t, aliceConn, hub.MsgCode, func(m inbound) bool { return m["code"] == "before flush" })

	// 数据库中的快照和笔画都比实时状态旧
	live, err := f.rooms.GetRoom(ctx, f.roomID)
	require.NoError(t, err)
	snapshot := &domain.RoomSnapshot{}
	stale := live.Clone()
	stale.Revision = 2
	stale.CodeVersion = 0
	require.NoError(t, snapshot.SetRoom(stale))
	roomRepo.On("FindByID", mock.Anything, f.roomID).Return(domain.NewRoomRecord(live), nil).Once()
	snapshotRepo.On("GetLatestSnapshot", mock.Anything, f.roomID).Return(snapshot, nil).Once()
	lineRepo.On("ListByRoom", mock.Anything, f.roomID).Return([]domain.DrawingLineRecord{}, nil).Once()
	mr.FlushAll()

	// 清空后的第一次写入恢复文档，双方都收到新的状态
	send(t, hostConn, map[string]string{"type": hub.MsgEdit, "code": "after flush"})
	readUntil(t, aliceConn, hub.MsgCode, func(m inbound) bool { return m["code"] == "after flush" })
	reloaded := readUntil(t, aliceConn, hub.MsgLines, nil)
	assert.Empty(t, reloaded["lines"], "恢复出的日志比已下发的短，客户端收到完整的新日志")
	readUntil(t, hostConn, hub.MsgLines, nil)

	// 新笔画从恢复后的日志末尾继续
	_, err = f.drawing.AppendLine(ctx, f.roomID, host.ID, domain.DrawingLine{Points: []domain.DrawingPoint{{X: 2, Y: 2}}})
	require.NoError(t, err)
	msg := readUntil(t, aliceConn, hub.MsgLine, nil)
	assert.Equal(t, float64(0), msg["index"])

	restored, err := f.rooms.GetRoom(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, "after flush", restored.CurrentCode)
	assert.Greater(t, restored.Revision, live.Revision)
	assert.Equal(t, uint64(1), restored.Epoch)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "forbidden", hub.ErrorCode(service.ErrForbidden))
	assert.Equal(t, "cannot_remove_host", hub.ErrorCode(service.ErrCannotRemoveHost))
	assert.Equal(t, "unknown_participant", hub.ErrorCode(service.ErrUnknownParticipant))
	assert.Equal(t, "store_unavailable", hub.ErrorCode(service.ErrStoreUnavailable))
	assert.Equal(t, "execution_failed", hub.ErrorCode(service.ErrExecutionFailed))
	assert.Equal(t, "internal_error", hub.ErrorCode(assert.AnError))
}
