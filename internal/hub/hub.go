package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
	"github.com/ayzthp/ColabCode/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 需要容纳整份代码和一条完整笔画
	maxMessageSize = 512 * 1024

	// 客户端发送队列长度
	sendBufferSize = 256
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Options 配置 Hub 创建的会话
type Options struct {
	CodeDebounce time.Duration
}

// roomFeed 是一个房间在本实例上的唯一订阅，由该房间的全部连接共享
type roomFeed struct {
	roomID   string
	clients  map[*Client]bool
	cancel   context.CancelFunc
	lastRoom *domain.Room
	// 最近转发的 revision，更旧的快照直接丢弃
	lastRevision uint64
	cursors      map[*Client]domain.Cursor
}

// Hub 维护活跃客户端集合，并把 RoomStore 的变更分发给房间内的每个连接
type Hub struct {
	messageChan chan HubMessage

	// map[roomID]*roomFeed
	rooms   map[string]*roomFeed
	roomsMu sync.RWMutex

	store          repository.RoomStore
	roomService    *service.RoomService
	execService    *service.ExecutionService
	drawingService *service.DrawingService
	opts           Options

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(
	store repository.RoomStore,
	roomService *service.RoomService,
	execService *service.ExecutionService,
	drawingService *service.DrawingService,
	opts Options,
) *Hub {
	if store == nil {
		panic("RoomStore cannot be nil for Hub")
	}
	if roomService == nil || drawingService == nil {
		panic("RoomService and DrawingService cannot be nil for Hub")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		messageChan:    make(chan HubMessage, 512),
		rooms:          make(map[string]*roomFeed),
		store:          store,
		roomService:    roomService,
		execService:    execService,
		drawingService: drawingService,
		opts:           opts,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
// 注册和注销在这个循环里串行处理。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.ctx.Done():
			log.Info("Hub is shutting down...")
			h.closeAll()
			return
		}
	}
}

// Shutdown 停止 Hub，关闭全部订阅和连接
func (h *Hub) Shutdown() {
	h.cancel()
}

// registerClient 把客户端加入房间；房间在本实例上的第一个连接会建立订阅
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": client.roomID,
		"user_id": client.UserID(),
		"conn_id": client.connID,
		"action":  "registerClient",
	})

	h.roomsMu.Lock()
	feed, ok := h.rooms[client.roomID]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		events, err := h.store.Subscribe(ctx, client.roomID)
		if err != nil {
			h.roomsMu.Unlock()
			cancel()
			logCtx.WithError(err).Error("Failed to subscribe to room events")
			client.enqueueError(service.ErrStoreUnavailable)
			client.close()
			return
		}
		feed = &roomFeed{
			roomID:  client.roomID,
			clients: make(map[*Client]bool),
			cancel:  cancel,
			cursors: make(map[*Client]domain.Cursor),
		}
		h.rooms[client.roomID] = feed
		go h.pumpFeed(feed, events)
		logCtx.Info("Room feed created")
	}
	feed.clients[client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	go h.sendInitialState(client)
	// 在线列表变化
	h.resendSnapshot(client.roomID)
}

// unregisterClient 移除客户端；房间最后一个连接离开时关闭订阅
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": client.roomID,
		"user_id": client.UserID(),
		"conn_id": client.connID,
		"action":  "unregisterClient",
	})

	h.roomsMu.Lock()
	feed, ok := h.rooms[client.roomID]
	if !ok || !feed.clients[client] {
		h.roomsMu.Unlock()
		client.close()
		logCtx.Debug("Client already unregistered")
		return
	}
	delete(feed.clients, client)
	_, hadCursor := feed.cursors[client]
	delete(feed.cursors, client)
	empty := len(feed.clients) == 0
	if empty {
		delete(h.rooms, client.roomID)
		feed.cancel()
	}
	h.roomsMu.Unlock()

	client.close()
	logCtx.Info("Client unregistered from Hub")

	if empty {
		logCtx.Info("Room empty, feed closed")
		return
	}
	if hadCursor {
		h.broadcast(client.roomID, client.presence(nil), client)
	}
	h.resendSnapshot(client.roomID)
}

// pumpFeed 把一个房间的存储事件按提交顺序分发给该房间的连接
func (h *Hub) pumpFeed(feed *roomFeed, events <-chan repository.RoomEvent) {
	logCtx := logrus.WithField("room_id", feed.roomID)
	for ev := range events {
		switch ev.Kind {
		case repository.EventSnapshot:
			if ev.Room == nil {
				continue
			}
			h.roomsMu.Lock()
			if ev.Room.Revision <= feed.lastRevision {
				h.roomsMu.Unlock()
				continue
			}
			feed.lastRevision = ev.Room.Revision
			feed.lastRoom = ev.Room
			clients, online := feed.snapshotTargets()
			h.roomsMu.Unlock()

			for _, c := range clients {
				c.deliverSnapshot(ev.Room, online, false)
			}
		case repository.EventLine:
			if ev.Line == nil {
				continue
			}
			for _, c := range h.roomClients(feed.roomID) {
				c.deliverLine(ev.LineIndex, *ev.Line)
			}
		default:
			logCtx.Warnf("Unknown room event kind: %s", ev.Kind)
		}
	}
	logCtx.Debug("Room feed closed")
}

// dropClient 发送错误后断开连接。没有拿到初始日志的连接不能留在房间里。
func (h *Hub) dropClient(client *Client, err error) {
	client.enqueueError(err)
	if !h.QueueMessage(HubMessage{Type: "unregister", Client: client}) {
		client.close()
	}
}

// sendInitialState 给新连接发送完整的房间状态和笔画日志
func (h *Hub) sendInitialState(client *Client) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":   client.roomID,
		"user_id":   client.UserID(),
		"operation": "sendInitialState",
	})
	ctx, cancel := context.WithTimeout(h.ctx, writeWait)
	defer cancel()

	room, err := h.roomService.GetRoom(ctx, client.roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load room for new client")
		h.dropClient(client, err)
		return
	}
	h.rememberRoom(room)
	client.deliverSnapshot(room, h.OnlineUserIDs(client.roomID), false)

	lines, err := h.drawingService.Lines(ctx, client.roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to load drawing lines for new client")
		h.dropClient(client, err)
		return
	}
	client.deliverLines(lines)

	for _, p := range h.otherCursors(client) {
		client.enqueue(p)
	}
	logCtx.Debug("Initial state sent to client")
}

// rememberRoom 记录较新的房间文档，用于在线列表变化时重发
func (h *Hub) rememberRoom(room *domain.Room) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if feed, ok := h.rooms[room.ID]; ok && (feed.lastRoom == nil || room.Revision > feed.lastRoom.Revision) {
		feed.lastRoom = room
	}
}

// resendSnapshot 在在线列表变化时把最近的房间快照重新发给房间内的连接
func (h *Hub) resendSnapshot(roomID string) {
	h.roomsMu.RLock()
	feed, ok := h.rooms[roomID]
	if !ok || feed.lastRoom == nil {
		h.roomsMu.RUnlock()
		return
	}
	room := feed.lastRoom
	clients, online := feed.snapshotTargets()
	h.roomsMu.RUnlock()

	for _, c := range clients {
		c.deliverSnapshot(room, online, true)
	}
}

// updateCursor 记录连接的光标并转发给房间内的其他连接
func (h *Hub) updateCursor(client *Client, cursor domain.Cursor) {
	h.roomsMu.Lock()
	feed, ok := h.rooms[client.roomID]
	if ok && feed.clients[client] {
		feed.cursors[client] = cursor
	}
	h.roomsMu.Unlock()
	if !ok {
		return
	}
	h.broadcast(client.roomID, client.presence(&cursor), client)
}

func (h *Hub) otherCursors(client *Client) []presenceMessage {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	feed, ok := h.rooms[client.roomID]
	if !ok {
		return nil
	}
	out := make([]presenceMessage, 0, len(feed.cursors))
	for c, cursor := range feed.cursors {
		if c == client {
			continue
		}
		cursor := cursor
		out = append(out, c.presence(&cursor))
	}
	return out
}

// broadcast 将消息发送给指定房间的所有客户端，排除发送者
func (h *Hub) broadcast(roomID string, message interface{}, sender *Client) {
	for _, c := range h.roomClients(roomID) {
		if c != sender {
			c.enqueue(message)
		}
	}
}

// roomClients 返回房间内客户端的副本，避免长时间持有锁
func (h *Hub) roomClients(roomID string) []*Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	feed, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(feed.clients))
	for c := range feed.clients {
		out = append(out, c)
	}
	return out
}

// snapshotTargets 返回连接列表和去重后的在线用户，调用方必须持有 roomsMu
func (f *roomFeed) snapshotTargets() ([]*Client, []string) {
	clients := make([]*Client, 0, len(f.clients))
	seen := make(map[string]bool, len(f.clients))
	online := make([]string, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
		if uid := c.UserID(); !seen[uid] {
			seen[uid] = true
			online = append(online, uid)
		}
	}
	sort.Strings(online)
	return clients, online
}

func (h *Hub) closeAll() {
	h.roomsMu.Lock()
	feeds := h.rooms
	h.rooms = make(map[string]*roomFeed)
	h.roomsMu.Unlock()

	for _, feed := range feeds {
		feed.cancel()
		for c := range feed.clients {
			c.close()
		}
	}
}

// --- 公共方法 ---

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Client != nil {
			fields["room_id"] = msg.Client.roomID
			fields["user_id"] = msg.Client.UserID()
		}
		logrus.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// GetActiveRoomIDs 返回当前在本实例上有连接的房间
func (h *Hub) GetActiveRoomIDs() []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUserIDs 返回房间内当前在线的用户 ID
func (h *Hub) OnlineUserIDs(roomID string) []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	feed, ok := h.rooms[roomID]
	if !ok {
		return []string{}
	}
	_, online := feed.snapshotTargets()
	return online
}
