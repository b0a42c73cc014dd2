package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/collab"
	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/service"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// 每个连接持有自己的代码缓冲区、防抖写出和笔画累积状态。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	roomID   string
	identity domain.Identity
	connID   string
	send     chan []byte // 用于向此客户端发送消息的缓冲通道

	mu      sync.Mutex
	closed  bool
	removed bool

	// deliverMu 串行化快照下发，lastRevision/epoch/wasMember/hostID 受其保护
	deliverMu    sync.Mutex
	lastRevision uint64
	epoch        uint64
	wasMember    bool
	hostID       string

	// linesMu 保证笔画按日志顺序下发
	linesMu      sync.Mutex
	lineCount    int
	linesReady   bool
	pendingLines []lineMessage

	code   *collab.CodeSync
	stroke collab.StrokeRecorder // 只在 ReadPump 中访问
}

// roomCodeWriter 把 CodeSync 的写出绑定到当前房间和用户
type roomCodeWriter struct {
	rooms  *service.RoomService
	roomID string
	userID string
}

func (w roomCodeWriter) UpdateCode(ctx context.Context, code, stamp string) (*domain.Room, error) {
	return w.rooms.UpdateCode(ctx, w.roomID, w.userID, code, stamp)
}

func (w roomCodeWriter) ChangeLanguage(ctx context.Context, key domain.LanguageKey, stamp string) (*domain.Room, error) {
	return w.rooms.ChangeLanguage(ctx, w.roomID, w.userID, key, stamp)
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, roomID string, identity domain.Identity, connID string) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		roomID:   roomID,
		identity: identity,
		connID:   connID,
		send:     make(chan []byte, sendBufferSize),
	}
	c.code = collab.NewCodeSync(connID, roomCodeWriter{rooms: hub.roomService, roomID: roomID, userID: identity.ID}, collab.CodeSyncOptions{
		Debounce: hub.opts.CodeDebounce,
		OnBuffer: func(code string, version uint64) {
			c.enqueue(codeMessage{Type: MsgCode, Code: code, Version: version})
		},
		OnError: func(err error) {
			c.logger().WithError(err).Warn("Debounced code write failed")
			c.enqueueError(err)
		},
	})
	return c
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"user_id": c.identity.ID, "room_id": c.roomID, "conn_id": c.connID})
}

// ReadPump 读取客户端消息并按到达顺序处理。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			c.logger().Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		c.logger().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logger().Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logger().Debugf("Received non-text message type: %d", messageType)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger().WithError(err).Debug("Failed to decode client message")
			c.enqueueError(service.ErrInvalidInput)
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage 处理一条客户端消息。
// 写入结果不直接回显，由订阅推送的快照带回。
func (c *Client) handleMessage(msg ClientMessage) {
	ctx, cancel := context.WithTimeout(c.hub.ctx, writeWait)
	defer cancel()
	uid := c.identity.ID

	var err error
	switch msg.Type {
	case MsgEdit:
		err = c.code.LocalEdit(msg.Code)
	case MsgLanguage:
		err = c.code.ChangeLanguage(ctx, msg.Language)
	case MsgExecute:
		c.execute(msg)
	case MsgTransferEditor:
		_, err = c.hub.roomService.TransferEditor(ctx, c.roomID, uid, msg.UserID)
	case MsgMute:
		_, err = c.hub.roomService.MuteParticipant(ctx, c.roomID, uid, msg.UserID)
	case MsgUnmute:
		_, err = c.hub.roomService.UnmuteParticipant(ctx, c.roomID, uid, msg.UserID)
	case MsgRemove:
		_, err = c.hub.roomService.RemoveParticipant(ctx, c.roomID, uid, msg.UserID)
	case MsgSetVisibility:
		if msg.IsPublic == nil {
			err = service.ErrInvalidInput
			break
		}
		_, err = c.hub.roomService.SetVisibility(ctx, c.roomID, uid, *msg.IsPublic)
	case MsgDrawLine:
		if msg.Line == nil {
			err = service.ErrInvalidLine
			break
		}
		_, err = c.hub.drawingService.AppendLine(ctx, c.roomID, uid, *msg.Line)
	case MsgPointerDown, MsgPointerMove, MsgPointerUp, MsgPointerLeave:
		err = c.handlePointer(ctx, msg)
	case MsgCursor:
		if msg.Cursor != nil {
			c.hub.updateCursor(c, *msg.Cursor)
		}
	default:
		c.logger().Debugf("Unknown client message type: %s", msg.Type)
		err = service.ErrInvalidInput
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger().WithError(err).WithField("message_type", msg.Type).Debug("Client message rejected")
		c.enqueueError(err)
	}
}

// handlePointer 把指针事件累积成笔画。只有房主的指针会产生笔画，其他人的只更新光标。
func (c *Client) handlePointer(ctx context.Context, msg ClientMessage) error {
	if msg.Point == nil {
		return nil
	}
	p := *msg.Point
	isHost := c.isHost()

	var (
		line domain.DrawingLine
		ok   bool
	)
	switch msg.Type {
	case MsgPointerDown:
		if isHost {
			c.stroke.Down(p)
		}
	case MsgPointerMove:
		c.stroke.Move(p)
	case MsgPointerUp:
		line, ok = c.stroke.Up()
	case MsgPointerLeave:
		line, ok = c.stroke.Leave()
	}

	c.hub.updateCursor(c, domain.Cursor{X: p.X, Y: p.Y, Color: p.Color, StrokeWidth: p.StrokeWidth, Drawing: c.stroke.Active()})
	if !ok {
		return nil
	}
	_, err := c.hub.drawingService.AppendLine(ctx, c.roomID, c.identity.ID, line)
	return err
}

// execute 在后台运行代码，结果只发给调用者；stdout 通过快照广播给所有人
func (c *Client) execute(msg ClientMessage) {
	if c.hub.execService == nil {
		c.enqueueError(service.ErrExecutionFailed)
		return
	}
	// 先写出尚未发送的编辑，保证运行的是最新代码
	c.code.Flush()
	code := msg.Code
	if code == "" {
		code = c.code.Buffer()
	}
	go func() {
		result, err := c.hub.execService.Execute(c.hub.ctx, c.roomID, c.identity.ID, code, msg.Stdin)
		if result != nil {
			c.enqueue(executionMessage{Type: MsgExecution, Result: result})
		}
		if err != nil {
			c.enqueueError(err)
		}
	}()
}

// deliverSnapshot 下发一份房间快照。force 用于在线列表变化时重发同一 revision。
func (c *Client) deliverSnapshot(room *domain.Room, online []string, force bool) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	if c.isClosed() {
		return
	}
	if room.Revision < c.lastRevision || (!force && room.Revision == c.lastRevision && c.lastRevision != 0) {
		return
	}
	restored := c.lastRevision != 0 && room.Epoch != c.epoch
	c.lastRevision = room.Revision
	c.epoch = room.Epoch
	c.hostID = room.HostID

	uid := c.identity.ID
	member := room.HasParticipant(uid)
	if !member && c.wasMember {
		c.kick()
		return
	}
	if member {
		c.wasMember = true
	}

	isEditor := member && room.IsEditor(uid)
	c.enqueue(snapshotMessage{
		Type:     MsgSnapshot,
		Room:     newRoomView(room, uid),
		IsEditor: isEditor,
		IsHost:   room.IsHost(uid),
		Online:   online,
		ConnID:   c.connID,
	})
	// 缓冲区被远端覆盖时紧随快照发出 code 消息
	c.code.ApplySnapshot(room, isEditor)
	if restored {
		c.reloadLines()
	}
}

// kick 通知被移除的用户并断开连接
func (c *Client) kick() {
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return
	}
	c.removed = true
	c.mu.Unlock()

	c.logger().Info("Participant removed, closing connection")
	c.code.Close()
	c.enqueue(removedMessage{Type: MsgRemoved})
	c.hub.QueueMessage(HubMessage{Type: "unregister", Client: c})
}

func (c *Client) isHost() bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	return c.hostID != "" && c.hostID == c.identity.ID
}

// deliverLines 下发完整的笔画日志
func (c *Client) deliverLines(lines []domain.DrawingLine) {
	c.linesMu.Lock()
	defer c.linesMu.Unlock()

	if c.linesReady && len(lines) < c.lineCount {
		return
	}
	c.sendLinesLocked(lines)

	pending := c.pendingLines
	c.pendingLines = nil
	for _, p := range pending {
		c.deliverLineLocked(p.Index, p.Line)
	}
}

// reloadLines 在文档从数据库恢复后重新下发完整日志。
// 恢复出的日志可能比已下发的短，不能走 deliverLines 的长度检查。
func (c *Client) reloadLines() {
	c.linesMu.Lock()
	defer c.linesMu.Unlock()
	if !c.linesReady {
		// 初始日志还没下发，sendInitialState 会读到恢复后的日志
		return
	}
	c.logger().Info("Room restored from database, resending drawing log")
	ctx, cancel := context.WithTimeout(c.hub.ctx, writeWait)
	defer cancel()
	lines, err := c.hub.drawingService.Lines(ctx, c.roomID)
	if err != nil {
		c.enqueueError(err)
		return
	}
	c.sendLinesLocked(lines)
}

// deliverLine 下发一条新追加的笔画。发现缺口时重新下发完整日志。
func (c *Client) deliverLine(index int, line domain.DrawingLine) {
	c.linesMu.Lock()
	defer c.linesMu.Unlock()
	c.deliverLineLocked(index, line)
}

func (c *Client) deliverLineLocked(index int, line domain.DrawingLine) {
	if !c.linesReady {
		c.pendingLines = append(c.pendingLines, lineMessage{Type: MsgLine, Index: index, Line: line})
		return
	}
	switch {
	case index < c.lineCount:
		return
	case index == c.lineCount:
		c.lineCount++
		c.enqueue(lineMessage{Type: MsgLine, Index: index, Line: line})
	default:
		c.logger().WithFields(logrus.Fields{"index": index, "known": c.lineCount}).Debug("Line gap detected, resending full log")
		ctx, cancel := context.WithTimeout(c.hub.ctx, writeWait)
		defer cancel()
		lines, err := c.hub.drawingService.Lines(ctx, c.roomID)
		if err != nil {
			c.enqueueError(err)
			return
		}
		if len(lines) > index {
			c.sendLinesLocked(lines)
		}
	}
}

func (c *Client) sendLinesLocked(lines []domain.DrawingLine) {
	if lines == nil {
		lines = []domain.DrawingLine{}
	}
	c.lineCount = len(lines)
	c.linesReady = true
	c.enqueue(linesMessage{Type: MsgLines, Lines: lines})
}

// presence 构造本连接的光标消息
func (c *Client) presence(cursor *domain.Cursor) presenceMessage {
	return presenceMessage{
		Type:   MsgPresence,
		ConnID: c.connID,
		UserID: c.identity.ID,
		Name:   c.identity.DisplayName(),
		Cursor: cursor,
	}
}

// enqueue 序列化消息并放入发送队列。队列满说明客户端跟不上，直接断开。
func (c *Client) enqueue(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		c.logger().WithError(err).Error("Failed to marshal outgoing message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger().Warn("Client send channel full, disconnecting slow client")
		go c.hub.QueueMessage(HubMessage{Type: "unregister", Client: c})
	}
}

func (c *Client) enqueueError(err error) {
	c.enqueue(newErrorMessage(err))
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close 关闭发送通道并停止代码同步，可重复调用
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.code.Close()
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger().Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭 (通常在注销时)，剩余消息已全部写出
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger().WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (c *Client) RoomID() string { return c.roomID }
func (c *Client) UserID() string { return c.identity.ID }
func (c *Client) ConnID() string { return c.connID }
func (c *Client) CloseConn() { c.conn.Close() }
