package hub

import (
	"errors"

	"github.com/ayzthp/ColabCode/internal/collab"
	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/service"
)

// 客户端 -> 服务端消息类型
const (
	MsgEdit           = "edit"
	MsgLanguage       = "language"
	MsgExecute        = "execute"
	MsgTransferEditor = "transfer_editor"
	MsgMute           = "mute"
	MsgUnmute         = "unmute"
	MsgRemove         = "remove"
	MsgSetVisibility  = "set_visibility"
	MsgDrawLine       = "draw_line"
	MsgPointerDown    = "pointer_down"
	MsgPointerMove    = "pointer_move"
	MsgPointerUp      = "pointer_up"
	MsgPointerLeave   = "pointer_leave"
	MsgCursor         = "cursor"
)

// 服务端 -> 客户端消息类型
const (
	MsgSnapshot  = "snapshot"
	MsgCode      = "code"
	MsgLines     = "lines"
	MsgLine      = "line"
	MsgPresence  = "presence"
	MsgExecution = "execution"
	MsgError     = "error"
	MsgRemoved   = "removed"
)

// ClientMessage 是客户端发来的消息，按 Type 使用不同的字段
type ClientMessage struct {
	Type     string               `json:"type"`
	Code     string               `json:"code,omitempty"`
	Language domain.LanguageKey   `json:"language,omitempty"`
	Stdin    string               `json:"stdin,omitempty"`
	UserID   string               `json:"userId,omitempty"`
	IsPublic *bool                `json:"isPublic,omitempty"`
	Line     *domain.DrawingLine  `json:"line,omitempty"`
	Point    *domain.DrawingPoint `json:"point,omitempty"`
	Cursor   *domain.Cursor       `json:"cursor,omitempty"`
}

// roomView 是下发给客户端的房间文档。
// 代码只通过 code 消息下发；邀请码只给房主。
type roomView struct {
	*domain.Room
	CurrentCode string `json:"currentCode,omitempty"`
	InviteCode  string `json:"inviteCode,omitempty"`
}

func newRoomView(room *domain.Room, viewerID string) roomView {
	v := roomView{Room: room}
	if room.IsHost(viewerID) {
		v.InviteCode = room.InviteCode
	}
	return v
}

type snapshotMessage struct {
	Type     string   `json:"type"`
	Room     roomView `json:"room"`
	IsEditor bool     `json:"isEditor"`
	IsHost   bool     `json:"isHost"`
	Online   []string `json:"online"`
	ConnID   string   `json:"connId"`
}

type codeMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Version uint64 `json:"version"`
}

type linesMessage struct {
	Type  string               `json:"type"`
	Lines []domain.DrawingLine `json:"lines"`
}

type lineMessage struct {
	Type  string             `json:"type"`
	Index int                `json:"index"`
	Line  domain.DrawingLine `json:"line"`
}

// presenceMessage 描述另一个连接的光标，Cursor 为 nil 表示该连接已离开
type presenceMessage struct {
	Type   string         `json:"type"`
	ConnID string         `json:"connId"`
	UserID string         `json:"userId"`
	Name   string         `json:"name"`
	Cursor *domain.Cursor `json:"cursor"`
}

type executionMessage struct {
	Type   string                  `json:"type"`
	Result *domain.ExecutionResult `json:"result"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type removedMessage struct {
	Type string `json:"type"`
}

// errorCodes 把业务错误映射为客户端可识别的错误码
var errorCodes = []struct {
	err  error
	code string
}{
	{service.ErrForbidden, "forbidden"},
	{collab.ErrReadOnly, "forbidden"},
	{service.ErrCannotRemoveHost, "cannot_remove_host"},
	{service.ErrUnknownParticipant, "unknown_participant"},
	{service.ErrStoreUnavailable, "store_unavailable"},
	{service.ErrExecutionFailed, "execution_failed"},
	{service.ErrRoomNotFound, "room_not_found"},
	{service.ErrRoomFull, "room_full"},
	{service.ErrUnsupportedLanguage, "unsupported_language"},
	{service.ErrInvalidLine, "invalid_line"},
	{service.ErrRateLimited, "rate_limited"},
	{service.ErrInvalidInput, "invalid_input"},
}

// ErrorCode 返回 err 对应的错误码，未知错误为 internal_error
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal_error"
}

func newErrorMessage(err error) errorMessage {
	msg := "internal server error"
	if code := ErrorCode(err); code != "internal_error" {
		msg = err.Error()
	}
	return errorMessage{Type: MsgError, Code: ErrorCode(err), Message: msg}
}
