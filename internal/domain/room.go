package domain

import "time"

// 房间创建时的默认值
const (
	DefaultMaxParticipants = 10
	DefaultLanguage        = LanguageJavaScript
	DefaultCode            = "// Welcome to the collaborative code editor!\n// Start coding with your team...\n\nfunction hello() {\n  console.log('Hello, World!');\n}\n\nhello();"
)

// Room 是房间的实时共享文档，所有客户端都通过 RoomStore 读写它。
// Revision 由存储层在每次提交时递增，订阅方据此丢弃旧快照。
type Room struct {
	ID              string                  `json:"id"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
	HostID          string                  `json:"hostId"`
	HostName        string                  `json:"hostName"`
	CreatedAt       time.Time               `json:"createdAt"`
	IsPublic        bool                    `json:"isPublic"`
	MaxParticipants int                     `json:"maxParticipants"`
	InviteCode      string                  `json:"inviteCode,omitempty"`
	CurrentEditorID string                  `json:"currentEditorId"`
	CurrentCode     string                  `json:"currentCode"`
	CurrentLanguage LanguageKey             `json:"currentLanguage"`
	CodeVersion     uint64                  `json:"codeVersion"` // 代码字段的单调版本号
	CodeStamp       string                  `json:"codeStamp,omitempty"`
	LastUpdated     time.Time               `json:"lastUpdated"`
	LastUpdatedBy   string                  `json:"lastUpdatedBy,omitempty"`
	LastExecution   *Execution              `json:"lastExecution,omitempty"`
	Participants    map[string]*Participant `json:"participants"`
	Revision        uint64                  `json:"revision"`
	Epoch           uint64                  `json:"epoch,omitempty"` // 每次从数据库恢复时递增
}

// NewRoom 构造一个新房间文档：创建者成为房主和当前编辑者。
func NewRoom(id string, host Identity, title, description string, isPublic bool, maxParticipants int, now time.Time) *Room {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &Room{
		ID:              id,
		Title:           title,
		Description:     description,
		HostID:          host.ID,
		HostName:        host.DisplayName(),
		CreatedAt:       now,
		IsPublic:        isPublic,
		MaxParticipants: maxParticipants,
		CurrentEditorID: host.ID,
		CurrentCode:     DefaultCode,
		CurrentLanguage: DefaultLanguage,
		LastUpdated:     now,
		LastUpdatedBy:   host.ID,
		Participants: map[string]*Participant{
			host.ID: NewParticipant(host, RoleHost, now),
		},
	}
}

// PrepareRestore 把从数据库读出的文档准备为新一代的实时文档。
// Revision 和 CodeVersion 以当前时间的微秒数为起点，必须大于恢复前已经发出的值。
func (r *Room) PrepareRestore(now time.Time) {
	base := uint64(now.UnixMicro())
	if base <= r.Revision {
		base = r.Revision + 1
	}
	r.Revision = base
	if r.CodeVersion < base {
		r.CodeVersion = base
	}
	r.CodeStamp = ""
	r.Epoch++
}

// Clone 返回房间文档的深拷贝，修改副本不会影响原对象。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LastExecution != nil {
		exec := *r.LastExecution
		cp.LastExecution = &exec
	}
	cp.Participants = make(map[string]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		pc := *p
		cp.Participants[id] = &pc
	}
	return &cp
}

// IsHost 判断给定用户是否为房主
func (r *Room) IsHost(userID string) bool {
	return userID != "" && userID == r.HostID
}

// IsEditor 判断给定用户是否持有编辑令牌
func (r *Room) IsEditor(userID string) bool {
	return userID != "" && userID == r.CurrentEditorID
}

// HasParticipant 判断用户是否在成员名单中
func (r *Room) HasParticipant(userID string) bool {
	_, ok := r.Participants[userID]
	return ok
}

// IsFull 判断房间是否已达到人数上限
func (r *Room) IsFull() bool {
	return r.MaxParticipants > 0 && len(r.Participants) >= r.MaxParticipants
}
