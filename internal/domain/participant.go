package domain

import "time"

// Role 表示成员在房间中的角色
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Participant 是房间成员名单中的一项，以用户 ID 为键。
// Muted 只是展示用的标记，不影响编辑或绘图权限。
type Participant struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joinedAt"`
	Role     Role      `json:"role"`
	Muted    bool      `json:"muted"`
}

// NewParticipant 根据身份信息创建成员记录
func NewParticipant(identity Identity, role Role, now time.Time) *Participant {
	return &Participant{
		Name:     identity.DisplayName(),
		Email:    identity.Email,
		JoinedAt: now,
		Role:     role,
	}
}
