package domain

// Capability 是写入共享文档前需要校验的权限
type Capability int

const (
	// CapabilityEditCode 修改代码、切换语言、运行代码，仅当前编辑者
	CapabilityEditCode Capability = iota + 1
	// CapabilityDraw 向画板追加笔画，仅房主
	CapabilityDraw
	// CapabilityModerate 转移编辑权、静音、移除成员、切换可见性，仅房主
	CapabilityModerate
	// CapabilityView 读取文档和画板：公开房间任何人，私有房间仅房主和成员
	CapabilityView
)

func (c Capability) String() string {
	switch c {
	case CapabilityEditCode:
		return "edit_code"
	case CapabilityDraw:
		return "draw"
	case CapabilityModerate:
		return "moderate"
	case CapabilityView:
		return "view"
	default:
		return "unknown"
	}
}

// Allows 判断 actor 在当前文档状态下是否拥有该权限。
// 绘图权限和编辑令牌是两个相互独立的单写者角色。
func (r *Room) Allows(actorID string, c Capability) bool {
	if r == nil || actorID == "" {
		return false
	}
	switch c {
	case CapabilityEditCode:
		return r.IsEditor(actorID) && r.HasParticipant(actorID)
	case CapabilityDraw, CapabilityModerate:
		return r.IsHost(actorID)
	case CapabilityView:
		return r.IsPublic || r.IsHost(actorID) || r.HasParticipant(actorID)
	default:
		return false
	}
}
