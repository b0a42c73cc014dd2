package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoomRecord 是房间元数据在 MySQL 中的持久化形式。
// 实时状态在 RoomStore 中，这里只保存列表、邀请码查询和恢复所需的信息。
type RoomRecord struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Title           string    `gorm:"size:191;not null"`
	Description     string    `gorm:"type:text"`
	HostID          string    `gorm:"size:128;index;not null"`
	HostName        string    `gorm:"size:191"`
	IsPublic        bool      `gorm:"index;not null"`
	MaxParticipants int       `gorm:"not null"`
	InviteCode      string    `gorm:"uniqueIndex;size:16;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
	LastActive      time.Time `gorm:"index"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (RoomRecord) TableName() string {
	return "rooms"
}

// NewRoomRecord 从房间文档提取元数据
func NewRoomRecord(room *Room) *RoomRecord {
	return &RoomRecord{
		ID:              room.ID,
		Title:           room.Title,
		Description:     room.Description,
		HostID:          room.HostID,
		HostName:        room.HostName,
		IsPublic:        room.IsPublic,
		MaxParticipants: room.MaxParticipants,
		InviteCode:      room.InviteCode,
		CreatedAt:       room.CreatedAt,
		LastActive:      room.CreatedAt,
	}
}

// ToRoom 用元数据重建一个只有房主的房间文档，用于没有快照时的恢复。
func (r *RoomRecord) ToRoom() *Room {
	room := NewRoom(r.ID, Identity{ID: r.HostID, Name: r.HostName}, r.Title, r.Description, r.IsPublic, r.MaxParticipants, r.CreatedAt)
	room.InviteCode = r.InviteCode
	return room
}

// RoomSnapshot 是房间文档在某个 revision 的完整备份。
type RoomSnapshot struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"size:64;index;not null"`
	Revision  uint64    `gorm:"not null"`
	Document  string    `gorm:"type:longtext;not null"` // JSON 格式的 Room
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (RoomSnapshot) TableName() string {
	return "room_snapshots"
}

// ParseRoom 将快照内容解析为房间文档
func (s *RoomSnapshot) ParseRoom() (*Room, error) {
	if s.Document == "" {
		return nil, fmt.Errorf("snapshot %d for room %s is empty", s.ID, s.RoomID)
	}
	var room Room
	if err := json.Unmarshal([]byte(s.Document), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot document: %w", err)
	}
	if room.Participants == nil {
		room.Participants = make(map[string]*Participant)
	}
	return &room, nil
}

// SetRoom 序列化房间文档并写入快照
func (s *RoomSnapshot) SetRoom(room *Room) error {
	bytes, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot document: %w", err)
	}
	s.RoomID = room.ID
	s.Revision = room.Revision
	s.Document = string(bytes)
	return nil
}
