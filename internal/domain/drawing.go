package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// 单条笔画的上限，防止恶意客户端写入超大数据
const (
	MaxLinePoints     = 10000
	MaxStrokeWidth    = 100
	DefaultLineColor  = "#000000"
	DefaultLineStroke = 2
)

// DrawingPoint 是笔画中的一个采样点
type DrawingPoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// DrawingLine 是画板日志中的一条笔画，一旦追加就不再修改或重排。
type DrawingLine struct {
	Points      []DrawingPoint `json:"points"`
	Color       string         `json:"color"`
	StrokeWidth float64        `json:"strokeWidth"`
}

// Validate 检查笔画是否可以追加到日志
func (l DrawingLine) Validate() error {
	if len(l.Points) == 0 {
		return fmt.Errorf("line has no points")
	}
	if len(l.Points) > MaxLinePoints {
		return fmt.Errorf("line has %d points, max %d", len(l.Points), MaxLinePoints)
	}
	if l.StrokeWidth < 0 || l.StrokeWidth > MaxStrokeWidth {
		return fmt.Errorf("invalid stroke width %v", l.StrokeWidth)
	}
	return nil
}

// Normalize 补全缺省的颜色和线宽
func (l DrawingLine) Normalize() DrawingLine {
	if l.Color == "" {
		l.Color = DefaultLineColor
	}
	if l.StrokeWidth == 0 {
		l.StrokeWidth = DefaultLineStroke
	}
	return l
}

// Cursor 是某个连接的临时光标状态，只存在于连接期间，不进入持久日志。
type Cursor struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Color       string  `json:"color,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Drawing     bool    `json:"drawing"`
}

// DrawingLineRecord 是持久化到数据库的笔画记录。
type DrawingLineRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"size:64;not null;uniqueIndex:idx_room_line"`
	LineIndex int       `gorm:"not null;uniqueIndex:idx_room_line"` // 在房间日志中的位置
	UserID    string    `gorm:"size:128;not null"`
	Data      string    `gorm:"type:longtext;not null"` // JSON 格式的 DrawingLine，满载的笔画超过 64KB
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (DrawingLineRecord) TableName() string {
	return "drawing_lines"
}

// ParseLine 将 Data 字段解析为 DrawingLine
func (r *DrawingLineRecord) ParseLine() (DrawingLine, error) {
	var line DrawingLine
	if r.Data == "" || r.Data == "null" {
		return line, fmt.Errorf("drawing line record %d has empty data", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Data), &line); err != nil {
		return line, fmt.Errorf("failed to unmarshal drawing line: %w", err)
	}
	return line, nil
}

// SetLine 将 DrawingLine 序列化后写入 Data 字段
func (r *DrawingLineRecord) SetLine(line DrawingLine) error {
	bytes, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal drawing line: %w", err)
	}
	r.Data = string(bytes)
	return nil
}
