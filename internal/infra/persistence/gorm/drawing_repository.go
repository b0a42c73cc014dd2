package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ayzthp/ColabCode/internal/domain"
)

// GormDrawingLineRepository 是 DrawingLineRepository 接口的 GORM 实现
type GormDrawingLineRepository struct {
	db *gorm.DB
}

// NewGormDrawingLineRepository 创建 GormDrawingLineRepository 实例
func NewGormDrawingLineRepository(db *gorm.DB) *GormDrawingLineRepository {
	if db == nil {
		panic("database connection cannot be nil for GormDrawingLineRepository")
	}
	return &GormDrawingLineRepository{db: db}
}

// SaveBatch 批量保存笔画记录
// 任务可能被重试，(room_id, line_index) 冲突的记录直接跳过
func (r *GormDrawingLineRepository) SaveBatch(ctx context.Context, lines []domain.DrawingLineRecord) error {
	if len(lines) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&lines, 200).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to save drawing line batch (size %d): %w", len(lines), err)
	}
	return nil
}

// ListByRoom 按 line_index 升序返回房间的全部笔画
func (r *GormDrawingLineRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.DrawingLineRecord, error) {
	var records []domain.DrawingLineRecord
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("line_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list drawing lines for room %s: %w", roomID, err)
	}
	return records, nil
}
