package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/ayzthp/ColabCode/internal/domain"
	"github.com/ayzthp/ColabCode/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.RoomRecord, error) {
	var record domain.RoomRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &record, nil
}

// FindByInviteCode 实现根据邀请码查找房间
func (r *GormRoomRepository) FindByInviteCode(ctx context.Context, code string) (*domain.RoomRecord, error) {
	var record domain.RoomRecord
	err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by invite code '%s': %w", code, err)
	}
	return &record, nil
}

// Save 实现保存房间信息（创建或更新）
func (r *GormRoomRepository) Save(ctx context.Context, record *domain.RoomRecord) error {
	err := r.db.WithContext(ctx).Save(record).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (id: %s, invite_code: %s): %w", record.ID, record.InviteCode, err)
	}
	return nil
}

// ListPublic 按创建时间倒序列出公开房间
func (r *GormRoomRepository) ListPublic(ctx context.Context, limit int) ([]domain.RoomRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rooms []domain.RoomRecord
	err := r.db.WithContext(ctx).
		Where("is_public = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list public rooms: %w", err)
	}
	return rooms, nil
}

// IsInviteCodeExists 实现检查邀请码是否存在
func (r *GormRoomRepository) IsInviteCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.RoomRecord{}).Where("invite_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by invite code '%s': %w", code, err)
	}
	return count > 0, nil
}

// UpdateVisibility 更新房间的公开状态
func (r *GormRoomRepository) UpdateVisibility(ctx context.Context, id string, isPublic bool) error {
	result := r.db.WithContext(ctx).Model(&domain.RoomRecord{}).Where("id = ?", id).Update("is_public", isPublic)
	if result.Error != nil {
		return fmt.Errorf("gorm: update visibility for room %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// 值未变化时 MySQL 也会返回 0，这里再确认一次记录是否存在
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastActive 刷新房间的最后活跃时间
func (r *GormRoomRepository) TouchLastActive(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&domain.RoomRecord{}).Where("id = ?", id).Update("last_active", time.Now()).Error
	if err != nil {
		return fmt.Errorf("gorm: touch last_active for room %s: %w", id, err)
	}
	return nil
}
