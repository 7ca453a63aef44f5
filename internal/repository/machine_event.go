package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/pinball/internal/models"
	"gorm.io/gorm"
)

// MachineEventRepository 机台事件仓储接口
type MachineEventRepository interface {
	Create(ctx context.Context, ev *models.MachineEvent) error
	BatchCreate(ctx context.Context, evs []*models.MachineEvent) error
	FindByID(ctx context.Context, id uint) (*models.MachineEvent, error)
	FindRecent(ctx context.Context, limit int) ([]*models.MachineEvent, error)
	FindByEvent(ctx context.Context, event string, pagination *Pagination) ([]*models.MachineEvent, error)
	FindBySource(ctx context.Context, source string, pagination *Pagination) ([]*models.MachineEvent, error)
	FindByDateRange(ctx context.Context, start, end time.Time, pagination *Pagination) ([]*models.MachineEvent, error)
	CountByEvent(ctx context.Context, event string) (int64, error)
	CleanupOldEvents(ctx context.Context, days int) error
}

// machineEventRepo 机台事件仓储实现
type machineEventRepo struct {
	db *gorm.DB
}

// NewMachineEventRepository 创建机台事件仓储
func NewMachineEventRepository(db *gorm.DB) MachineEventRepository {
	return &machineEventRepo{db: db}
}

// Create 写入一条事件
func (r *machineEventRepo) Create(ctx context.Context, ev *models.MachineEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// BatchCreate 批量写入事件
func (r *machineEventRepo) BatchCreate(ctx context.Context, evs []*models.MachineEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(evs, 100).Error
}

// FindByID 根据ID查找
func (r *machineEventRepo) FindByID(ctx context.Context, id uint) (*models.MachineEvent, error) {
	var ev models.MachineEvent
	err := r.db.WithContext(ctx).First(&ev, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("事件不存在")
		}
		return nil, err
	}
	return &ev, nil
}

// FindRecent 按时间倒序取最近的事件
func (r *machineEventRepo) FindRecent(ctx context.Context, limit int) ([]*models.MachineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var evs []*models.MachineEvent
	err := r.db.WithContext(ctx).
		Order("posted_at DESC, id DESC").
		Limit(limit).
		Find(&evs).Error
	return evs, err
}

// FindByEvent 根据事件名查找
func (r *machineEventRepo) FindByEvent(ctx context.Context, event string, pagination *Pagination) ([]*models.MachineEvent, error) {
	var evs []*models.MachineEvent
	query := r.db.WithContext(ctx).Model(&models.MachineEvent{}).Where("event = ?", event)

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Scopes(pagination.Scope()).
		Order("posted_at DESC").
		Find(&evs).Error

	return evs, err
}

// FindBySource 根据事件来源装置查找
func (r *machineEventRepo) FindBySource(ctx context.Context, source string, pagination *Pagination) ([]*models.MachineEvent, error) {
	var evs []*models.MachineEvent
	query := r.db.WithContext(ctx).Model(&models.MachineEvent{}).Where("source = ?", source)

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Scopes(pagination.Scope()).
		Order("posted_at DESC").
		Find(&evs).Error

	return evs, err
}

// FindByDateRange 根据时间范围查找
func (r *machineEventRepo) FindByDateRange(ctx context.Context, start, end time.Time, pagination *Pagination) ([]*models.MachineEvent, error) {
	var evs []*models.MachineEvent
	query := r.db.WithContext(ctx).Model(&models.MachineEvent{}).
		Where("posted_at BETWEEN ? AND ?", start, end)

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Scopes(pagination.Scope()).
		Order("posted_at DESC").
		Find(&evs).Error

	return evs, err
}

// CountByEvent 统计某个事件出现的次数
func (r *machineEventRepo) CountByEvent(ctx context.Context, event string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MachineEvent{}).
		Where("event = ?", event).
		Count(&count).Error
	return count, err
}

// CleanupOldEvents 清理旧事件
func (r *machineEventRepo) CleanupOldEvents(ctx context.Context, days int) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	return r.db.WithContext(ctx).
		Unscoped().
		Where("posted_at < ?", cutoff).
		Delete(&models.MachineEvent{}).Error
}
