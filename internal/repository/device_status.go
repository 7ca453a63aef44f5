package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/pinball/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceStatusRepository 装置状态仓储接口
type DeviceStatusRepository interface {
	Upsert(ctx context.Context, status *models.DeviceStatus) error
	BatchUpsert(ctx context.Context, statuses []*models.DeviceStatus) error
	FindByName(ctx context.Context, name string) (*models.DeviceStatus, error)
	FindByState(ctx context.Context, state string) ([]*models.DeviceStatus, error)
	ListAll(ctx context.Context) ([]*models.DeviceStatus, error)
	TotalBalls(ctx context.Context) (int, error)
}

// deviceStatusRepo 装置状态仓储实现
type deviceStatusRepo struct {
	db *gorm.DB
}

// NewDeviceStatusRepository 创建装置状态仓储
func NewDeviceStatusRepository(db *gorm.DB) DeviceStatusRepository {
	return &deviceStatusRepo{db: db}
}

// Upsert 按装置名覆写快照
func (r *deviceStatusRepo) Upsert(ctx context.Context, status *models.DeviceStatus) error {
	if status.LastChangeAt.IsZero() {
		status.LastChangeAt = time.Now()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind", "state", "balls", "available_balls",
				"eject_attempts", "last_change_at", "updated_at",
			}),
		}).
		Create(status).Error
}

// BatchUpsert 批量覆写快照
func (r *deviceStatusRepo) BatchUpsert(ctx context.Context, statuses []*models.DeviceStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := &deviceStatusRepo{db: tx}
		for _, s := range statuses {
			if err := repo.Upsert(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByName 根据装置名查找
func (r *deviceStatusRepo) FindByName(ctx context.Context, name string) (*models.DeviceStatus, error) {
	var status models.DeviceStatus
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("装置不存在")
		}
		return nil, err
	}
	return &status, nil
}

// FindByState 根据状态查找
func (r *deviceStatusRepo) FindByState(ctx context.Context, state string) ([]*models.DeviceStatus, error) {
	var statuses []*models.DeviceStatus
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("name").
		Find(&statuses).Error
	return statuses, err
}

// ListAll 列出全部装置快照
func (r *deviceStatusRepo) ListAll(ctx context.Context) ([]*models.DeviceStatus, error) {
	var statuses []*models.DeviceStatus
	err := r.db.WithContext(ctx).
		Order("name").
		Find(&statuses).Error
	return statuses, err
}

// TotalBalls 快照中的球总数
func (r *deviceStatusRepo) TotalBalls(ctx context.Context) (int, error) {
	var total struct{ Total int }
	err := r.db.WithContext(ctx).
		Model(&models.DeviceStatus{}).
		Select("COALESCE(SUM(balls), 0) as total").
		Scan(&total).Error
	return total.Total, err
}
