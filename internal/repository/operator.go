package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/pinball/internal/models"
	"gorm.io/gorm"
)

// ErrOperatorNotFound 操作员不存在
var ErrOperatorNotFound = errors.New("操作员不存在")

// OperatorRepository 操作员仓储接口
type OperatorRepository interface {
	Create(ctx context.Context, op *models.Operator) error
	FindByID(ctx context.Context, id uint) (*models.Operator, error)
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)
	UpdatePassword(ctx context.Context, id uint, hashed string) error
	UpdateLastLogin(ctx context.Context, id uint, ip string) error
	List(ctx context.Context, pagination *Pagination) ([]*models.Operator, error)
}

// operatorRepo 操作员仓储实现
type operatorRepo struct {
	db *gorm.DB
}

// NewOperatorRepository 创建操作员仓储
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepo{db: db}
}

// Create 创建操作员
func (r *operatorRepo) Create(ctx context.Context, op *models.Operator) error {
	return r.db.WithContext(ctx).Create(op).Error
}

// FindByID 根据ID查找
func (r *operatorRepo) FindByID(ctx context.Context, id uint) (*models.Operator, error) {
	var op models.Operator
	err := r.db.WithContext(ctx).First(&op, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return &op, nil
}

// FindByUsername 根据用户名查找
func (r *operatorRepo) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return &op, nil
}

// UpdatePassword 更新密码哈希
func (r *operatorRepo) UpdatePassword(ctx context.Context, id uint, hashed string) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Update("password", hashed).Error
}

// UpdateLastLogin 记录最近登录
func (r *operatorRepo) UpdateLastLogin(ctx context.Context, id uint, ip string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": &now,
			"last_login_ip": ip,
		}).Error
}

// List 分页列出操作员
func (r *operatorRepo) List(ctx context.Context, pagination *Pagination) ([]*models.Operator, error) {
	var ops []*models.Operator
	query := r.db.WithContext(ctx).Model(&models.Operator{})

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Scopes(pagination.Scope()).
		Order("username").
		Find(&ops).Error

	return ops, err
}
