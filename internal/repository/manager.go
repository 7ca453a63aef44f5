package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问入口
type Manager struct {
	db *gorm.DB

	// 仓储实例（懒加载）
	machineEventOnce sync.Once
	machineEvent     MachineEventRepository

	deviceStatusOnce sync.Once
	deviceStatus     DeviceStatusRepository

	operatorOnce sync.Once
	operator     OperatorRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// MachineEvent 获取机台事件仓储
func (m *Manager) MachineEvent() MachineEventRepository {
	m.machineEventOnce.Do(func() {
		m.machineEvent = NewMachineEventRepository(m.db)
	})
	return m.machineEvent
}

// DeviceStatus 获取装置状态仓储
func (m *Manager) DeviceStatus() DeviceStatusRepository {
	m.deviceStatusOnce.Do(func() {
		m.deviceStatus = NewDeviceStatusRepository(m.db)
	})
	return m.deviceStatus
}

// Operator 获取操作员仓储
func (m *Manager) Operator() OperatorRepository {
	m.operatorOnce.Do(func() {
		m.operator = NewOperatorRepository(m.db)
	})
	return m.operator
}

// WithTransaction 在事务中执行操作
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}
