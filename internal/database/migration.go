package database

import (
	"fmt"
	"strings"

	"github.com/wfunc/pinball/internal/logger"
	"github.com/wfunc/pinball/internal/models"
	"github.com/wfunc/pinball/internal/utils"
	"go.uber.org/zap"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 获取迁移锁，避免多个进程同时迁移
	if dbPath := sqliteDBPath(); dbPath != "" {
		lock, err := lockMigrations(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer lock.release()
	}

	migrationModels := []interface{}{
		&models.MachineEvent{},
		&models.DeviceStatus{},
		&models.Operator{},
	}

	logger.Info("开始数据库迁移...")

	// SQLite迁移期间关掉外键约束，避免重建表时锁死
	if DB.Dialector.Name() == "sqlite" {
		DB.Exec("PRAGMA foreign_keys = OFF")
		defer DB.Exec("PRAGMA foreign_keys = ON")
	}

	for _, model := range migrationModels {
		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	// 创建索引
	if err := createIndexes(); err != nil {
		return err
	}

	// 初始化默认数据
	if err := initDefaultData(); err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建数据库索引
func createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_machine_events_event ON machine_events(event)",
		"CREATE INDEX IF NOT EXISTS idx_machine_events_source ON machine_events(source)",
		"CREATE INDEX IF NOT EXISTS idx_machine_events_posted_at ON machine_events(posted_at)",
		"CREATE INDEX IF NOT EXISTS idx_device_statuses_state ON device_statuses(state)",
		"CREATE INDEX IF NOT EXISTS idx_operators_username ON operators(username)",
	}

	for _, idx := range indexes {
		if err := DB.Exec(idx).Error; err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
			}
		}
	}

	logger.Info("数据库索引创建完成")
	return nil
}

// initDefaultData 初始化默认数据
// 首次启动种一个admin操作员，密码必须在上线前改掉
func initDefaultData() error {
	var count int64
	DB.Model(&models.Operator{}).Count(&count)
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.Operator{
		Username: "admin",
		Password: hashed,
		Role:     "admin",
	}
	if err := DB.Create(&admin).Error; err != nil {
		logger.Error("创建默认操作员失败", zap.Error(err))
		return err
	}

	logger.Info("默认数据初始化完成", zap.String("operator", admin.Username))
	return nil
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	var tables []string
	if err := DB.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
		return err
	}

	for _, table := range tables {
		if err := DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Error; err != nil {
			logger.Error("删除表失败", zap.String("table", table), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除")
	return nil
}
