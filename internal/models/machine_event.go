package models

import (
	"time"

	"gorm.io/gorm"
)

// MachineEvent 机台事件记录表
// 机台循环里发出的总线事件快照，用于服务端监控和事后排障
type MachineEvent struct {
	BaseModel
	Event    string    `gorm:"size:100;not null;index" json:"event"`
	Source   string    `gorm:"size:50;index" json:"source"`
	Args     JSONMap   `gorm:"type:json" json:"args"`
	PostedAt time.Time `gorm:"index" json:"posted_at"`
}

// TableName 指定表名
func (MachineEvent) TableName() string {
	return "machine_events"
}

// BeforeCreate 创建前的钩子
func (e *MachineEvent) BeforeCreate(tx *gorm.DB) error {
	if e.PostedAt.IsZero() {
		e.PostedAt = time.Now()
	}
	return nil
}
