package models

import "time"

// 设备种类
const (
	DeviceKindDevice    = "device"
	DeviceKindPlayfield = "playfield"
)

// DeviceStatus 球装置状态快照表
// 每个装置一行，机台循环定期覆写
type DeviceStatus struct {
	BaseModel
	Name           string    `gorm:"uniqueIndex;size:50;not null" json:"name"`
	Kind           string    `gorm:"size:20;not null" json:"kind"`
	State          string    `gorm:"size:30" json:"state"`
	Balls          int       `json:"balls"`
	AvailableBalls int       `json:"available_balls"`
	EjectAttempts  int       `json:"eject_attempts"`
	LastChangeAt   time.Time `json:"last_change_at"`
}

// TableName 指定表名
func (DeviceStatus) TableName() string {
	return "device_statuses"
}
