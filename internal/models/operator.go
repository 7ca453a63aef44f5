package models

import (
	"time"

	"gorm.io/gorm"
)

// Operator 运维操作员表
type Operator struct {
	BaseModel
	Username    string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Password    string     `gorm:"size:255;not null" json:"-"`
	Role        string     `gorm:"size:20;default:'viewer'" json:"role"` // admin, technician, viewer
	Status      string     `gorm:"size:20;default:'active'" json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:50" json:"last_login_ip"`
}

// TableName 指定表名
func (Operator) TableName() string {
	return "operators"
}

// BeforeCreate 创建前的钩子
func (o *Operator) BeforeCreate(tx *gorm.DB) error {
	if o.Role == "" {
		o.Role = "viewer"
	}
	if o.Status == "" {
		o.Status = "active"
	}
	return nil
}
