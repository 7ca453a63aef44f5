package repository

import "gorm.io/gorm"

// 分页上下限，事件查询一页太大时会拖慢机台主循环之外的诊断请求
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Pagination 查询分页，Total在查询后回填
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// NewPagination 创建分页参数，越界值钳回合法范围
func NewPagination(page, pageSize int) *Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Pagination{Page: page, PageSize: pageSize}
}

// Scope 返回应用分页窗口的GORM作用域
func (p *Pagination) Scope() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize)
	}
}
