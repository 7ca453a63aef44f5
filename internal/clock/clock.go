package clock

import "time"

// Clock 时钟接口
// 核心逻辑只通过该接口读取当前时间，测试中可替换为手动时钟
type Clock interface {
	Now() time.Time
}

// Wall 系统墙上时钟
type Wall struct{}

// Now 返回当前系统时间
func (Wall) Now() time.Time {
	return time.Now()
}

// Manual 手动时钟（测试用）
// 时间只有显式推进才会前进，保证调度行为可复现
type Manual struct {
	now time.Time
}

// NewManual 创建手动时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now 返回手动时钟的当前时间
func (m *Manual) Now() time.Time {
	return m.now
}

// Advance 推进时钟
func (m *Manual) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set 直接设置时钟
func (m *Manual) Set(t time.Time) {
	m.now = t
}
