package ball

import "time"

// Node 球的容身之处：球装置或台面
// 弹射目标、路径查找和来球登记都通过它抽象，
// 调用方不需要关心另一端是真实机构还是开放台面
type Node interface {
	// Name 节点名
	Name() string
	// HasTag 是否带指定标签
	HasTag(tag string) bool
	// IsPlayfield 是否是台面
	IsPlayfield() bool

	// Balls 当前实际持有的球数
	Balls() int
	// AvailableBalls 尚未被弹射计划占用的球数
	AvailableBalls() int
	// GetAdditionalBallCapacity 还能再收多少球（已扣除登记的来球）
	GetAdditionalBallCapacity() int

	// AddIncomingBall 登记一颗在途来球
	AddIncomingBall(source *Device)
	// RemoveIncomingBall 取消一颗在途来球的登记
	RemoveIncomingBall(source *Device)

	// addAvailable 调整可用球数（只在弹射链记账时使用）
	addAvailable(delta int)
}

// incomingBall 在途来球登记
type incomingBall struct {
	source   *Device
	deadline time.Time
}

// ejectRequest 一次排队的弹射请求
type ejectRequest struct {
	// target 本跳目标
	target Node
	// chainTarget 整条弹射链的最终目标，丢球回滚时用
	chainTarget Node
	// mechanical 本跳是否机械弹射
	mechanical bool
	// triggerEvent 非空时等该事件触发后才真正弹射
	triggerEvent string
}

// ballRequest 对外索球的未满足需求
type ballRequest struct {
	target           Node
	playerControlled bool
}
