package hardware

import "time"

// Driver 硬件驱动接口
// 所有实现都要保证开关回调按硬件上报顺序串行调用
type Driver interface {
	// 连接管理
	Connect() error
	Disconnect() error
	IsConnected() bool

	// 线圈控制
	PulseCoil(number int, duration time.Duration) error
	EnableCoil(number int) error
	DisableCoil(number int) error

	// 状态查询
	QueryStatus() error

	// 回调设置
	SetSwitchCallback(callback func(change *SwitchChange))
	SetFaultCallback(callback func(event *FaultEvent))
}
