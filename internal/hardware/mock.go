package hardware

import (
	"sync"
	"time"

	"github.com/wfunc/pinball/internal/errors"
	"go.uber.org/zap"
)

// CoilAction 线圈动作记录
type CoilAction struct {
	Number int
	Action string // pulse / enable / disable
	Pulse  time.Duration
}

// MockDriver 模拟驱动（用于测试和调试模式）
// 不产生随机事件，开关翻转由调用方通过SetSwitch显式注入
type MockDriver struct {
	mu        sync.Mutex
	logger    *zap.Logger
	connected bool

	// 模拟状态
	switches map[int]bool
	actions  []CoilAction

	// 错误注入
	forcedErr error

	// 事件回调
	onSwitchChange func(change *SwitchChange)
	onFaultReport  func(event *FaultEvent)
}

// NewMockDriver 创建模拟驱动
func NewMockDriver(log *zap.Logger) *MockDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &MockDriver{
		logger:   log,
		switches: make(map[int]bool),
	}
}

// Connect 模拟连接
func (m *MockDriver) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return errors.New(errors.ErrAlreadyExists, "驱动已连接")
	}
	m.connected = true
	m.logger.Info("模拟驱动已连接")
	return nil
}

// Disconnect 模拟断开
func (m *MockDriver) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	m.logger.Info("模拟驱动已断开")
	return nil
}

// IsConnected 是否连接
func (m *MockDriver) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// PulseCoil 记录线圈脉冲
func (m *MockDriver) PulseCoil(number int, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return err
	}

	m.actions = append(m.actions, CoilAction{Number: number, Action: "pulse", Pulse: duration})
	m.logger.Debug("模拟线圈脉冲",
		zap.Int("coil", number),
		zap.Duration("pulse", duration))
	return nil
}

// EnableCoil 记录线圈保持
func (m *MockDriver) EnableCoil(number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return err
	}

	m.actions = append(m.actions, CoilAction{Number: number, Action: "enable"})
	return nil
}

// DisableCoil 记录线圈释放
func (m *MockDriver) DisableCoil(number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return err
	}

	m.actions = append(m.actions, CoilAction{Number: number, Action: "disable"})
	return nil
}

// QueryStatus 按当前模拟状态回放开关位图
func (m *MockDriver) QueryStatus() error {
	m.mu.Lock()
	cb := m.onSwitchChange
	states := make(map[int]bool, len(m.switches))
	for num, active := range m.switches {
		states[num] = active
	}
	err := m.checkReady()
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if cb != nil {
		for num, active := range states {
			cb(&SwitchChange{Number: num, Active: active})
		}
	}
	return nil
}

// SetSwitchCallback 设置开关回调
func (m *MockDriver) SetSwitchCallback(callback func(change *SwitchChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwitchChange = callback
}

// SetFaultCallback 设置故障回调
func (m *MockDriver) SetFaultCallback(callback func(event *FaultEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFaultReport = callback
}

func (m *MockDriver) checkReady() error {
	if !m.connected {
		return errors.New(errors.ErrDeviceOffline)
	}
	if m.forcedErr != nil {
		err := m.forcedErr
		m.forcedErr = nil
		return err
	}
	return nil
}

// 以下是测试辅助方法

// SetSwitch 注入一次开关翻转
func (m *MockDriver) SetSwitch(number int, active bool) {
	m.mu.Lock()
	m.switches[number] = active
	cb := m.onSwitchChange
	m.mu.Unlock()

	if cb != nil {
		cb(&SwitchChange{Number: number, Active: active})
	}
}

// InjectFault 注入一次故障事件
func (m *MockDriver) InjectFault(code byte, level byte) {
	m.mu.Lock()
	cb := m.onFaultReport
	m.mu.Unlock()

	if cb != nil {
		cb(&FaultEvent{FaultCode: code, Level: level})
	}
}

// FailNext 让下一次线圈操作返回指定错误
func (m *MockDriver) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedErr = err
}

// Actions 返回全部线圈动作记录
func (m *MockDriver) Actions() []CoilAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CoilAction, len(m.actions))
	copy(out, m.actions)
	return out
}

// PulseCount 统计某个线圈被脉冲的次数
func (m *MockDriver) PulseCount(number int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.actions {
		if a.Action == "pulse" && a.Number == number {
			count++
		}
	}
	return count
}

// LastAction 返回最近一次线圈动作
func (m *MockDriver) LastAction() (CoilAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.actions) == 0 {
		return CoilAction{}, false
	}
	return m.actions[len(m.actions)-1], true
}

// ClearActions 清空动作记录
func (m *MockDriver) ClearActions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = nil
}
