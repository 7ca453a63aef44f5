package config

import (
	"sort"
	"time"

	"github.com/wfunc/pinball/internal/errors"
)

// 装置级默认值
const (
	defaultEjectTimeout       = 10 * time.Second
	defaultBallMissingTimeout = 20 * time.Second
	defaultEntranceCountDelay = 500 * time.Millisecond
	defaultExitCountDelay     = 500 * time.Millisecond
	// incomingBallTimeout 入球登记的兜底超时，各装置的失踪超时必须小于它
	incomingBallTimeout = 60 * time.Second
)

// IncomingBallTimeout 返回入球登记的兜底超时
func IncomingBallTimeout() time.Duration {
	return incomingBallTimeout
}

// ApplyDefaults 填充机台配置中省略的默认值
func (m *MachineConfig) ApplyDefaults() {
	if m.TickInterval <= 0 {
		m.TickInterval = 10 * time.Millisecond
	}

	for name, pf := range m.Playfields {
		if pf.BallSearchTimeout <= 0 {
			pf.BallSearchTimeout = 20 * time.Second
		}
		if pf.BallSearchInterval <= 0 {
			pf.BallSearchInterval = 250 * time.Millisecond
		}
		if pf.BallSearchPhase1 <= 0 {
			pf.BallSearchPhase1 = 3
		}
		if pf.BallSearchPhase2 <= 0 {
			pf.BallSearchPhase2 = 3
		}
		if pf.BallSearchPhase3 <= 0 {
			pf.BallSearchPhase3 = 4
		}
		if pf.BallSearchWaitAfterIteration <= 0 {
			pf.BallSearchWaitAfterIteration = 10 * time.Second
		}
		if pf.BallSearchFailedAction == "" {
			pf.BallSearchFailedAction = "new_ball"
		}
		m.Playfields[name] = pf
	}

	for name, d := range m.Devices {
		if d.Capacity <= 0 {
			d.Capacity = len(d.BallSwitches)
		}
		if d.EntranceCountDelay <= 0 {
			d.EntranceCountDelay = defaultEntranceCountDelay
		}
		if d.ExitCountDelay <= 0 {
			d.ExitCountDelay = defaultExitCountDelay
		}
		if d.ConfirmEjectType == "" {
			d.ConfirmEjectType = "count"
		}

		// 超时列表与目标列表逐项对齐，不足的用默认值补齐
		for len(d.EjectTimeouts) < len(d.EjectTargets) {
			d.EjectTimeouts = append(d.EjectTimeouts, defaultEjectTimeout)
		}
		for len(d.BallMissingTimeouts) < len(d.EjectTargets) {
			d.BallMissingTimeouts = append(d.BallMissingTimeouts, defaultBallMissingTimeout)
		}
		m.Devices[name] = d
	}
}

// Validate 校验机台配置
// 在启动阶段把拓扑和时序上的矛盾全部挡下来，运行期不再重复检查
func (m *MachineConfig) Validate() error {
	if m.MinBalls < 0 {
		return errors.Newf(errors.ErrConfigValidate, "min_balls 不能为负: %d", m.MinBalls)
	}

	for name, pf := range m.Playfields {
		switch pf.BallSearchFailedAction {
		case "new_ball", "end_game", "end_ball":
		default:
			return errors.Newf(errors.ErrConfigValidate,
				"台面 %s 的 ball_search_failed_action 无效: %s", name, pf.BallSearchFailedAction)
		}
		if pf.DefaultSource != "" {
			if _, ok := m.Devices[pf.DefaultSource]; !ok {
				return errors.Newf(errors.ErrConfigValidate,
					"台面 %s 的 default_source 指向不存在的装置: %s", name, pf.DefaultSource)
			}
		}
	}

	for name, d := range m.Devices {
		if err := m.validateDevice(name, d); err != nil {
			return err
		}
	}

	return m.validateEjectGraph()
}

func (m *MachineConfig) validateDevice(name string, d DeviceConfig) error {
	if d.Capacity <= 0 {
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 缺少 capacity 且没有 ball_switches", name)
	}
	if len(d.BallSwitches) == 0 && d.EntranceSwitch == "" {
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 必须配置 ball_switches 或 entrance_switch", name)
	}
	if len(d.BallSwitches) > 0 && d.Capacity > len(d.BallSwitches) {
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 的 capacity(%d) 超过球开关数量(%d)", name, d.Capacity, len(d.BallSwitches))
	}
	if d.EjectCoil == "" && d.HoldCoil == "" && !d.MechanicalEject {
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 必须配置 eject_coil、hold_coil 或 mechanical_eject", name)
	}
	if d.EntranceSwitchFullTimeout > 0 && d.EntranceSwitch == "" {
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 配置了 entrance_switch_full_timeout 但没有 entrance_switch", name)
	}

	for _, sw := range append(append([]string{}, d.BallSwitches...),
		d.EntranceSwitch, d.JamSwitch, d.ConfirmEjectSwitch) {
		if sw == "" {
			continue
		}
		if _, ok := m.Switches[sw]; !ok {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 引用了不存在的开关: %s", name, sw)
		}
	}
	for _, coil := range []string{d.EjectCoil, d.HoldCoil} {
		if coil == "" {
			continue
		}
		if _, ok := m.Coils[coil]; !ok {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 引用了不存在的线圈: %s", name, coil)
		}
	}

	switch d.ConfirmEjectType {
	case ConfirmTypeCount, ConfirmTypeTarget, ConfirmTypeFake:
	case ConfirmTypeSwitch:
		if d.ConfirmEjectSwitch == "" {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的确认方式为 switch 但缺少 confirm_eject_switch", name)
		}
	case ConfirmTypeEvent:
		if d.ConfirmEjectEvent == "" {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的确认方式为 event 但缺少 confirm_eject_event", name)
		}
	default:
		return errors.Newf(errors.ErrConfigValidate,
			"装置 %s 的 confirm_eject_type 无效: %s", name, d.ConfirmEjectType)
	}

	for _, target := range d.EjectTargets {
		if !m.nodeExists(target) {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的弹射目标不存在: %s", name, target)
		}
	}
	if d.BallMissingTarget != "" {
		if _, ok := m.Playfields[d.BallMissingTarget]; !ok {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的 ball_missing_target 必须是台面: %s", name, d.BallMissingTarget)
		}
	}
	if d.CapturesFromPlayfield != "" {
		if _, ok := m.Playfields[d.CapturesFromPlayfield]; !ok {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的 captures_from_playfield 必须是台面: %s", name, d.CapturesFromPlayfield)
		}
	}

	// 计数延时必须短于任何一个弹射确认超时，
	// 否则弹射超时到了计数还没稳定，失败判定会基于过期的球数
	for i, timeout := range d.EjectTimeouts {
		if i >= len(d.EjectTargets) {
			break
		}
		if d.ExitCountDelay >= timeout || d.EntranceCountDelay >= timeout {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的计数延时必须小于弹射超时 %v", name, timeout)
		}
		missing := d.BallMissingTimeouts[i]
		if timeout >= missing {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 对目标 %s 的弹射超时(%v)必须小于失踪超时(%v)",
				name, d.EjectTargets[i], timeout, missing)
		}
		if missing >= incomingBallTimeout {
			return errors.Newf(errors.ErrConfigValidate,
				"装置 %s 的失踪超时(%v)必须小于入球兜底超时(%v)", name, missing, incomingBallTimeout)
		}
	}

	return nil
}

// validateEjectGraph 沿默认弹射目标逐跳追踪，每个装置都必须能走到某个台面
// 顺带排除了默认路径上的环
func (m *MachineConfig) validateEjectGraph() error {
	names := make([]string, 0, len(m.Devices))
	for name := range m.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, start := range names {
		visited := map[string]bool{start: true}
		current := start
		for {
			d := m.Devices[current]
			if len(d.EjectTargets) == 0 {
				if d.MechanicalEject || d.PlayerControlledEjectEvent != "" {
					break
				}
				return errors.Newf(errors.ErrConfigValidate,
					"装置 %s 没有配置任何弹射目标", current)
			}
			next := d.EjectTargets[0]
			if _, ok := m.Playfields[next]; ok {
				break
			}
			if visited[next] {
				return errors.Newf(errors.ErrConfigValidate,
					"装置 %s 的默认弹射路径存在环: %s -> %s", start, current, next)
			}
			visited[next] = true
			current = next
		}
	}
	return nil
}

func (m *MachineConfig) nodeExists(name string) bool {
	if _, ok := m.Devices[name]; ok {
		return true
	}
	_, ok := m.Playfields[name]
	return ok
}
