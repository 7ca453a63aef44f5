package ball

import (
	"time"

	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"github.com/wfunc/pinball/internal/hardware"
	"go.uber.org/zap"
)

// 计数不稳定时的重试间隔
const recountRetryDelay = 100 * time.Millisecond

// Device 球装置
// 每个实例独占自己的计数和队列，跨装置协调只走事件总线
// 或AddIncomingBall/RemoveIncomingBall这类窄接口。
// 所有方法都必须从机台循环协程调用。
type Device struct {
	name string
	cfg  config.DeviceConfig
	m    *Machine
	log  *zap.Logger

	state State

	balls          int
	availableBalls int

	ejectQueue    []*ejectRequest
	incomingBalls []incomingBall
	ballRequests  []ballRequest

	// 在途弹射现场
	currentEject     *ejectRequest
	numEjectAttempts int
	ballsBeforeEject int
	jammedBefore     bool

	targets       []Node
	sourceDevices []*Device

	ejectCoil *hardware.Coil
	holdCoil  *hardware.Coil

	// 因本装置满员而被挡住的上游弹射
	blockedEjectQueues []*event.Queue

	confirm      *confirmation
	okToRecvKey  event.HandlerKey
	triggerKey   event.HandlerKey
	missingCount int
	// mechAdHoc 当前机械弹射是临时记账（不速来球）而非接手的排队请求
	mechAdHoc bool
}

func newDevice(name string, cfg config.DeviceConfig, m *Machine) *Device {
	return &Device{
		name:  name,
		cfg:   cfg,
		m:     m,
		log:   m.log.With(zap.String("device", name)),
		state: StateInvalid,
	}
}

// Name 装置名
func (d *Device) Name() string { return d.name }

// State 当前状态
func (d *Device) State() State { return d.state }

// Balls 当前实际持有的球数
func (d *Device) Balls() int { return d.balls }

// AvailableBalls 可用球数
func (d *Device) AvailableBalls() int { return d.availableBalls }

// EjectAttempts 当前弹射链已尝试的次数
func (d *Device) EjectAttempts() int { return d.numEjectAttempts }

// IsPlayfield 球装置不是台面
func (d *Device) IsPlayfield() bool { return false }

// HasTag 是否带指定标签
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.cfg.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Targets 弹射目标列表
func (d *Device) Targets() []Node { return d.targets }

// GetAdditionalBallCapacity 还能再收多少球
func (d *Device) GetAdditionalBallCapacity() int {
	n := d.cfg.Capacity - d.balls - len(d.incomingBalls)
	if n < 0 {
		return 0
	}
	return n
}

func (d *Device) addAvailable(delta int) {
	d.availableBalls += delta
	if d.availableBalls < 0 {
		d.log.DPanic("可用球数为负",
			zap.Int("available", d.availableBalls))
		d.availableBalls = 0
	}
}

func (d *Device) delayName(suffix string) string {
	return d.name + "_" + suffix
}

// AddIncomingBall 登记一颗在途来球
func (d *Device) AddIncomingBall(source *Device) {
	deadline := d.m.clk.Now().Add(config.IncomingBallTimeout())
	d.incomingBalls = append(d.incomingBalls, incomingBall{source: source, deadline: deadline})
	d.scheduleIncomingCheck()

	d.log.Debug("登记来球",
		zap.String("source", source.Name()),
		zap.Int("incoming", len(d.incomingBalls)))

	// 机械弹射装置提前进入预备姿态
	if d.cfg.MechanicalEject && (d.state == StateIdle || d.state == StateWaitingForBall) {
		d.setState(StateWaitingForBallMechanical)
	}
}

// RemoveIncomingBall 取消一颗在途来球的登记
func (d *Device) RemoveIncomingBall(source *Device) {
	for i, in := range d.incomingBalls {
		if in.source == source {
			d.incomingBalls = append(d.incomingBalls[:i:i], d.incomingBalls[i+1:]...)
			break
		}
	}
	if len(d.incomingBalls) == 0 {
		d.m.sched.Remove(d.delayName("incoming_timeout"))
		d.cancelMechanicalAnticipation()
	}
}

func (d *Device) scheduleIncomingCheck() {
	if len(d.incomingBalls) == 0 {
		return
	}
	earliest := d.incomingBalls[0].deadline
	for _, in := range d.incomingBalls[1:] {
		if in.deadline.Before(earliest) {
			earliest = in.deadline
		}
	}
	wait := earliest.Sub(d.m.clk.Now())
	if wait < 0 {
		wait = 0
	}
	d.m.sched.Add(d.delayName("incoming_timeout"), wait, d.pruneExpiredIncoming)
}

// pruneExpiredIncoming 丢弃超时未到的来球登记
func (d *Device) pruneExpiredIncoming() {
	now := d.m.clk.Now()
	kept := d.incomingBalls[:0]
	expired := 0
	for _, in := range d.incomingBalls {
		if in.deadline.After(now) {
			kept = append(kept, in)
		} else {
			expired++
		}
	}
	d.incomingBalls = kept

	if expired > 0 {
		d.log.Warn("在途来球超时未到", zap.Int("expired", expired))
		d.m.bus.Post("balldevice_"+d.name+"_incoming_ball_lost",
			event.Args{"device": d.name, "balls": expired})
		if len(d.incomingBalls) == 0 {
			d.cancelMechanicalAnticipation()
		}
	}
	d.scheduleIncomingCheck()
}

// cancelMechanicalAnticipation 预备中的机械弹射失去了等待对象，退回常规状态
// 接手的排队请求放回队首，临时记账的回滚
func (d *Device) cancelMechanicalAnticipation() {
	if d.state != StateWaitingForBallMechanical {
		return
	}
	if d.currentEject != nil {
		d.cancelEjectConfirmation()
		d.currentEject.target.RemoveIncomingBall(d)
		if d.mechAdHoc {
			d.currentEject.chainTarget.addAvailable(-1)
		} else {
			d.ejectQueue = append([]*ejectRequest{d.currentEject}, d.ejectQueue...)
		}
		d.currentEject = nil
	}
	if len(d.ejectQueue) > 0 {
		d.setState(StateWaitingForBall)
	} else {
		d.setState(StateIdle)
	}
}

// Activate 启动时完成首次计数并离开invalid状态
func (d *Device) Activate() {
	if d.state != StateInvalid {
		return
	}
	count, err := d.countBalls()
	if err != nil {
		d.m.sched.Add(d.delayName("activate"), recountRetryDelay, d.Activate)
		return
	}
	if count == 0 && d.startsFull() {
		count = d.cfg.Capacity
		d.log.Info("入口开关长期闭合，按满员启动", zap.Int("balls", count))
	}
	d.balls = count
	d.availableBalls = count
	d.log.Info("装置首次计数完成", zap.Int("balls", count))
	d.setState(StateIdle)
}

// startsFull 入口开关计数的装置如果开机时开关一直压着，按满员处理
func (d *Device) startsFull() bool {
	return d.cfg.EntranceSwitch != "" &&
		d.cfg.Capacity > 0 &&
		d.cfg.EntranceSwitchFullTimeout > 0 &&
		d.m.switches.IsActiveFor(d.cfg.EntranceSwitch, d.cfg.EntranceSwitchFullTimeout)
}

// Reset 外部复位，仅用于eject_broken
func (d *Device) Reset() error {
	if d.state != StateEjectBroken {
		return errors.Newf(errors.ErrDeviceNotResettable,
			"装置 %s 处于 %s", d.name, d.state)
	}
	d.numEjectAttempts = 0
	d.currentEject = nil
	d.cancelEjectConfirmation()

	// eject_broken是终态，复位是唯一的出口
	d.log.Info("装置复位")
	d.state = StateIdle
	d.stateIdleStart()
	return nil
}

// countBalls 按开关状态清点装置内的球
// 任一开关还在抖动窗口内时返回ErrSwitchesNotStable，调用方应稍后重试
func (d *Device) countBalls() (int, error) {
	if len(d.cfg.BallSwitches) == 0 {
		// 无开关装置以事件维护的计数为准
		return d.balls, nil
	}

	count := 0
	for _, sw := range d.cfg.BallSwitches {
		switch {
		case d.m.switches.IsActiveFor(sw, d.cfg.EntranceCountDelay):
			count++
		case d.m.switches.IsInactiveFor(sw, d.cfg.ExitCountDelay):
			// 空位
		default:
			return 0, errors.New(errors.ErrSwitchesNotStable, sw)
		}
	}
	return count, nil
}

// recount 重新计数并交给当前状态处理
func (d *Device) recount() {
	count, err := d.countBalls()
	if err != nil {
		d.m.sched.Add(d.delayName("recount"), recountRetryDelay, d.recount)
		return
	}
	d.handleCountedBalls(count)
}

// entranceSwitchHit 无球开关装置靠入口开关计数
func (d *Device) entranceSwitchHit() {
	d.handleCountedBalls(d.balls + 1)
}

// handleCountedBalls 把新的稳定计数派发给当前状态
func (d *Device) handleCountedBalls(count int) {
	switch d.state {
	case StateInvalid:
		// 等Activate
	case StateIdle:
		d.stateIdleCounted(count)
	case StateWaitingForBall:
		if count > d.balls {
			d.handleNewBalls(count - d.balls)
			d.setState(StateIdle)
		}
	case StateWaitingForBallMechanical:
		d.stateMechanicalCounted(count)
	case StateEjecting:
		d.stateEjectingCounted(count)
	case StateBallLeft:
		if count >= d.ballsBeforeEject {
			// 球又回来了
			d.setState(StateFailedConfirm)
		}
	case StateFailedConfirm:
		d.stateFailedConfirmCounted(count)
	default:
		d.log.Debug("当前状态不处理计数",
			zap.String("state", d.state.String()),
			zap.Int("count", count))
	}
}

// stateIdleStart 空闲态入口
func (d *Device) stateIdleStart() {
	d.pruneExpiredIncoming()

	count, err := d.countBalls()
	if err != nil {
		d.m.sched.Add(d.delayName("recount"), recountRetryDelay, d.recount)
	} else if count != d.balls {
		d.stateIdleCounted(count)
		if d.state != StateIdle {
			return
		}
	}

	d.serveBallRequests()
	if d.state != StateIdle {
		return
	}

	// 有排队的弹射就继续干活
	if len(d.ejectQueue) > 0 {
		if d.balls > 0 {
			d.setState(StateWaitForEject)
		} else {
			d.setState(StateWaitingForBall)
		}
		return
	}

	d.announceCapacity()
}

// announceCapacity 有空位时放行一个被挡住的上游弹射，否则广而告之
func (d *Device) announceCapacity() {
	if d.GetAdditionalBallCapacity() <= 0 {
		return
	}
	if len(d.blockedEjectQueues) > 0 {
		q := d.blockedEjectQueues[0]
		d.blockedEjectQueues = d.blockedEjectQueues[1:]
		q.Clear()
		return
	}
	d.m.bus.Post("balldevice_"+d.name+"_ok_to_receive", event.Args{
		"device": d.name,
		"balls":  d.GetAdditionalBallCapacity(),
	})
}

// stateIdleCounted 空闲态收到新计数
func (d *Device) stateIdleCounted(count int) {
	switch {
	case count < d.balls:
		d.missingCount = d.balls - count
		d.setState(StateMissingBalls)
	case count > d.balls:
		d.handleNewBalls(count - d.balls)
	}
}

// handleNewBalls 消化新到的球
// 有来球登记的算预期到达并记下是谁送来的，其余算不速之客：
// 记到可用球数里、交总控与台面对账，再通过接力事件给其他模块认领的机会
func (d *Device) handleNewBalls(n int) {
	var claimed []*Device
	for len(claimed) < n && len(d.incomingBalls) > 0 {
		claimed = append(claimed, d.incomingBalls[0].source)
		d.incomingBalls = d.incomingBalls[1:]
	}
	unexpected := n - len(claimed)
	d.balls += n

	if unexpected > 0 {
		d.availableBalls += unexpected
		d.m.controller.deviceCaptured(d, unexpected)
	}

	d.log.Debug("球进入装置",
		zap.Int("new", n),
		zap.Int("unexpected", unexpected),
		zap.Int("balls", d.balls))

	args := event.Args{
		"device":          d.name,
		"new_balls":       n,
		"unclaimed_balls": unexpected,
		"sources":         claimed,
	}
	d.m.bus.PostRelay("balldevice_"+d.name+"_ball_enter", args, func(res event.Args) {
		d.ballsAddedCallback(res.Int("unclaimed_balls"))
	})
}

// ballsAddedCallback 入场通告结束后处理无人认领的球
func (d *Device) ballsAddedCallback(unclaimed int) {
	d.serveBallRequests()

	if unclaimed > 0 && !d.HasTag("trough") {
		// 排水装置送回最近的料槽，其余送去收容台面
		var path []Node
		if d.HasTag("drain") {
			path = d.findPathToTrough()
		} else if pf := d.capturesFrom(); pf != nil {
			path = d.FindPathToTarget(pf)
		}
		if path == nil {
			d.log.Error("无人认领的球找不到去处", zap.Int("balls", unclaimed))
		} else {
			for i := 0; i < unclaimed && d.availableBalls > 0; i++ {
				if err := d.setupEjectChain(path, false); err != nil {
					d.log.Error("转送失败", zap.Error(err))
					break
				}
			}
		}
	}

	d.kickEjectQueue()
}

// serveBallRequests 用可用球满足排队的索球需求
func (d *Device) serveBallRequests() {
	for len(d.ballRequests) > 0 && d.availableBalls > 0 {
		r := d.ballRequests[0]
		d.ballRequests = d.ballRequests[1:]
		path := d.FindPathToTarget(r.target)
		if path == nil {
			d.log.Error("索球目标不可达", zap.String("target", r.target.Name()))
			continue
		}
		if err := d.setupEjectChain(path, r.playerControlled); err != nil {
			d.log.Error("索球出货失败", zap.Error(err))
		}
	}
}

// stateMissingBallsStart 装置内的球不见了
func (d *Device) stateMissingBallsStart() {
	missing := d.missingCount
	d.missingCount = 0

	d.balls -= missing
	if d.balls < 0 {
		d.log.DPanic("球数为负", zap.Int("balls", d.balls))
		d.balls = 0
	}
	if d.availableBalls > d.balls {
		d.availableBalls = d.balls
	}

	if d.cfg.MechanicalEject && len(d.targets) > 0 {
		// 没有线圈见证的消失多半就是一次机械弹射
		if missing > 1 {
			d.reportMissing(missing - 1)
		}
		target := d.targets[0]
		d.currentEject = &ejectRequest{target: target, chainTarget: target, mechanical: true}
		d.ballsBeforeEject = d.balls + 1
		d.balls++ // ball_left入口会再减掉
		target.addAvailable(1)
		target.AddIncomingBall(d)
		d.setupEjectConfirmation(target)
		d.setState(StateBallLeft)
		return
	}

	d.reportMissing(missing)
	d.setState(StateIdle)
}

// reportMissing 把消失的球记到指定台面上，球多半还在机器里
func (d *Device) reportMissing(n int) {
	if n <= 0 {
		return
	}
	d.m.bus.Post("balldevice_"+d.name+"_ball_missing",
		event.Args{"device": d.name, "balls": n})

	pf := d.ballMissingTarget()
	if pf != nil {
		pf.MarkBallsOnField(n)
	} else {
		d.log.Error("没有可记账的台面", zap.Int("balls", n))
	}
}

// capturesFrom 本装置入球时从哪个台面扣球
func (d *Device) capturesFrom() *Playfield {
	if d.cfg.CapturesFromPlayfield != "" {
		return d.m.playfields[d.cfg.CapturesFromPlayfield]
	}
	return d.m.defaultPlayfield()
}

// ballMissingTarget 球失踪后记到哪个台面
func (d *Device) ballMissingTarget() *Playfield {
	if d.cfg.BallMissingTarget != "" {
		return d.m.playfields[d.cfg.BallMissingTarget]
	}
	return d.m.defaultPlayfield()
}

// stateMechanicalCounted 预备机械弹射时的计数变化
// 来球照常走入场记账（上游的确认就挂在入场事件上），
// 计数变少说明玩家把球打出去了，原地等确认
func (d *Device) stateMechanicalCounted(count int) {
	if count > d.balls {
		d.handleNewBalls(count - d.balls)
		return
	}
	if count < d.balls {
		d.balls = count
	}
}

// setState 状态转换
func (d *Device) setState(to State) {
	from := d.state
	if !canTransition(from, to) {
		d.log.DPanic("非法的状态转换",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		return
	}

	d.log.Debug("状态转换",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("balls", d.balls))
	d.state = to

	switch to {
	case StateIdle:
		d.stateIdleStart()
	case StateWaitingForBall:
		// 等上游来球，计数变化会带我们离开；空位照常放出去
		d.announceCapacity()
	case StateWaitingForBallMechanical:
		d.stateMechanicalStart()
	case StateWaitForEject:
		d.stateWaitForEjectStart()
	case StateEjecting:
		d.stateEjectingStart()
	case StateBallLeft:
		d.stateBallLeftStart()
	case StateFailedEject:
		d.stateFailedEjectStart()
	case StateEjectBroken:
		d.stateEjectBrokenStart()
	case StateFailedConfirm:
		d.stateFailedConfirmStart()
	case StateEjectConfirmed:
		d.stateEjectConfirmedStart()
	case StateLostBalls:
		d.stateLostBallsStart()
	case StateMissingBalls:
		d.stateMissingBallsStart()
	}
}

// stateMechanicalStart 预备机械弹射：提前通知目标并摆好姿态
// 已有排队请求就直接接手（链路记账已经做过），
// 没有请求的不速来球按临时弹射记账
func (d *Device) stateMechanicalStart() {
	if len(d.targets) == 0 {
		d.log.DPanic("机械弹射装置没有目标")
		return
	}

	var req *ejectRequest
	if len(d.ejectQueue) > 0 {
		req = d.ejectQueue[0]
		d.ejectQueue = d.ejectQueue[1:]
		d.mechAdHoc = false
	} else {
		target := d.targets[0]
		req = &ejectRequest{target: target, chainTarget: target, mechanical: true}
		target.addAvailable(1)
		d.mechAdHoc = true
	}
	d.currentEject = req
	d.ballsBeforeEject = d.balls
	req.target.AddIncomingBall(d)
	d.setupEjectConfirmation(req.target)

	if d.ejectCoil != nil {
		if err := d.ejectCoil.Pulse(0); err != nil {
			d.log.Error("弹射线圈动作失败", zap.Error(err))
		}
	}
	d.announceCapacity()
}
