package ball

import (
	"time"

	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// 第几次重试起换用加力脉冲
const retryPulseThreshold = 3

// EjectBall 请求向目标弹射一颗球
// target为nil时取第一个配置目标。自己没有可用球时转而向上游装置要货，
// 上游也拿不出来就把需求挂起，等球到了再发
func (d *Device) EjectBall(target Node, playerControlled bool) error {
	if target == nil {
		if len(d.targets) == 0 {
			return errors.Newf(errors.ErrNoPathToTarget, "装置 %s 没有配置弹射目标", d.name)
		}
		target = d.targets[0]
	}

	if d.availableBalls > 0 {
		path := d.FindPathToTarget(target)
		if path == nil {
			return errors.Newf(errors.ErrNoPathToTarget, "%s -> %s", d.name, target.Name())
		}
		return d.setupEjectChain(path, playerControlled)
	}

	for _, src := range d.sourceDevices {
		if src.AvailableBalls() > 0 {
			return src.EjectBall(target, playerControlled)
		}
	}

	d.ballRequests = append(d.ballRequests, ballRequest{
		target:           target,
		playerControlled: playerControlled,
	})
	d.log.Debug("暂无可用球，需求已挂起", zap.String("target", target.Name()))
	return nil
}

// EjectAll 把全部可用球弹向目标，返回发起的弹射数
func (d *Device) EjectAll(target Node) int {
	n := d.availableBalls
	for i := 0; i < n; i++ {
		if err := d.EjectBall(target, false); err != nil {
			d.log.Error("批量弹射失败", zap.Error(err))
			return i
		}
	}
	return n
}

// kickEjectQueue 空闲装置有了排队弹射就动起来
// 机械装置没有线圈可起爆，进预备态等球自己走
func (d *Device) kickEjectQueue() {
	if d.state != StateIdle || len(d.ejectQueue) == 0 {
		return
	}
	if d.cfg.MechanicalEject {
		d.setState(StateWaitingForBallMechanical)
		return
	}
	if d.balls > 0 {
		d.setState(StateWaitForEject)
	} else {
		d.setState(StateWaitingForBall)
	}
}

// stateWaitForEjectStart 等目标腾出容量
func (d *Device) stateWaitForEjectStart() {
	req := d.ejectQueue[0]
	if req.target.GetAdditionalBallCapacity() > 0 {
		d.setState(StateEjecting)
		return
	}

	d.log.Debug("目标已满，等待放行", zap.String("target", req.target.Name()))
	d.okToRecvKey = d.m.bus.AddHandler(
		"balldevice_"+req.target.Name()+"_ok_to_receive",
		func(event.Args) any {
			if d.state == StateWaitForEject {
				d.m.bus.RemoveHandler(d.okToRecvKey)
				d.okToRecvKey = ""
				d.setState(StateEjecting)
			}
			return nil
		}, 0)
}

// stateEjectingStart 弹射态入口
// 重试时currentEject已就位，不再从队首取；弹射尝试作为队列事件发布，
// 满员的目标可以在事件里登记等待把我们挡住
func (d *Device) stateEjectingStart() {
	if d.okToRecvKey != "" {
		d.m.bus.RemoveHandler(d.okToRecvKey)
		d.okToRecvKey = ""
	}

	if d.currentEject == nil {
		d.currentEject = d.ejectQueue[0]
		d.ejectQueue = d.ejectQueue[1:]
	}
	d.numEjectAttempts++
	d.ballsBeforeEject = d.balls
	d.jammedBefore = d.cfg.JamSwitch != "" && d.m.switches.IsActive(d.cfg.JamSwitch)

	args := event.Args{
		"device":  d.name,
		"target":  d.currentEject.target.Name(),
		"attempt": d.numEjectAttempts,
	}
	d.m.bus.PostQueue("balldevice_"+d.name+"_ball_eject_attempt", args,
		func(event.Args) { d.performEject() })
}

// performEject 弹射尝试放行后的实际执行
func (d *Device) performEject() {
	if d.state != StateEjecting {
		return
	}

	req := d.currentEject
	if req.triggerEvent != "" && d.triggerKey == "" {
		// 玩家控制的弹射，等触发事件
		d.triggerKey = d.m.bus.AddHandler(req.triggerEvent, func(event.Args) any {
			d.fireEject()
			return nil
		}, 0)
		d.log.Debug("等待玩家触发", zap.String("event", req.triggerEvent))
		return
	}
	d.fireEject()
}

// fireEject 通知目标、布好确认现场、起爆线圈
func (d *Device) fireEject() {
	if d.state != StateEjecting {
		return
	}
	if d.triggerKey != "" {
		d.m.bus.RemoveHandler(d.triggerKey)
		d.triggerKey = ""
	}

	req := d.currentEject
	req.target.AddIncomingBall(d)
	d.setupEjectConfirmation(req.target)

	idx := d.targetIndex(req.target)
	d.m.sched.Add(d.delayName("eject_timeout"),
		d.cfg.EjectTimeouts[idx], d.ejectTimeoutExpired)
	d.m.sched.Add(d.delayName("ball_missing_timeout"),
		d.cfg.BallMissingTimeouts[idx], d.ballMissingTimeoutExpired)

	if !req.mechanical {
		if d.holdCoil != nil {
			d.holdCoil.Disable()
		}
		if d.ejectCoil != nil {
			if err := d.ejectCoil.Pulse(d.ejectPulse()); err != nil {
				d.log.Error("弹射线圈动作失败", zap.Error(err))
			}
		}
	}

	if len(d.cfg.BallSwitches) == 0 {
		// 无开关装置没有离场见证，认为球立刻走了
		d.setState(StateBallLeft)
	}
}

// ejectPulse 按卡球和重试情况选脉冲时长，0表示用线圈默认值
func (d *Device) ejectPulse() time.Duration {
	if d.jammedBefore && d.cfg.EjectCoilJamPulse > 0 {
		return d.cfg.EjectCoilJamPulse
	}
	if d.numEjectAttempts >= retryPulseThreshold && d.cfg.EjectCoilRetryPulse > 0 {
		return d.cfg.EjectCoilRetryPulse
	}
	return 0
}

// targetIndex 目标在配置目标表里的下标，超时时长按它查表
func (d *Device) targetIndex(target Node) int {
	for i, name := range d.cfg.EjectTargets {
		if name == target.Name() {
			return i
		}
	}
	return 0
}

// ejectTimeoutExpired 弹射超时
// 还在ejecting说明球根本没离开；已到ball_left说明离开后确认迟迟不来
func (d *Device) ejectTimeoutExpired() {
	switch d.state {
	case StateEjecting:
		d.setState(StateFailedEject)
	case StateBallLeft:
		d.setState(StateFailedConfirm)
	}
}

// ballMissingTimeoutExpired 球失踪超时，判定永久丢失
func (d *Device) ballMissingTimeoutExpired() {
	if d.state == StateBallLeft {
		d.setState(StateFailedConfirm)
	}
	if d.state == StateFailedConfirm {
		d.setState(StateLostBalls)
	}
}

// stateEjectingCounted 弹射中计数变化
func (d *Device) stateEjectingCounted(count int) {
	if count < d.balls {
		// 球走了，多走的留给后续状态清算
		d.balls = count + 1
		d.setState(StateBallLeft)
		return
	}
	if count > d.balls {
		d.handleNewBalls(count - d.balls)
	}
}

// stateBallLeftStart 球已离开
func (d *Device) stateBallLeftStart() {
	d.balls--
	if d.balls < 0 {
		d.log.DPanic("球数为负", zap.Int("balls", d.balls))
		d.balls = 0
	}
	if d.holdCoil != nil {
		d.holdCoil.Enable()
	}

	req := d.currentEject
	d.m.bus.Post("balldevice_"+d.name+"_ball_left", event.Args{
		"device":  d.name,
		"target":  req.target.Name(),
		"attempt": d.numEjectAttempts,
	})

	d.confirmOnBallLeft()
}

// stateFailedEjectStart 弹射失败，拆掉确认现场后决定重试还是判废
func (d *Device) stateFailedEjectStart() {
	d.cancelEjectConfirmation()
	d.m.sched.Remove(d.delayName("eject_timeout"))
	d.m.sched.Remove(d.delayName("ball_missing_timeout"))
	d.currentEject.target.RemoveIncomingBall(d)

	d.m.bus.Post("balldevice_"+d.name+"_ball_eject_failed", event.Args{
		"device":   d.name,
		"target":   d.currentEject.target.Name(),
		"attempts": d.numEjectAttempts,
		"balls":    1,
	})
	d.log.Warn("弹射失败",
		zap.String("target", d.currentEject.target.Name()),
		zap.Int("attempts", d.numEjectAttempts))

	if d.cfg.MaxEjectAttempts > 0 && d.numEjectAttempts >= d.cfg.MaxEjectAttempts {
		d.setState(StateEjectBroken)
		return
	}
	d.setState(StateEjecting)
}

// cancelDownstream 撤掉这条链在下游装置里还没执行的请求
// 断在半路的链不撤，下游会为一颗永远不来的球空等
func (d *Device) cancelDownstream(req *ejectRequest) {
	node := req.target
	for {
		dev, ok := node.(*Device)
		if !ok {
			return
		}
		removed := false
		for i, r := range dev.ejectQueue {
			if r.chainTarget == req.chainTarget {
				dev.ejectQueue = append(dev.ejectQueue[:i:i], dev.ejectQueue[i+1:]...)
				node = r.target
				removed = true
				break
			}
		}
		if !removed {
			return
		}
		if len(dev.ejectQueue) == 0 && dev.state == StateWaitingForBall {
			dev.setState(StateIdle)
		}
	}
}

// stateEjectBrokenStart 判定弹射机构损坏
// 球留在装置里重新可用，链路记账回滚，等待人工复位
func (d *Device) stateEjectBrokenStart() {
	req := d.currentEject
	d.currentEject = nil
	req.chainTarget.addAvailable(-1)
	d.availableBalls++
	d.cancelDownstream(req)

	d.m.bus.Post("balldevice_"+d.name+"_broken", event.Args{
		"device":   d.name,
		"attempts": d.numEjectAttempts,
	})
	d.log.Error("弹射机构判定损坏，需要人工复位",
		zap.Int("attempts", d.numEjectAttempts))
}

// stateFailedConfirmStart 确认超时，重新清点判断球是不是掉回来了
func (d *Device) stateFailedConfirmStart() {
	count, err := d.countBalls()
	if err != nil {
		d.m.sched.Add(d.delayName("recount"), recountRetryDelay, d.recount)
		return
	}
	d.stateFailedConfirmCounted(count)
}

// stateFailedConfirmCounted 掉回来或卡球新触发都按弹射失败处理，
// 否则原地等迟到的确认或失踪超时
func (d *Device) stateFailedConfirmCounted(count int) {
	jamNow := d.cfg.JamSwitch != "" &&
		d.m.switches.IsActive(d.cfg.JamSwitch) && !d.jammedBefore

	if count >= d.ballsBeforeEject || jamNow {
		d.balls = count
		d.setState(StateFailedEject)
	}
}

// stateEjectConfirmedStart 弹射确认成功
func (d *Device) stateEjectConfirmedStart() {
	d.cancelEjectConfirmation()
	d.m.sched.Remove(d.delayName("eject_timeout"))
	d.m.sched.Remove(d.delayName("ball_missing_timeout"))

	req := d.currentEject
	d.currentEject = nil
	attempts := d.numEjectAttempts
	d.numEjectAttempts = 0

	// 机械通道只是过路，可用数跟着球走
	if d.availableBalls > d.balls {
		d.availableBalls = d.balls
	}

	d.m.bus.Post("balldevice_"+d.name+"_ball_eject_success", event.Args{
		"device":   d.name,
		"target":   req.target.Name(),
		"attempts": attempts,
		"balls":    1,
	})
	d.setState(StateIdle)
}

// stateLostBallsStart 球判定永久丢失
// 撤销目标的来球登记、回滚链路记账、通知总控减少在册球数
func (d *Device) stateLostBallsStart() {
	req := d.currentEject
	d.currentEject = nil
	d.numEjectAttempts = 0

	d.cancelEjectConfirmation()
	d.m.sched.Remove(d.delayName("eject_timeout"))
	d.m.sched.Remove(d.delayName("ball_missing_timeout"))
	req.target.RemoveIncomingBall(d)
	req.chainTarget.addAvailable(-1)
	d.cancelDownstream(req)

	d.m.bus.Post("balldevice_"+d.name+"_ball_lost", event.Args{
		"device": d.name,
		"target": req.target.Name(),
		"balls":  1,
	})
	d.log.Error("球永久丢失", zap.String("target", req.target.Name()))

	d.m.controller.ballLost(d, 1)
	d.setState(StateIdle)
}
