package ball

import (
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// confirmation 一次弹射的确认现场
// 记下布设过的事件处理器和开关回调，确认或失败后统一拆除
type confirmation struct {
	eventKeys []event.HandlerKey
	switchIDs []int
}

// setupEjectConfirmation 布设弹射确认
// 目标是装置时以对方入球为准；目标是台面时按本装置配置的确认方式来
func (d *Device) setupEjectConfirmation(target Node) {
	c := &confirmation{}

	if !target.IsPlayfield() {
		// 只认领消耗了本装置来球登记的那次到货，
		// 两个装置同时向一个目标弹射时，一颗球到账不能把两边都确认掉
		key := d.m.bus.AddHandler("balldevice_"+target.Name()+"_ball_enter",
			func(args event.Args) any {
				sources, _ := args["sources"].([]*Device)
				for _, src := range sources {
					if src == d {
						d.ejectSuccess()
						break
					}
				}
				return nil
			}, 100)
		c.eventKeys = append(c.eventKeys, key)
		d.confirm = c
		return
	}

	switch d.cfg.ConfirmEjectType {
	case config.ConfirmTypeSwitch:
		id := d.m.switches.AddHandler(d.cfg.ConfirmEjectSwitch, true, 0, d.ejectSuccess)
		c.switchIDs = append(c.switchIDs, id)
	case config.ConfirmTypeEvent:
		key := d.m.bus.AddHandler(d.cfg.ConfirmEjectEvent,
			func(event.Args) any {
				d.ejectSuccess()
				return nil
			}, 100)
		c.eventKeys = append(c.eventKeys, key)
	case config.ConfirmTypeTarget:
		// 台面任意活动即视为球到了
		key := d.m.bus.AddHandler(target.Name()+"_active",
			func(event.Args) any {
				d.ejectSuccess()
				return nil
			}, 100)
		c.eventKeys = append(c.eventKeys, key)
	case config.ConfirmTypeCount, config.ConfirmTypeFake:
		// 球离开时结算，见confirmOnBallLeft
	}
	d.confirm = c
}

// confirmOnBallLeft 球离开后立即可结算的确认方式
// count方式要先排除卡球假象，球卡在出口时等超时重判
func (d *Device) confirmOnBallLeft() {
	if d.currentEject == nil || !d.currentEject.target.IsPlayfield() {
		return
	}

	switch d.cfg.ConfirmEjectType {
	case config.ConfirmTypeFake:
		d.ejectSuccess()
	case config.ConfirmTypeCount:
		jamNow := d.cfg.JamSwitch != "" &&
			d.m.switches.IsActive(d.cfg.JamSwitch) && !d.jammedBefore
		if jamNow {
			d.log.Warn("疑似卡球，暂不确认弹射")
			return
		}
		d.ejectSuccess()
	}
}

// cancelEjectConfirmation 拆除确认现场，可重复调用
func (d *Device) cancelEjectConfirmation() {
	if d.confirm == nil {
		return
	}
	d.m.bus.RemoveHandlers(d.confirm.eventKeys)
	for _, id := range d.confirm.switchIDs {
		d.m.switches.RemoveHandler(id)
	}
	d.confirm = nil
}

// ejectSuccess 收到弹射确认
// 只有在等确认的状态里才有效，迟到或重复的确认只记日志
func (d *Device) ejectSuccess() {
	switch d.state {
	case StateBallLeft, StateFailedConfirm, StateWaitingForBallMechanical:
		d.setState(StateEjectConfirmed)
	default:
		d.log.Warn("预期之外的弹射确认",
			zap.String("state", d.state.String()))
	}
}
