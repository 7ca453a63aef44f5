package hardware

import (
	"fmt"
	"time"

	"github.com/wfunc/pinball/internal/clock"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/delay"
	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// SwitchController 开关控制器
// 维护所有开关的当前状态和最近翻转时间，把硬件翻转转成总线事件，
// 并支持"某状态稳定保持N毫秒后回调"的登记。
// 不做内部加锁，HandleChange必须从机台循环协程调用。
type SwitchController struct {
	bus   *event.Bus
	clk   clock.Clock
	sched *delay.Scheduler
	log   *zap.Logger

	switches map[string]*switchState
	byNumber map[int]string

	handlers map[int]*switchHandler
	nextID   int
}

type switchState struct {
	name      string
	tags      []string
	active    bool
	changedAt time.Time
}

type switchHandler struct {
	id        int
	switchN   string
	active    bool
	stableFor time.Duration
	callback  func()
}

// NewSwitchController 创建开关控制器
func NewSwitchController(cfgs map[string]config.SwitchConfig, bus *event.Bus,
	clk clock.Clock, sched *delay.Scheduler, log *zap.Logger) *SwitchController {
	if log == nil {
		log = zap.NewNop()
	}

	sc := &SwitchController{
		bus:      bus,
		clk:      clk,
		sched:    sched,
		log:      log,
		switches: make(map[string]*switchState),
		byNumber: make(map[int]string),
		handlers: make(map[int]*switchHandler),
	}

	// 所有开关初始视为断开，翻转时间取启动时刻
	now := clk.Now()
	for name, cfg := range cfgs {
		sc.switches[name] = &switchState{
			name:      name,
			tags:      cfg.Tags,
			changedAt: now,
		}
		sc.byNumber[cfg.Number] = name
	}

	return sc
}

// HandleChange 处理一次硬件开关翻转
// 重复上报同一状态会被忽略
func (sc *SwitchController) HandleChange(number int, active bool) {
	name, ok := sc.byNumber[number]
	if !ok {
		sc.log.Warn("未配置的开关编号", zap.Int("number", number))
		return
	}
	sc.SetState(name, active)
}

// SetState 按名字设置开关状态
func (sc *SwitchController) SetState(name string, active bool) {
	st, ok := sc.switches[name]
	if !ok {
		sc.log.Warn("未配置的开关", zap.String("switch", name))
		return
	}
	if st.active == active {
		return
	}

	st.active = active
	st.changedAt = sc.clk.Now()

	sc.log.Debug("开关翻转",
		zap.String("switch", name),
		zap.Bool("active", active))

	// 调整稳定回调的计时
	for _, h := range sc.handlers {
		if h.switchN != name {
			continue
		}
		if h.active == active {
			sc.armHandler(h, 0)
		} else {
			sc.sched.Remove(handlerDelayName(h.id))
		}
	}

	suffix := "_inactive"
	if active {
		suffix = "_active"
	}
	sc.bus.Post("sw_"+name+suffix, event.Args{"switch_name": name})
}

// IsActive 开关当前是否闭合
func (sc *SwitchController) IsActive(name string) bool {
	st, ok := sc.switches[name]
	return ok && st.active
}

// IsActiveFor 开关是否已闭合且稳定保持了至少d
func (sc *SwitchController) IsActiveFor(name string, d time.Duration) bool {
	st, ok := sc.switches[name]
	if !ok || !st.active {
		return false
	}
	return sc.clk.Now().Sub(st.changedAt) >= d
}

// IsInactiveFor 开关是否已断开且稳定保持了至少d
func (sc *SwitchController) IsInactiveFor(name string, d time.Duration) bool {
	st, ok := sc.switches[name]
	if !ok {
		return true
	}
	if st.active {
		return false
	}
	return sc.clk.Now().Sub(st.changedAt) >= d
}

// TimeSinceChange 开关距上次翻转过了多久
func (sc *SwitchController) TimeSinceChange(name string) time.Duration {
	st, ok := sc.switches[name]
	if !ok {
		return 0
	}
	return sc.clk.Now().Sub(st.changedAt)
}

// HasTag 开关是否带某个标签
func (sc *SwitchController) HasTag(name string, tag string) bool {
	st, ok := sc.switches[name]
	if !ok {
		return false
	}
	for _, t := range st.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SwitchesWithTag 返回带某个标签的全部开关名
func (sc *SwitchController) SwitchesWithTag(tag string) []string {
	var out []string
	for name := range sc.switches {
		if sc.HasTag(name, tag) {
			out = append(out, name)
		}
	}
	return out
}

// AddHandler 登记开关状态回调
// 开关进入指定状态且稳定保持stableFor后触发一次；
// 如果登记时已处于该状态，按已稳定的时长折算。
// 返回句柄用于移除。
func (sc *SwitchController) AddHandler(name string, active bool,
	stableFor time.Duration, cb func()) int {
	st, ok := sc.switches[name]
	if !ok {
		sc.log.DPanic("对未配置的开关登记回调", zap.String("switch", name))
		return 0
	}

	sc.nextID++
	h := &switchHandler{
		id:        sc.nextID,
		switchN:   name,
		active:    active,
		stableFor: stableFor,
		callback:  cb,
	}
	sc.handlers[h.id] = h

	if st.active == active {
		elapsed := sc.clk.Now().Sub(st.changedAt)
		if elapsed >= stableFor {
			cb()
		} else {
			sc.armHandler(h, elapsed)
		}
	}

	return h.id
}

// RemoveHandler 移除开关回调
func (sc *SwitchController) RemoveHandler(id int) {
	if _, ok := sc.handlers[id]; !ok {
		return
	}
	delete(sc.handlers, id)
	sc.sched.Remove(handlerDelayName(id))
}

func (sc *SwitchController) armHandler(h *switchHandler, elapsed time.Duration) {
	remaining := h.stableFor - elapsed
	if remaining <= 0 {
		h.callback()
		return
	}
	sc.sched.Add(handlerDelayName(h.id), remaining, h.callback)
}

func handlerDelayName(id int) string {
	return fmt.Sprintf("switch_handler_%d", id)
}
