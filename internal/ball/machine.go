package ball

import (
	"sort"
	"time"

	"github.com/wfunc/pinball/internal/clock"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/delay"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"github.com/wfunc/pinball/internal/hardware"
	"go.uber.org/zap"
)

// Machine 整机装配
// 把配置里的开关、线圈、台面和球装置建起来并接好线。
// 除构造外所有方法都必须从同一个机台循环协程调用，内部不加锁
type Machine struct {
	cfg config.MachineConfig
	log *zap.Logger

	clk      clock.Clock
	bus      *event.Bus
	sched    *delay.Scheduler
	switches *hardware.SwitchController
	driver   hardware.Driver

	coils      map[string]*hardware.Coil
	devices    map[string]*Device
	playfields map[string]*Playfield
	controller *Controller
}

// NewMachine 按配置装配整机，配置需已通过校验
func NewMachine(cfg config.MachineConfig, driver hardware.Driver,
	clk clock.Clock, log *zap.Logger) (*Machine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Wall{}
	}

	m := &Machine{
		cfg:        cfg,
		log:        log,
		clk:        clk,
		bus:        event.NewBus(log),
		sched:      delay.NewScheduler(clk, log),
		driver:     driver,
		coils:      make(map[string]*hardware.Coil),
		devices:    make(map[string]*Device),
		playfields: make(map[string]*Playfield),
	}
	m.switches = hardware.NewSwitchController(cfg.Switches, m.bus, clk, m.sched, log)
	m.controller = newController(m)

	for name, c := range cfg.Coils {
		m.coils[name] = hardware.NewCoil(name, c, driver, log)
	}
	for name, pc := range cfg.Playfields {
		m.playfields[name] = newPlayfield(name, pc, m)
	}
	for name, dc := range cfg.Devices {
		m.devices[name] = newDevice(name, dc, m)
	}

	if err := m.wireDevices(); err != nil {
		return nil, err
	}
	m.wireSwitches()
	m.wirePlayfields()
	m.wireBallSearch()
	return m, nil
}

// node 按名字找节点，装置优先于台面
func (m *Machine) node(name string) Node {
	if d, ok := m.devices[name]; ok {
		return d
	}
	if pf, ok := m.playfields[name]; ok {
		return pf
	}
	return nil
}

// wireDevices 解析弹射目标、上游关系并接上线圈和协作事件
func (m *Machine) wireDevices() error {
	for _, name := range m.deviceNames() {
		d := m.devices[name]

		for _, tn := range d.cfg.EjectTargets {
			t := m.node(tn)
			if t == nil {
				return errors.Newf(errors.ErrDeviceNotFound,
					"装置 %s 的弹射目标不存在: %s", name, tn)
			}
			d.targets = append(d.targets, t)
			if td, ok := t.(*Device); ok {
				td.sourceDevices = append(td.sourceDevices, d)
			}
		}

		if d.cfg.EjectCoil != "" {
			d.ejectCoil = m.coils[d.cfg.EjectCoil]
		}
		if d.cfg.HoldCoil != "" {
			d.holdCoil = m.coils[d.cfg.HoldCoil]
		}
	}

	for _, name := range m.deviceNames() {
		d := m.devices[name]

		// 弹射成功后目标是台面的，到账记在台面上
		src := d
		m.bus.AddHandler("balldevice_"+src.name+"_ball_eject_success",
			func(args event.Args) any {
				if pf, ok := m.playfields[args.String("target")]; ok {
					pf.ballArrived(args.Int("balls"))
				}
				return nil
			}, 50)

		// 满员的目标把上游的弹射尝试挡在队列事件里
		for _, t := range src.targets {
			td, ok := t.(*Device)
			if !ok {
				continue
			}
			target := td
			m.bus.AddHandler("balldevice_"+src.name+"_ball_eject_attempt",
				func(args event.Args) any {
					if args.String("target") != target.name {
						return nil
					}
					if target.GetAdditionalBallCapacity() > 0 {
						return nil
					}
					if q := args.Queue(); q != nil {
						q.Wait()
						target.blockedEjectQueues = append(target.blockedEjectQueues, q)
						target.log.Debug("挡下上游弹射",
							zap.String("source", src.name))
					}
					return nil
				}, 100)
		}
	}
	return nil
}

// wireSwitches 球开关翻转触发装置重新计数
func (m *Machine) wireSwitches() {
	for _, name := range m.deviceNames() {
		d := m.devices[name]
		for _, sw := range d.cfg.BallSwitches {
			m.switches.AddHandler(sw, true, d.cfg.EntranceCountDelay, d.recount)
			m.switches.AddHandler(sw, false, d.cfg.ExitCountDelay, d.recount)
		}
		if d.cfg.EntranceSwitch != "" {
			m.switches.AddHandler(d.cfg.EntranceSwitch, true,
				d.cfg.EntranceCountDelay, d.entranceSwitchHit)
		}
	}
}

// wirePlayfields 带活动标签的开关接到对应台面
// 标签playfield_active归默认台面，<台面名>_active归指定台面
func (m *Machine) wirePlayfields() {
	for _, pfName := range m.playfieldNames() {
		pf := m.playfields[pfName]
		tags := []string{pfName + "_active"}
		if pf == m.defaultPlayfield() {
			tags = append(tags, "playfield_active")
		}
		for _, tag := range tags {
			for _, sw := range m.switches.SwitchesWithTag(tag) {
				m.switches.AddHandler(sw, true, 0, pf.PlayfieldSwitchHit)
			}
		}
	}
}

// wireBallSearch 每个装置向它扣账的台面登记寻球回调
// 第一阶段只动空闲且没球的装置，后两阶段除料槽外都要挨震，
// 第二阶段用减弱脉冲试探，第三阶段火力全开
func (m *Machine) wireBallSearch() {
	for _, name := range m.deviceNames() {
		d := m.devices[name]
		if d.ejectCoil == nil {
			continue
		}
		pf := d.capturesFrom()
		if pf == nil {
			continue
		}
		dev := d
		pf.search.Register(dev.name, dev.cfg.BallSearchOrder, func(phase int) bool {
			switch phase {
			case 1:
				if dev.state != StateIdle || dev.balls != 0 {
					return false
				}
				return dev.ejectCoil.Pulse(0) == nil
			case 2:
				if dev.HasTag("trough") {
					return false
				}
				return dev.ejectCoil.Pulse(dev.ejectCoil.DefaultPulse()/2) == nil
			default:
				if dev.HasTag("trough") {
					return false
				}
				return dev.ejectCoil.Pulse(0) == nil
			}
		})
	}
}

// deviceNames 排序后的装置名，遍历顺序可复现
func (m *Machine) deviceNames() []string {
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Machine) playfieldNames() []string {
	names := make([]string, 0, len(m.playfields))
	for name := range m.playfields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultPlayfield 默认台面：带default标签的优先，否则按名字取最小
func (m *Machine) defaultPlayfield() *Playfield {
	for _, name := range m.playfieldNames() {
		if m.playfields[name].HasTag("default") {
			return m.playfields[name]
		}
	}
	names := m.playfieldNames()
	if len(names) == 0 {
		return nil
	}
	return m.playfields[names[0]]
}

// Activate 启动整机
// 各装置完成首次计数离开invalid，随后清点全机球数
func (m *Machine) Activate() {
	for _, name := range m.deviceNames() {
		m.devices[name].Activate()
	}
	m.controller.UpdateNumBallsKnown()
	m.bus.Post("machine_init_done", event.Args{})
}

// HandleSwitchChange 硬件开关翻转入口
func (m *Machine) HandleSwitchChange(number int, active bool) {
	m.switches.HandleChange(number, active)
}

// Tick 推进延时调度
func (m *Machine) Tick(now time.Time) {
	m.sched.Dispatch(now)
}

// Bus 事件总线
func (m *Machine) Bus() *event.Bus { return m.bus }

// Switches 开关控制器
func (m *Machine) Switches() *hardware.SwitchController { return m.switches }

// Controller 球数总控
func (m *Machine) Controller() *Controller { return m.controller }

// Device 按名字取装置
func (m *Machine) Device(name string) *Device { return m.devices[name] }

// Playfield 按名字取台面
func (m *Machine) Playfield(name string) *Playfield { return m.playfields[name] }

// Devices 排序后的全部装置
func (m *Machine) Devices() []*Device {
	out := make([]*Device, 0, len(m.devices))
	for _, name := range m.deviceNames() {
		out = append(out, m.devices[name])
	}
	return out
}

// Playfields 排序后的全部台面
func (m *Machine) Playfields() []*Playfield {
	out := make([]*Playfield, 0, len(m.playfields))
	for _, name := range m.playfieldNames() {
		out = append(out, m.playfields[name])
	}
	return out
}
