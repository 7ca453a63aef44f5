package ball

import (
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// 台面不设实际容量上限
const playfieldCapacity = 999

// Playfield 开放台面
// 球在上面自由滚动，计数靠两端装置的进出记账维护，
// 台面开关活动只用来证明球还活着和确认弹射
type Playfield struct {
	name string
	cfg  config.PlayfieldConfig
	m    *Machine
	log  *zap.Logger

	balls          int
	availableBalls int
	// unexpectedBalls 记账外多出来的球，计数修正时优先冲销
	unexpectedBalls int

	incomingBalls []incomingBall

	search *Search
}

func newPlayfield(name string, cfg config.PlayfieldConfig, m *Machine) *Playfield {
	pf := &Playfield{
		name: name,
		cfg:  cfg,
		m:    m,
		log:  m.log.With(zap.String("playfield", name)),
	}
	pf.search = newSearch(pf)
	return pf
}

// Name 台面名
func (pf *Playfield) Name() string { return pf.name }

// IsPlayfield 台面
func (pf *Playfield) IsPlayfield() bool { return true }

// HasTag 是否带指定标签
func (pf *Playfield) HasTag(tag string) bool {
	for _, t := range pf.cfg.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Balls 台面上的球数
func (pf *Playfield) Balls() int { return pf.balls }

// AvailableBalls 可用球数
func (pf *Playfield) AvailableBalls() int { return pf.availableBalls }

// Search 寻球器
func (pf *Playfield) Search() *Search { return pf.search }

// GetAdditionalBallCapacity 台面来者不拒
func (pf *Playfield) GetAdditionalBallCapacity() int {
	return playfieldCapacity - pf.balls
}

// AddIncomingBall 登记一颗在途来球
func (pf *Playfield) AddIncomingBall(source *Device) {
	deadline := pf.m.clk.Now().Add(config.IncomingBallTimeout())
	pf.incomingBalls = append(pf.incomingBalls, incomingBall{source: source, deadline: deadline})
}

// RemoveIncomingBall 取消一颗在途来球的登记
func (pf *Playfield) RemoveIncomingBall(source *Device) {
	for i, in := range pf.incomingBalls {
		if in.source == source {
			pf.incomingBalls = append(pf.incomingBalls[:i:i], pf.incomingBalls[i+1:]...)
			return
		}
	}
}

func (pf *Playfield) addAvailable(delta int) {
	pf.availableBalls += delta
	if pf.availableBalls < 0 {
		pf.log.Warn("台面可用球数为负，钳到零",
			zap.Int("available", pf.availableBalls))
		pf.availableBalls = 0
	}
}

// AddBall 向默认来源要一颗球打上台面
func (pf *Playfield) AddBall(playerControlled bool) error {
	src := pf.m.devices[pf.cfg.DefaultSource]
	if src == nil {
		return errors.Newf(errors.ErrDeviceNotFound,
			"台面 %s 没有可用的默认来源", pf.name)
	}
	return src.EjectBall(pf, playerControlled)
}

// ballArrived 装置确认把球送上了台面
func (pf *Playfield) ballArrived(n int) {
	for i := 0; i < n && len(pf.incomingBalls) > 0; i++ {
		pf.incomingBalls = pf.incomingBalls[1:]
	}
	pf.setBalls(pf.balls + n)

	if pf.balls > 0 {
		pf.search.enableIfConfigured()
	}
}

// ballCaptured 装置捕获了一颗台面上的球
func (pf *Playfield) ballCaptured(n int) {
	if pf.unexpectedBalls >= n {
		pf.unexpectedBalls -= n
	} else {
		pf.unexpectedBalls = 0
	}
	pf.addAvailable(-n)
	pf.setBalls(pf.balls - n)
}

// AddMissingBalls 别处丢了球，从默认来源补一颗顶上
func (pf *Playfield) AddMissingBalls(n int) {
	pf.log.Warn("补发替换球", zap.Int("balls", n))
	for i := 0; i < n; i++ {
		if err := pf.AddBall(false); err != nil {
			pf.log.Error("补球失败", zap.Error(err))
			return
		}
	}
}

// MarkBallsOnField 球从装置里不翼而飞，多半就落在台面上
func (pf *Playfield) MarkBallsOnField(n int) {
	pf.unexpectedBalls += n
	pf.availableBalls += n
	pf.setBalls(pf.balls + n)
}

func (pf *Playfield) setBalls(n int) {
	if n < 0 {
		pf.log.DPanic("台面球数为负", zap.Int("balls", n))
		n = 0
	}
	if n == pf.balls {
		return
	}
	old := pf.balls
	pf.balls = n
	pf.m.bus.Post("playfield_"+pf.name+"_ball_count_change", event.Args{
		"playfield": pf.name,
		"balls":     n,
		"previous":  old,
	})

	if n == 0 {
		pf.search.disable()
	} else {
		pf.search.enableIfConfigured()
	}
}

// zeroCounts 寻球放弃后清空台面记账
func (pf *Playfield) zeroCounts() int {
	n := pf.balls
	pf.balls = 0
	pf.availableBalls = 0
	pf.unexpectedBalls = 0
	pf.search.disable()
	return n
}

// PlayfieldSwitchHit 台面开关命中
// 球还活着的证据：重置寻球计时并广播活动事件。
// 记账上没球却有活动，说明球的来路没被记到，交给总控纠偏
func (pf *Playfield) PlayfieldSwitchHit() {
	if pf.balls == 0 && len(pf.incomingBalls) == 0 {
		pf.m.controller.playfieldJump(pf)
	}
	pf.search.ResetTimer()
	pf.m.bus.Post(pf.name+"_active", event.Args{"playfield": pf.name})
}
