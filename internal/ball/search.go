package ball

import (
	"sort"

	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// 寻球最多推进到第三阶段
const maxSearchPhase = 3

// SearchCallback 寻球回调
// phase是当前阶段，回调触发了硬件动作返回true，寻球器会等一个间隔；
// 没动作返回false，立刻轮到下一个
type SearchCallback func(phase int) bool

type searchEntry struct {
	name     string
	priority int
	cb       SearchCallback
}

// Search 台面寻球器
// 台面该有球却长时间没有开关活动时，按优先级挨个触发装置的
// 弹射机构把卡住的球震出来。三个阶段逐步加码，仍找不到就放弃
type Search struct {
	pf  *Playfield
	m   *Machine
	log *zap.Logger

	entries []searchEntry

	enabled bool
	started bool
	blocked bool

	phase     int
	iteration int
	index     int
}

func newSearch(pf *Playfield) *Search {
	return &Search{
		pf:  pf,
		m:   pf.m,
		log: pf.log.With(zap.String("component", "ball_search")),
	}
}

// Register 登记一个寻球回调，priority小的先扫
func (s *Search) Register(name string, priority int, cb SearchCallback) {
	s.entries = append(s.entries, searchEntry{name: name, priority: priority, cb: cb})
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].priority < s.entries[j].priority
	})
}

// Started 是否正在扫荡
func (s *Search) Started() bool { return s.started }

// Phase 当前阶段，未开始为0
func (s *Search) Phase() int {
	if !s.started {
		return 0
	}
	return s.phase
}

// enableIfConfigured 台面有球时启动倒计时
func (s *Search) enableIfConfigured() {
	if !s.pf.cfg.EnableBallSearch || s.enabled {
		return
	}
	s.enabled = true
	s.ResetTimer()
}

// disable 台面没球了，撤掉一切计时
func (s *Search) disable() {
	if !s.enabled {
		return
	}
	s.enabled = false
	s.stop()
	s.m.sched.Remove(s.delayName("start"))
}

// Block 临时屏蔽寻球，例如演出或结算期间
func (s *Search) Block() {
	s.blocked = true
	s.stop()
}

// Unblock 解除屏蔽并重新倒计时
func (s *Search) Unblock() {
	s.blocked = false
	if s.enabled {
		s.ResetTimer()
	}
}

// ResetTimer 台面有活动，球还活着
// 正在扫荡就收手，然后重新起一轮倒计时
func (s *Search) ResetTimer() {
	if !s.enabled || s.blocked {
		return
	}
	s.stop()
	s.m.sched.Add(s.delayName("start"), s.pf.cfg.BallSearchTimeout, s.start)
}

func (s *Search) delayName(suffix string) string {
	return s.pf.name + "_ball_search_" + suffix
}

func (s *Search) start() {
	if s.started || s.blocked || !s.enabled {
		return
	}
	s.started = true
	s.phase = 1
	s.iteration = 1
	s.index = 0

	s.log.Info("开始寻球")
	s.m.bus.Post("ball_search_started", event.Args{"playfield": s.pf.name})
	s.run()
}

func (s *Search) stop() {
	if !s.started {
		return
	}
	s.started = false
	s.m.sched.Remove(s.delayName("run"))
	s.log.Info("停止寻球")
	s.m.bus.Post("ball_search_stopped", event.Args{"playfield": s.pf.name})
}

// run 推进一步扫荡
// 回调真动了硬件就歇一个间隔再继续，没动就马上看下一个；
// 一轮扫完歇一段长的，轮数用尽换下一阶段
func (s *Search) run() {
	if !s.started {
		return
	}

	if s.index >= len(s.entries) {
		s.index = 0
		s.iteration++
		if s.iteration > s.phaseIterations() {
			s.phase++
			s.iteration = 1
			if s.phase > maxSearchPhase {
				s.giveUp()
				return
			}
			s.log.Warn("寻球升级", zap.Int("phase", s.phase))
		}
		s.m.sched.Add(s.delayName("run"), s.pf.cfg.BallSearchWaitAfterIteration, s.run)
		return
	}

	entry := s.entries[s.index]
	s.index++
	if entry.cb(s.phase) {
		s.m.sched.Add(s.delayName("run"), s.pf.cfg.BallSearchInterval, s.run)
		return
	}
	s.run()
}

func (s *Search) phaseIterations() int {
	switch s.phase {
	case 1:
		return s.pf.cfg.BallSearchPhase1
	case 2:
		return s.pf.cfg.BallSearchPhase2
	default:
		return s.pf.cfg.BallSearchPhase3
	}
}

// giveUp 三个阶段都扫不出来，球就当没了
func (s *Search) giveUp() {
	s.started = false
	s.log.Error("寻球失败，放弃")
	s.m.bus.Post("ball_search_failed", event.Args{"playfield": s.pf.name})
	s.m.controller.ballSearchFailed(s.pf)
}
