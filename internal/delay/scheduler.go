package delay

import (
	"sort"
	"time"

	"github.com/wfunc/pinball/internal/clock"
	"go.uber.org/zap"
)

// Scheduler 命名的一次性延时调度器
// 同名重复Add会先取消旧的再登记新的（替换语义），
// 这是各处"抖动重置"逻辑的基础：开关每翻转一次就把计数延时推后。
// 不做内部加锁，所有调用必须来自机台循环协程。
type Scheduler struct {
	clk     clock.Clock
	log     *zap.Logger
	entries map[string]*entry
	seq     uint64
}

type entry struct {
	name     string
	fireAt   time.Time
	callback func()
	seq      uint64
}

// NewScheduler 创建调度器
func NewScheduler(clk clock.Clock, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		clk:     clk,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Add 登记延时回调，同名会替换
func (s *Scheduler) Add(name string, d time.Duration, cb func()) {
	if cb == nil {
		s.log.DPanic("登记了空的延时回调", zap.String("name", name))
		return
	}
	if _, ok := s.entries[name]; ok {
		s.log.Debug("替换同名延时", zap.String("name", name))
	}

	s.seq++
	s.entries[name] = &entry{
		name:     name,
		fireAt:   s.clk.Now().Add(d),
		callback: cb,
		seq:      s.seq,
	}
}

// Reset 与Add等价，保留此名强调替换语义
func (s *Scheduler) Reset(name string, d time.Duration, cb func()) {
	s.Add(name, d, cb)
}

// Remove 取消延时，名字不存在时安全返回
func (s *Scheduler) Remove(name string) {
	delete(s.entries, name)
}

// Pending 判断某个延时是否在等待触发
func (s *Scheduler) Pending(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Next 返回最近一个待触发时间
func (s *Scheduler) Next() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, e := range s.entries {
		if !found || e.fireAt.Before(earliest) {
			earliest = e.fireAt
			found = true
		}
	}
	return earliest, found
}

// Dispatch 触发所有到期的延时
// 回调中新登记的延时若也已到期，会在同一次Dispatch中继续触发
func (s *Scheduler) Dispatch(now time.Time) {
	for {
		due := s.collectDue(now)
		if len(due) == 0 {
			return
		}
		for _, e := range due {
			// 回调可能已替换或取消了这个条目
			if cur, ok := s.entries[e.name]; !ok || cur != e {
				continue
			}
			delete(s.entries, e.name)
			e.callback()
		}
	}
}

func (s *Scheduler) collectDue(now time.Time) []*entry {
	var due []*entry
	for _, e := range s.entries {
		if !e.fireAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].fireAt.Equal(due[j].fireAt) {
			return due[i].fireAt.Before(due[j].fireAt)
		}
		return due[i].seq < due[j].seq
	})
	return due
}

// Clear 取消全部延时
func (s *Scheduler) Clear() {
	s.entries = make(map[string]*entry)
}
