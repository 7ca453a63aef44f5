package event

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Args 事件参数
type Args map[string]any

// Int 读取整数参数（缺失或类型不符返回0）
func (a Args) Int(key string) int {
	if v, ok := a[key].(int); ok {
		return v
	}
	return 0
}

// String 读取字符串参数
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Bool 读取布尔参数
func (a Args) Bool(key string) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return false
}

// Queue 读取队列事件的等待队列句柄
func (a Args) Queue() *Queue {
	if v, ok := a[KeyQueue].(*Queue); ok {
		return v
	}
	return nil
}

// 保留的参数键
const (
	// KeyQueue 队列事件中等待队列句柄所在的参数键
	KeyQueue = "queue"
	// KeyResult 回调中携带处理结果的参数键
	KeyResult = "ev_result"
)

// Type 事件类型
type Type int

const (
	// TypeNormal 普通事件（顺序调用全部处理器）
	TypeNormal Type = iota
	// TypeBoolean 布尔事件（任一处理器返回false则中止后续处理）
	TypeBoolean
	// TypeQueue 队列事件（处理器可登记等待，全部释放后才执行回调）
	TypeQueue
	// TypeRelay 接力事件（处理器返回的Args合并后传给下一个处理器）
	TypeRelay
)

// HandlerFunc 事件处理函数
// 返回值约定：布尔/队列事件返回false中止；接力事件返回Args向后传递；其余返回nil
type HandlerFunc func(args Args) any

// HandlerKey 处理器注册句柄，用于后续移除
type HandlerKey string

// Callback 事件完成回调
type Callback func(args Args)

// MonitorFunc 事件监视器，每个事件派发前都会被调用
type MonitorFunc func(name string, typ Type, args Args)

type handlerEntry struct {
	fn       HandlerFunc
	priority int
	key      HandlerKey
	seq      uint64
}

type postedEvent struct {
	name     string
	typ      Type
	callback Callback
	args     Args
}

type pendingCallback struct {
	callback Callback
	args     Args
}

// Bus 事件总线
// 事件串行处理：派发过程中新发布的事件进入队列，待当前事件结束后按序处理。
// 总线不做内部加锁，所有调用必须来自持有它的机台循环协程。
type Bus struct {
	log      *zap.Logger
	handlers map[string][]*handlerEntry
	monitors []MonitorFunc

	eventQueue    []postedEvent
	callbackQueue []pendingCallback
	processing    bool
	seq           uint64
}

// NewBus 创建事件总线
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:      log,
		handlers: make(map[string][]*handlerEntry),
	}
}

// AddHandler 注册事件处理器
// priority大的先执行；同优先级按注册顺序。返回句柄用于移除。
func (b *Bus) AddHandler(name string, fn HandlerFunc, priority int) HandlerKey {
	if fn == nil {
		b.log.DPanic("注册了空的事件处理器", zap.String("event", name))
		return ""
	}

	b.seq++
	entry := &handlerEntry{
		fn:       fn,
		priority: priority,
		key:      HandlerKey(uuid.NewString()),
		seq:      b.seq,
	}

	list := append(b.handlers[name], entry)
	// 预排序，派发时不再排序
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.handlers[name] = list

	b.log.Debug("注册事件处理器",
		zap.String("event", name),
		zap.Int("priority", priority))

	return entry.key
}

// RemoveHandler 按句柄移除处理器
func (b *Bus) RemoveHandler(key HandlerKey) {
	if key == "" {
		return
	}
	for name, list := range b.handlers {
		for i, entry := range list {
			if entry.key == key {
				b.handlers[name] = append(list[:i:i], list[i+1:]...)
				if len(b.handlers[name]) == 0 {
					delete(b.handlers, name)
				}
				return
			}
		}
	}
}

// RemoveHandlers 批量移除处理器
func (b *Bus) RemoveHandlers(keys []HandlerKey) {
	for _, key := range keys {
		b.RemoveHandler(key)
	}
}

// AddMonitor 注册事件监视器
func (b *Bus) AddMonitor(fn MonitorFunc) {
	b.monitors = append(b.monitors, fn)
}

// HasHandlers 判断事件是否有处理器
func (b *Bus) HasHandlers(name string) bool {
	return len(b.handlers[name]) > 0
}

// Post 发布普通事件
func (b *Bus) Post(name string, args Args) {
	b.post(name, TypeNormal, nil, args)
}

// PostCallback 发布普通事件并在全部处理完成后回调
func (b *Bus) PostCallback(name string, args Args, cb Callback) {
	b.post(name, TypeNormal, cb, args)
}

// PostBoolean 发布布尔事件，任一处理器返回false则中止
func (b *Bus) PostBoolean(name string, args Args, cb Callback) {
	b.post(name, TypeBoolean, cb, args)
}

// PostQueue 发布队列事件
// 处理器可通过args.Queue()登记等待；全部等待释放后才执行回调
func (b *Bus) PostQueue(name string, args Args, cb Callback) {
	b.post(name, TypeQueue, cb, args)
}

// PostRelay 发布接力事件，处理器返回的Args会合并进参数传给下一个
func (b *Bus) PostRelay(name string, args Args, cb Callback) {
	b.post(name, TypeRelay, cb, args)
}

func (b *Bus) post(name string, typ Type, cb Callback, args Args) {
	if args == nil {
		args = Args{}
	}

	b.eventQueue = append(b.eventQueue, postedEvent{
		name:     name,
		typ:      typ,
		callback: cb,
		args:     args,
	})

	if b.processing {
		return
	}
	b.processing = true
	defer func() { b.processing = false }()
	b.processQueue()
}

// processQueue 先排空事件队列，再执行最近一个回调，循环直至两者都为空
// 保证回调执行时，它之前发布的事件已全部处理完
func (b *Bus) processQueue() {
	for len(b.eventQueue) > 0 || len(b.callbackQueue) > 0 {
		for len(b.eventQueue) > 0 {
			ev := b.eventQueue[0]
			b.eventQueue = b.eventQueue[1:]
			b.dispatch(ev)
		}

		if n := len(b.callbackQueue); n > 0 {
			pending := b.callbackQueue[n-1]
			b.callbackQueue = b.callbackQueue[:n-1]
			pending.callback(pending.args)
		}
	}
}

func (b *Bus) enqueueCallback(cb Callback, args Args) {
	if cb == nil {
		return
	}
	b.callbackQueue = append(b.callbackQueue, pendingCallback{callback: cb, args: args})
}

func (b *Bus) dispatch(ev postedEvent) {
	b.log.Debug("派发事件",
		zap.String("event", ev.name),
		zap.Int("type", int(ev.typ)))

	for _, monitor := range b.monitors {
		monitor(ev.name, ev.typ, ev.args)
	}

	// 复制一份处理器列表，派发中注册的新处理器不参与本次事件
	list := b.handlers[ev.name]
	snapshot := make([]*handlerEntry, len(list))
	copy(snapshot, list)

	var queue *Queue
	if ev.typ == TypeQueue && len(snapshot) > 0 {
		queue = &Queue{bus: b, callback: ev.callback, args: ev.args}
		ev.args[KeyQueue] = queue
	}

	var result any
	for _, entry := range snapshot {
		if !b.stillRegistered(ev.name, entry) {
			continue
		}

		result = entry.fn(ev.args)

		if ev.typ == TypeBoolean || ev.typ == TypeQueue {
			if r, ok := result.(bool); ok && !r {
				ev.args[KeyResult] = false
				break
			}
		} else if ev.typ == TypeRelay {
			if extra, ok := result.(Args); ok {
				for k, v := range extra {
					ev.args[k] = v
				}
			}
		}
	}

	switch {
	case ev.typ == TypeQueue && queue == nil:
		// 队列事件没有处理器，直接回调
		b.enqueueCallback(ev.callback, ev.args)
	case queue != nil:
		delete(ev.args, KeyQueue)
		if queue.Empty() {
			if queue.callback != nil {
				cb := queue.callback
				queue.callback = nil
				b.enqueueCallback(cb, ev.args)
			}
		} else {
			queue.eventFinished = true
		}
	case ev.callback != nil:
		if result != nil {
			ev.args[KeyResult] = result
		}
		b.enqueueCallback(ev.callback, ev.args)
	}
}

// stillRegistered 处理器可能在本次事件派发中被前面的处理器移除
func (b *Bus) stillRegistered(name string, entry *handlerEntry) bool {
	for _, cur := range b.handlers[name] {
		if cur == entry {
			return true
		}
	}
	return false
}

// Queue 队列事件的等待队列
// 处理器调用Wait()登记一次异步等待，完成后调用Clear()释放；
// 所有等待释放且事件派发结束后才会执行事件回调
type Queue struct {
	bus           *Bus
	callback      Callback
	args          Args
	numWaiting    int
	eventFinished bool
}

// Wait 登记一次等待
func (q *Queue) Wait() {
	q.numWaiting++
}

// Clear 释放一次等待，计数归零且事件派发已结束时触发回调
func (q *Queue) Clear() {
	if q.numWaiting <= 0 {
		return
	}
	q.numWaiting--
	if q.numWaiting == 0 && q.eventFinished && q.callback != nil {
		cb := q.callback
		q.callback = nil
		q.bus.enqueueCallback(cb, q.args)
		if !q.bus.processing {
			q.bus.processing = true
			defer func() { q.bus.processing = false }()
			q.bus.processQueue()
		}
	}
}

// Kill 清空全部等待且不触发回调
func (q *Queue) Kill() {
	q.numWaiting = 0
	q.callback = nil
}

// Empty 判断是否没有未释放的等待
func (q *Queue) Empty() bool {
	return q.numWaiting == 0
}
