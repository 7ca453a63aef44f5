package event

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// BusTestSuite 事件总线测试套件
type BusTestSuite struct {
	suite.Suite
	bus *Bus
}

func (suite *BusTestSuite) SetupTest() {
	suite.bus = NewBus(nil)
}

// 测试处理器按优先级调用
func (suite *BusTestSuite) TestHandlerPriority() {
	var order []string
	suite.bus.AddHandler("ev", func(args Args) any {
		order = append(order, "low")
		return nil
	}, 1)
	suite.bus.AddHandler("ev", func(args Args) any {
		order = append(order, "high")
		return nil
	}, 10)
	suite.bus.AddHandler("ev", func(args Args) any {
		order = append(order, "mid")
		return nil
	}, 5)

	suite.bus.Post("ev", nil)
	suite.Equal([]string{"high", "mid", "low"}, order)
}

// 测试同优先级按注册顺序
func (suite *BusTestSuite) TestSamePriorityKeepsOrder() {
	var order []int
	for i := 0; i < 5; i++ {
		n := i
		suite.bus.AddHandler("ev", func(args Args) any {
			order = append(order, n)
			return nil
		}, 0)
	}

	suite.bus.Post("ev", nil)
	suite.Equal([]int{0, 1, 2, 3, 4}, order)
}

// 测试移除处理器
func (suite *BusTestSuite) TestRemoveHandler() {
	calls := 0
	key := suite.bus.AddHandler("ev", func(args Args) any {
		calls++
		return nil
	}, 0)

	suite.bus.Post("ev", nil)
	suite.Equal(1, calls)
	suite.True(suite.bus.HasHandlers("ev"))

	suite.bus.RemoveHandler(key)
	suite.False(suite.bus.HasHandlers("ev"))
	suite.bus.Post("ev", nil)
	suite.Equal(1, calls)
}

// 测试派发中发布的事件排队到当前事件之后
func (suite *BusTestSuite) TestNestedPostIsSerialized() {
	var order []string
	suite.bus.AddHandler("outer", func(args Args) any {
		order = append(order, "outer_start")
		suite.bus.Post("inner", nil)
		order = append(order, "outer_end")
		return nil
	}, 0)
	suite.bus.AddHandler("inner", func(args Args) any {
		order = append(order, "inner")
		return nil
	}, 0)

	suite.bus.Post("outer", nil)
	suite.Equal([]string{"outer_start", "outer_end", "inner"}, order)
}

// 测试回调在它之前发布的事件处理完后才执行
func (suite *BusTestSuite) TestCallbackRunsAfterPostedEvents() {
	var order []string
	suite.bus.AddHandler("ev", func(args Args) any {
		suite.bus.Post("side", nil)
		return nil
	}, 0)
	suite.bus.AddHandler("side", func(args Args) any {
		order = append(order, "side")
		return nil
	}, 0)

	suite.bus.PostCallback("ev", nil, func(args Args) {
		order = append(order, "callback")
	})
	suite.Equal([]string{"side", "callback"}, order)
}

// 测试布尔事件被false中止
func (suite *BusTestSuite) TestBooleanEventStopsOnFalse() {
	reached := false
	suite.bus.AddHandler("ask", func(args Args) any {
		return false
	}, 10)
	suite.bus.AddHandler("ask", func(args Args) any {
		reached = true
		return nil
	}, 0)

	var result any
	suite.bus.PostBoolean("ask", nil, func(args Args) {
		result = args[KeyResult]
	})

	suite.False(reached)
	suite.Equal(false, result)
}

// 测试接力事件合并参数传递
func (suite *BusTestSuite) TestRelayEventMergesArgs() {
	suite.bus.AddHandler("relay", func(args Args) any {
		return Args{"balls": args.Int("balls") + 1}
	}, 10)
	suite.bus.AddHandler("relay", func(args Args) any {
		return Args{"balls": args.Int("balls") + 1}
	}, 0)

	var final int
	suite.bus.PostRelay("relay", Args{"balls": 0}, func(args Args) {
		final = args.Int("balls")
	})
	suite.Equal(2, final)
}

// 测试队列事件等待全部释放后才回调
func (suite *BusTestSuite) TestQueueEventWaitsForClear() {
	var queue *Queue
	suite.bus.AddHandler("q", func(args Args) any {
		queue = args.Queue()
		queue.Wait()
		return nil
	}, 0)

	done := false
	suite.bus.PostQueue("q", nil, func(args Args) {
		done = true
	})

	suite.Require().NotNil(queue)
	suite.False(done)

	queue.Clear()
	suite.True(done)
}

// 测试无等待的队列事件立即回调
func (suite *BusTestSuite) TestQueueEventNoWaiters() {
	suite.bus.AddHandler("q", func(args Args) any { return nil }, 0)

	done := false
	suite.bus.PostQueue("q", nil, func(args Args) {
		done = true
	})
	suite.True(done)
}

// 测试没有处理器的队列事件直接回调
func (suite *BusTestSuite) TestQueueEventNoHandlers() {
	done := false
	suite.bus.PostQueue("q", nil, func(args Args) {
		done = true
	})
	suite.True(done)
}

// 测试Kill掉的队列不再回调
func (suite *BusTestSuite) TestQueueKill() {
	var queue *Queue
	suite.bus.AddHandler("q", func(args Args) any {
		queue = args.Queue()
		queue.Wait()
		return nil
	}, 0)

	done := false
	suite.bus.PostQueue("q", nil, func(args Args) {
		done = true
	})

	queue.Kill()
	queue.Clear()
	suite.False(done)
}

// 测试监视器在每次派发前被调用
func (suite *BusTestSuite) TestMonitorSeesEveryEvent() {
	var seen []string
	suite.bus.AddMonitor(func(name string, typ Type, args Args) {
		seen = append(seen, name)
	})
	suite.bus.AddHandler("a", func(args Args) any {
		suite.bus.Post("b", nil)
		return nil
	}, 0)

	suite.bus.Post("a", nil)
	// 无处理器的事件也会过监视器
	suite.Equal([]string{"a", "b"}, seen)
}

// 测试处理器在派发中被移除后不再调用
func (suite *BusTestSuite) TestHandlerRemovedMidDispatch() {
	var secondKey HandlerKey
	called := false
	suite.bus.AddHandler("ev", func(args Args) any {
		suite.bus.RemoveHandler(secondKey)
		return nil
	}, 10)
	secondKey = suite.bus.AddHandler("ev", func(args Args) any {
		called = true
		return nil
	}, 0)

	suite.bus.Post("ev", nil)
	suite.False(called)
}

// 测试参数读取辅助函数
func (suite *BusTestSuite) TestArgsAccessors() {
	args := Args{"n": 3, "s": "trough", "b": true}
	suite.Equal(3, args.Int("n"))
	suite.Equal(0, args.Int("missing"))
	suite.Equal("trough", args.String("s"))
	suite.Equal("", args.String("n"))
	suite.True(args.Bool("b"))
	suite.False(args.Bool("missing"))
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusTestSuite))
}
