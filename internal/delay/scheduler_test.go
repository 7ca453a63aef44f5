package delay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/clock"
)

// SchedulerTestSuite 延时调度器测试套件
type SchedulerTestSuite struct {
	suite.Suite
	clk   *clock.Manual
	sched *Scheduler
}

func (suite *SchedulerTestSuite) SetupTest() {
	suite.clk = clock.NewManual(time.Unix(1000, 0))
	suite.sched = NewScheduler(suite.clk, nil)
}

// advance 推进时钟并派发到期延时
func (suite *SchedulerTestSuite) advance(d time.Duration) {
	suite.clk.Advance(d)
	suite.sched.Dispatch(suite.clk.Now())
}

// 测试到期触发
func (suite *SchedulerTestSuite) TestFiresWhenDue() {
	fired := 0
	suite.sched.Add("count", 100*time.Millisecond, func() { fired++ })
	suite.True(suite.sched.Pending("count"))

	suite.advance(50 * time.Millisecond)
	suite.Equal(0, fired)

	// 到期时刻本身也触发
	suite.advance(50 * time.Millisecond)
	suite.Equal(1, fired)
	suite.False(suite.sched.Pending("count"))

	// 只触发一次
	suite.advance(time.Second)
	suite.Equal(1, fired)
}

// 测试同名替换把触发时间推后
func (suite *SchedulerTestSuite) TestReplaceResetsDeadline() {
	fired := 0
	suite.sched.Add("debounce", 100*time.Millisecond, func() { fired++ })

	suite.advance(80 * time.Millisecond)
	suite.sched.Reset("debounce", 100*time.Millisecond, func() { fired++ })

	suite.advance(80 * time.Millisecond)
	suite.Equal(0, fired)

	suite.advance(20 * time.Millisecond)
	suite.Equal(1, fired)
}

// 测试取消
func (suite *SchedulerTestSuite) TestRemove() {
	fired := false
	suite.sched.Add("eject_timeout", 100*time.Millisecond, func() { fired = true })
	suite.sched.Remove("eject_timeout")
	suite.sched.Remove("not_there")

	suite.advance(time.Second)
	suite.False(fired)
}

// 测试多个延时按到期先后触发
func (suite *SchedulerTestSuite) TestFiresInDeadlineOrder() {
	var order []string
	suite.sched.Add("late", 200*time.Millisecond, func() { order = append(order, "late") })
	suite.sched.Add("early", 100*time.Millisecond, func() { order = append(order, "early") })

	suite.advance(time.Second)
	suite.Equal([]string{"early", "late"}, order)
}

// 测试回调中登记的已到期延时在同一次派发中触发
func (suite *SchedulerTestSuite) TestChainedCallbackFiresSameDispatch() {
	var order []string
	suite.sched.Add("first", 100*time.Millisecond, func() {
		order = append(order, "first")
		suite.sched.Add("second", 0, func() {
			order = append(order, "second")
		})
	})

	suite.advance(100 * time.Millisecond)
	suite.Equal([]string{"first", "second"}, order)
}

// 测试回调中取消的同批延时不触发
func (suite *SchedulerTestSuite) TestCallbackCancelsSibling() {
	fired := false
	suite.sched.Add("a", 100*time.Millisecond, func() {
		suite.sched.Remove("b")
	})
	suite.sched.Add("b", 100*time.Millisecond, func() { fired = true })

	suite.advance(100 * time.Millisecond)
	suite.False(fired)
}

// 测试Next返回最近的触发时间
func (suite *SchedulerTestSuite) TestNext() {
	_, ok := suite.sched.Next()
	suite.False(ok)

	suite.sched.Add("late", 200*time.Millisecond, func() {})
	suite.sched.Add("early", 100*time.Millisecond, func() {})

	next, ok := suite.sched.Next()
	suite.True(ok)
	suite.Equal(suite.clk.Now().Add(100*time.Millisecond), next)
}

// 测试Clear清空全部
func (suite *SchedulerTestSuite) TestClear() {
	fired := false
	suite.sched.Add("a", 100*time.Millisecond, func() { fired = true })
	suite.sched.Clear()

	suite.advance(time.Second)
	suite.False(fired)
	suite.False(suite.sched.Pending("a"))
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}
