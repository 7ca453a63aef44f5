package ball

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
)

// ControllerTestSuite 球数总控测试套件
type ControllerTestSuite struct {
	machineFixture
}

// 测试球齐且归位时允许开局
func (suite *ControllerTestSuite) TestStartGameReady() {
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
	suite.NoError(suite.m.Controller().RequestToStartGame())
}

// 测试球数不足拒绝开局
func (suite *ControllerTestSuite) TestStartGameInsufficientBalls() {
	cfg := suite.machineConfig()
	cfg.MinBalls = 4
	suite.buildMachine(cfg)

	err := suite.m.Controller().RequestToStartGame()
	suite.Error(err)
	suite.Equal(errors.ErrGameStartDenied, errors.GetCode(err))
}

// 测试球没归位时先收球再开局
func (suite *ControllerTestSuite) TestStartGameTriggersCollect() {
	var collectStarted, collectDone int
	suite.m.Bus().AddHandler("collect_balls", func(event.Args) any {
		collectStarted++
		return nil
	}, 0)
	suite.m.Bus().AddHandler("collecting_balls_complete", func(event.Args) any {
		collectDone++
		return nil
	}, 0)

	suite.ejectOneBallToPlayfield(swTrough3)

	err := suite.m.Controller().RequestToStartGame()
	suite.Error(err)
	suite.Equal(errors.ErrGameStartDenied, errors.GetCode(err))
	suite.Equal(1, collectStarted)
	suite.Equal(0, collectDone)

	// 台面上的球排水回家，收球随即完成
	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, collectDone)

	suite.NoError(suite.m.Controller().RequestToStartGame())
}

// 测试收球会清空无关装置的存货
func (suite *ControllerTestSuite) TestCollectSweepsDevices() {
	done := 0
	suite.m.Bus().AddHandler("collecting_balls_complete", func(event.Args) any {
		done++
		return nil
	}, 0)

	// 先把一颗球安置在发射杆里
	suite.Require().NoError(suite.trough.EjectBall(suite.plunger, false))
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, suite.plunger.Balls())
	suite.Equal(StateIdle, suite.plunger.State())

	suite.m.Controller().CollectBalls("home")
	suite.Equal(StateEjecting, suite.plunger.State())

	// 球上台面再排水回家
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)
	suite.Equal(0, done)

	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, done)
	suite.Equal(3, suite.trough.Balls())
}

// 测试在册数为零时归位检查视为通过
func (suite *ControllerTestSuite) TestBallsCollectedVacuousTrue() {
	suite.buildMachineWithSwitches(suite.machineConfig(), nil)

	suite.Equal(0, suite.m.Controller().NumBallsKnown())
	suite.True(suite.m.Controller().AreBallsCollected("home"))

	// 没有球照样不许开局
	err := suite.m.Controller().RequestToStartGame()
	suite.Error(err)
	suite.Equal(errors.ErrGameStartDenied, errors.GetCode(err))
}

// 测试标签没有命中任何装置时视为已收齐
func (suite *ControllerTestSuite) TestBallsCollectedUnmatchedTag() {
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
	suite.True(suite.m.Controller().AreBallsCollected("capture_lock"))

	// 球散在台面上也一样，不存在的归位点没有归位义务
	suite.ejectOneBallToPlayfield(swTrough3)
	suite.True(suite.m.Controller().AreBallsCollected("capture_lock"))
	suite.False(suite.m.Controller().AreBallsCollected("home"))
}

// 测试判丢的球滚回装置后重新入册
func (suite *ControllerTestSuite) TestLostBallRediscoveredInTrough() {
	suite.Require().NoError(suite.trough.EjectBall(suite.plunger, false))
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.trough.State())

	// 目标迟迟不见球，确认超时后判丢
	suite.advance(2 * time.Second)
	suite.advance(8 * time.Second)
	suite.Equal(2, suite.m.Controller().NumBallsKnown())

	// 球其实卡在半路，这会儿自己滚回了料槽
	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(3, suite.trough.Balls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试球跳到另一个台面时的记账搬运和诊断事件
func (suite *ControllerTestSuite) TestPlayfieldJumpBetweenFields() {
	cfg := suite.machineConfig()
	cfg.Playfields["upper"] = config.PlayfieldConfig{DefaultSource: "trough"}
	cfg.Switches["upper_hit"] = config.SwitchConfig{Number: 11, Tags: []string{"upper_active"}}
	suite.buildMachine(cfg)

	jumps := 0
	var jumpFrom, jumpTo string
	suite.m.Bus().AddHandler("playfield_jump", func(args event.Args) any {
		jumps++
		jumpFrom = args.String("source")
		jumpTo = args.String("target")
		return nil
	}, 0)

	suite.ejectOneBallToPlayfield(swTrough3)
	suite.Equal(1, suite.pf.Balls())

	// 下台面没球却有动静，球是从主台面跳过去的
	upper := suite.m.Playfield("upper")
	suite.flip(11, true)

	suite.Equal(1, jumps)
	suite.Equal("playfield", jumpFrom)
	suite.Equal("upper", jumpTo)
	suite.Equal(0, suite.pf.Balls())
	suite.Equal(1, upper.Balls())
	suite.Equal(1, upper.AvailableBalls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试找不到出处的台面活动触发重新清点
func (suite *ControllerTestSuite) TestPhantomPlayfieldActivityRecounts() {
	jumps := 0
	suite.m.Bus().AddHandler("playfield_jump", func(event.Args) any {
		jumps++
		return nil
	}, 0)

	// 三颗球都还在料槽里，台面却有开关命中
	suite.flip(swPlayHit, true)
	suite.advance(150 * time.Millisecond)

	suite.Equal(0, jumps, "没有台面可以把球记走，不算跳台")
	suite.Equal(1, suite.pf.Balls())
	suite.Equal(suite.pf.Balls(), suite.pf.AvailableBalls())
	suite.Equal(4, suite.m.Controller().NumBallsKnown())
}

// 测试重新清点广播变化
func (suite *ControllerTestSuite) TestUpdateNumBallsKnown() {
	changes := 0
	suite.m.Bus().AddHandler("machine_ball_count_change", func(event.Args) any {
		changes++
		return nil
	}, 0)

	suite.m.Controller().UpdateNumBallsKnown()
	suite.Equal(0, changes, "数字没变不广播")

	suite.ejectOneBallToPlayfield(swTrough3)
	suite.m.Controller().UpdateNumBallsKnown()
	suite.Equal(0, changes, "球换了地方但总数不变")
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
