package ball

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/event"
)

// DeviceTestSuite 球装置状态机测试套件
type DeviceTestSuite struct {
	machineFixture
}

// 测试启动计数
func (suite *DeviceTestSuite) TestActivation() {
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(StateIdle, suite.plunger.State())
	suite.Equal(3, suite.trough.Balls())
	suite.Equal(3, suite.trough.AvailableBalls())
	suite.Equal(0, suite.plunger.Balls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试整条弹射链：料槽经发射杆上台面
func (suite *DeviceTestSuite) TestEjectChainToPlayfield() {
	suite.Require().NoError(suite.pf.AddBall(false))

	// 记账只动链路两端
	suite.Equal(2, suite.trough.AvailableBalls())
	suite.Equal(1, suite.pf.AvailableBalls())
	suite.Equal(0, suite.plunger.AvailableBalls())

	// 料槽立即开弹
	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(StateWaitingForBall, suite.plunger.State())
	suite.Equal(1, suite.drv.PulseCount(coilTrough))

	// 球离开料槽
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.trough.State())
	suite.Equal(2, suite.trough.Balls())

	// 球到达发射杆：料槽确认收工，发射杆接棒
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(StateEjecting, suite.plunger.State())
	suite.Equal(1, suite.drv.PulseCount(coilPlung))

	// 球离开发射杆，台面开关命中确认
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.plunger.State())

	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)
	suite.Equal(StateIdle, suite.plunger.State())
	suite.Equal(1, suite.pf.Balls())
	suite.Equal(2, suite.trough.Balls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试台面排水回料槽
func (suite *DeviceTestSuite) TestDrainReturnsToTrough() {
	suite.ejectOneBallToPlayfield(swTrough3)
	suite.Equal(1, suite.pf.Balls())

	// 球掉进排水口
	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)

	suite.Equal(3, suite.trough.Balls())
	suite.Equal(3, suite.trough.AvailableBalls())
	suite.Equal(0, suite.pf.Balls())
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试入场接力事件可以认领来球
func (suite *DeviceTestSuite) TestBallEnterRelayClaim() {
	suite.ejectOneBallToPlayfield(swTrough3)

	claimed := -1
	suite.m.Bus().AddHandler("balldevice_trough_ball_enter",
		func(args event.Args) any {
			claimed = args.Int("unclaimed_balls")
			return event.Args{"unclaimed_balls": 0}
		}, 200)

	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, claimed, "不速之客出现在接力事件里")
}

// 测试弹射超时重试
func (suite *DeviceTestSuite) TestFailedEjectRetries() {
	failures := 0
	suite.m.Bus().AddHandler("balldevice_trough_ball_eject_failed",
		func(event.Args) any {
			failures++
			return nil
		}, 0)

	suite.Require().NoError(suite.pf.AddBall(false))
	suite.Equal(1, suite.drv.PulseCount(coilTrough))

	// 球没出去，超时后重来
	suite.advance(2100 * time.Millisecond)
	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(2, suite.drv.PulseCount(coilTrough))
	suite.Equal(1, failures)

	// 第二次成功
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.trough.State())
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(1, failures)
}

// 测试球掉回装置触发重弹
func (suite *DeviceTestSuite) TestBallFallsBackIntoDevice() {
	suite.Require().NoError(suite.pf.AddBall(false))
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.trough.State())

	// 球滚了回来
	suite.flip(swTrough3, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(3, suite.trough.Balls())
	suite.Equal(2, suite.drv.PulseCount(coilTrough))
}

// 测试重试上限耗尽判废与复位
func (suite *DeviceTestSuite) TestEjectBrokenAndReset() {
	cfg := suite.machineConfig()
	d := cfg.Devices["trough"]
	d.MaxEjectAttempts = 2
	cfg.Devices["trough"] = d
	suite.buildMachine(cfg)

	suite.Require().NoError(suite.pf.AddBall(false))
	suite.advance(2100 * time.Millisecond)
	suite.advance(2100 * time.Millisecond)

	suite.Equal(StateEjectBroken, suite.trough.State())
	// 球还在装置里，链路记账已回滚，下游的排队请求一并撤掉
	suite.Equal(3, suite.trough.Balls())
	suite.Equal(3, suite.trough.AvailableBalls())
	suite.Equal(0, suite.pf.AvailableBalls())
	suite.Equal(StateIdle, suite.plunger.State())

	// 判废后不再自行动作
	pulses := suite.drv.PulseCount(coilTrough)
	suite.advance(5 * time.Second)
	suite.Equal(pulses, suite.drv.PulseCount(coilTrough))

	// 只有判废态可以复位
	suite.NoError(suite.trough.Reset())
	suite.Equal(StateIdle, suite.trough.State())
	suite.Error(suite.trough.Reset())
}

// 测试确认超时后球判定丢失
func (suite *DeviceTestSuite) TestLostBall() {
	suite.Require().NoError(suite.pf.AddBall(false))
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.plunger.State())

	// 台面迟迟没有动静
	suite.advance(2 * time.Second)
	suite.Equal(StateFailedConfirm, suite.plunger.State())

	suite.advance(8 * time.Second)
	suite.Equal(2, suite.m.Controller().NumBallsKnown())

	// 总控让料槽补发了一颗顶上，发射杆已在等新球
	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(StateWaitingForBall, suite.plunger.State())
}

// 测试目标满员时上游等待放行
func (suite *DeviceTestSuite) TestWaitForFullTarget() {
	suite.Require().NoError(suite.pf.AddBall(false))
	suite.Require().NoError(suite.pf.AddBall(false))
	suite.Equal(1, suite.trough.AvailableBalls())
	suite.Equal(2, suite.pf.AvailableBalls())

	// 第一颗送到发射杆
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)

	// 发射杆满员，第二颗的弹射只能等
	suite.Equal(StateWaitForEject, suite.trough.State())
	suite.Equal(1, suite.drv.PulseCount(coilTrough))

	// 发射杆出货后放行
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)
	suite.flip(swPlayHit, false)

	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(2, suite.drv.PulseCount(coilTrough))

	// 第二颗也走完
	suite.flip(swTrough2, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)

	suite.Equal(2, suite.pf.Balls())
	suite.Equal(1, suite.trough.Balls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试装置内球无故消失记到台面头上
func (suite *DeviceTestSuite) TestMissingBallGoesToPlayfield() {
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)

	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(2, suite.trough.Balls())
	suite.Equal(2, suite.trough.AvailableBalls())
	suite.Equal(1, suite.pf.Balls(), "消失的球按落在台面记账")
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试机械发射杆：没有线圈，球靠玩家打出去
func (suite *DeviceTestSuite) TestMechanicalPlunger() {
	cfg := suite.machineConfig()
	d := cfg.Devices["plunger"]
	d.EjectCoil = ""
	d.MechanicalEject = true
	cfg.Devices["plunger"] = d
	suite.buildMachine(cfg)

	suite.Require().NoError(suite.pf.AddBall(false))
	suite.Equal(StateWaitingForBallMechanical, suite.plunger.State())

	// 球到发射杆
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(StateWaitingForBallMechanical, suite.plunger.State())
	suite.Equal(1, suite.plunger.Balls())
	suite.Equal(0, suite.drv.PulseCount(coilPlung))

	// 玩家拉杆把球打上台面
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)

	suite.Equal(StateIdle, suite.plunger.State())
	suite.Equal(1, suite.pf.Balls())
	suite.Equal(3, suite.m.Controller().NumBallsKnown())
}

// 测试机械装置的不速来球也会进预备态
func (suite *DeviceTestSuite) TestMechanicalUnsolicitedIncoming() {
	cfg := suite.machineConfig()
	d := cfg.Devices["plunger"]
	d.EjectCoil = ""
	d.MechanicalEject = true
	cfg.Devices["plunger"] = d
	suite.buildMachine(cfg)

	// 直接把球弹给发射杆而不是台面
	suite.Require().NoError(suite.trough.EjectBall(suite.plunger, false))
	suite.Equal(StateWaitingForBallMechanical, suite.plunger.State())

	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, suite.plunger.Balls())

	// 玩家随后打出，台面照常到账
	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)
	suite.Equal(1, suite.pf.Balls())
	suite.Equal(StateIdle, suite.plunger.State())
}

// 测试玩家控制弹射等待触发事件
func (suite *DeviceTestSuite) TestPlayerControlledEject() {
	cfg := suite.machineConfig()
	d := cfg.Devices["plunger"]
	d.PlayerControlledEjectEvent = "launch_button"
	cfg.Devices["plunger"] = d
	suite.buildMachine(cfg)

	suite.Require().NoError(suite.pf.AddBall(true))
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)

	// 没按按钮之前线圈不动，也不会超时
	suite.Equal(StateEjecting, suite.plunger.State())
	suite.advance(3 * time.Second)
	suite.Equal(0, suite.drv.PulseCount(coilPlung))
	suite.Equal(StateEjecting, suite.plunger.State())

	// 按下发射按钮
	suite.m.Bus().Post("launch_button", nil)
	suite.Equal(1, suite.drv.PulseCount(coilPlung))

	suite.flip(swPlunger, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(swPlayHit, true)
	suite.advance(10 * time.Millisecond)
	suite.Equal(1, suite.pf.Balls())
}

// 测试无球开关装置走事件计数和假确认
func (suite *DeviceTestSuite) TestSwitchlessDeviceFakeConfirm() {
	cfg := suite.machineConfig()
	cfg.Switches["saucer_sw"] = config.SwitchConfig{Number: 20}
	cfg.Coils["saucer_coil"] = config.CoilConfig{Number: 5}
	cfg.Devices["saucer"] = config.DeviceConfig{
		Capacity:            1,
		EntranceSwitch:      "saucer_sw",
		EjectCoil:           "saucer_coil",
		EjectTargets:        []string{"playfield"},
		EjectTimeouts:       []time.Duration{2 * time.Second},
		BallMissingTimeouts: []time.Duration{10 * time.Second},
		ConfirmEjectType:    config.ConfirmTypeFake,
		EntranceCountDelay:  100 * time.Millisecond,
		ExitCountDelay:      100 * time.Millisecond,
	}
	suite.buildMachine(cfg)
	saucer := suite.m.Device("saucer")

	// 游戏层认领进洞的球，装置不自行转送
	suite.m.Bus().AddHandler("balldevice_saucer_ball_enter",
		func(event.Args) any {
			return event.Args{"unclaimed_balls": 0}
		}, 200)

	suite.ejectOneBallToPlayfield(swTrough3)
	suite.Equal(1, suite.pf.Balls())

	// 球进洞
	suite.flip(20, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, saucer.Balls())
	suite.Equal(0, suite.pf.Balls())

	// 弹回台面：无离场见证，假确认直接算成功
	suite.Require().NoError(saucer.EjectBall(nil, false))
	suite.Equal(1, suite.drv.PulseCount(5))
	suite.Equal(StateIdle, saucer.State())
	suite.Equal(0, saucer.Balls())
	suite.Equal(1, suite.pf.Balls())
}

// 测试开机时入口开关一直压着的装置按满员启动
func (suite *DeviceTestSuite) TestEntranceSwitchHeldAtBootStartsFull() {
	cfg := suite.machineConfig()
	cfg.Switches["saucer_sw"] = config.SwitchConfig{Number: 20}
	cfg.Coils["saucer_coil"] = config.CoilConfig{Number: 5}
	cfg.Devices["saucer"] = config.DeviceConfig{
		Capacity:                  1,
		EntranceSwitch:            "saucer_sw",
		EntranceSwitchFullTimeout: 100 * time.Millisecond,
		EjectCoil:                 "saucer_coil",
		EjectTargets:              []string{"playfield"},
		EjectTimeouts:             []time.Duration{2 * time.Second},
		BallMissingTimeouts:       []time.Duration{10 * time.Second},
		ConfirmEjectType:          config.ConfirmTypeFake,
		EntranceCountDelay:        100 * time.Millisecond,
		ExitCountDelay:            100 * time.Millisecond,
	}
	suite.buildMachineWithSwitches(cfg, []int{swTrough1, swTrough2, swTrough3, 20})
	saucer := suite.m.Device("saucer")

	// 开机前就有球压在洞口，首次计数不能当成空装置
	suite.Equal(StateIdle, saucer.State())
	suite.Equal(1, saucer.Balls())
	suite.Equal(1, saucer.AvailableBalls())
	suite.Equal(4, suite.m.Controller().NumBallsKnown())
}

// 测试两路并发弹射只确认真正到货的那一路
func (suite *DeviceTestSuite) TestOneArrivalConfirmsOnlyItsSource() {
	cfg := suite.machineConfig()
	d := cfg.Devices["plunger"]
	d.BallSwitches = []string{"plunger_sw", "plunger_sw2"}
	cfg.Devices["plunger"] = d
	cfg.Switches["plunger_sw2"] = config.SwitchConfig{Number: 5}
	cfg.Switches["lock_sw"] = config.SwitchConfig{Number: 6}
	cfg.Coils["lock_coil"] = config.CoilConfig{Number: 6}
	cfg.Devices["lock"] = config.DeviceConfig{
		BallSwitches:        []string{"lock_sw"},
		EjectCoil:           "lock_coil",
		EjectTargets:        []string{"plunger"},
		EjectTimeouts:       []time.Duration{2 * time.Second},
		BallMissingTimeouts: []time.Duration{10 * time.Second},
		EntranceCountDelay:  100 * time.Millisecond,
		ExitCountDelay:      100 * time.Millisecond,
	}
	suite.buildMachineWithSwitches(cfg, []int{swTrough1, swTrough2, swTrough3, 6})
	lock := suite.m.Device("lock")

	// 料槽和闸口同时向发射杆弹射
	suite.Require().NoError(suite.trough.EjectBall(suite.plunger, false))
	suite.Require().NoError(lock.EjectBall(suite.plunger, false))
	suite.Equal(StateEjecting, suite.trough.State())
	suite.Equal(StateEjecting, lock.State())

	// 两颗球都离开了出发地
	suite.flip(swTrough3, false)
	suite.advance(150 * time.Millisecond)
	suite.flip(6, false)
	suite.advance(150 * time.Millisecond)
	suite.Equal(StateBallLeft, suite.trough.State())
	suite.Equal(StateBallLeft, lock.State())

	// 只到账一颗：先登记的料槽确认收工，闸口继续等自己那颗
	suite.flip(swPlunger, true)
	suite.advance(150 * time.Millisecond)
	suite.Equal(1, suite.plunger.Balls())
	suite.Equal(StateIdle, suite.trough.State())
	suite.Equal(StateBallLeft, lock.State())
}

// 测试在途来球超时被清掉
func (suite *DeviceTestSuite) TestIncomingBallExpires() {
	lost := 0
	suite.m.Bus().AddHandler("balldevice_plunger_incoming_ball_lost",
		func(event.Args) any {
			lost++
			return nil
		}, 0)

	suite.plunger.AddIncomingBall(suite.trough)
	suite.Equal(0, suite.plunger.GetAdditionalBallCapacity())

	suite.advance(config.IncomingBallTimeout() + time.Second)
	suite.Equal(1, lost)
	suite.Equal(1, suite.plunger.GetAdditionalBallCapacity())
}

func TestDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceTestSuite))
}
