package ball

import (
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/clock"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/hardware"
	"go.uber.org/zap"
)

// 测试机台的开关和线圈编号
const (
	swTrough1  = 1
	swTrough2  = 2
	swTrough3  = 3
	swPlunger  = 4
	swPlayHit  = 10
	coilTrough = 1
	coilPlung  = 2
)

// machineFixture 各测试套件共用的机台夹具
// 一套三球机台：料槽（兼排水口）-> 发射杆 -> 台面
type machineFixture struct {
	suite.Suite

	clk *clock.Manual
	drv *hardware.MockDriver
	m   *Machine

	trough  *Device
	plunger *Device
	pf      *Playfield
}

// machineConfig 测试机台配置，用例可改完再重建
func (f *machineFixture) machineConfig() *config.MachineConfig {
	return &config.MachineConfig{
		MinBalls: 3,
		Playfields: map[string]config.PlayfieldConfig{
			"playfield": {
				Tags:                         []string{"default"},
				DefaultSource:                "trough",
				EnableBallSearch:             true,
				BallSearchTimeout:            5 * time.Second,
				BallSearchInterval:           250 * time.Millisecond,
				BallSearchPhase1:             1,
				BallSearchPhase2:             1,
				BallSearchPhase3:             1,
				BallSearchWaitAfterIteration: time.Second,
				BallSearchFailedAction:       "new_ball",
			},
		},
		Devices: map[string]config.DeviceConfig{
			"trough": {
				BallSwitches:        []string{"trough_1", "trough_2", "trough_3"},
				EjectCoil:           "trough_coil",
				EjectTargets:        []string{"plunger"},
				EjectTimeouts:       []time.Duration{2 * time.Second},
				BallMissingTimeouts: []time.Duration{10 * time.Second},
				Tags:                []string{"trough", "drain", "home"},
				EntranceCountDelay:  100 * time.Millisecond,
				ExitCountDelay:      100 * time.Millisecond,
			},
			"plunger": {
				BallSwitches:        []string{"plunger_sw"},
				EjectCoil:           "plunger_coil",
				EjectTargets:        []string{"playfield"},
				EjectTimeouts:       []time.Duration{2 * time.Second},
				BallMissingTimeouts: []time.Duration{10 * time.Second},
				ConfirmEjectType:    config.ConfirmTypeTarget,
				EntranceCountDelay:  100 * time.Millisecond,
				ExitCountDelay:      100 * time.Millisecond,
			},
		},
		Switches: map[string]config.SwitchConfig{
			"trough_1":   {Number: swTrough1},
			"trough_2":   {Number: swTrough2},
			"trough_3":   {Number: swTrough3},
			"plunger_sw": {Number: swPlunger},
			"pf_hit":     {Number: swPlayHit, Tags: []string{"playfield_active"}},
		},
		Coils: map[string]config.CoilConfig{
			"trough_coil":  {Number: coilTrough, DefaultPulse: 20 * time.Millisecond},
			"plunger_coil": {Number: coilPlung, DefaultPulse: 30 * time.Millisecond},
		},
	}
}

func (f *machineFixture) SetupTest() {
	f.buildMachine(f.machineConfig())
}

// buildMachine 按配置建机并启动，三颗球都在料槽里
func (f *machineFixture) buildMachine(cfg *config.MachineConfig) {
	f.buildMachineWithSwitches(cfg, []int{swTrough1, swTrough2, swTrough3})
}

// buildMachineWithSwitches 建机时只闭合指定开关
func (f *machineFixture) buildMachineWithSwitches(cfg *config.MachineConfig, active []int) {
	cfg.ApplyDefaults()
	f.Require().NoError(cfg.Validate())

	f.clk = clock.NewManual(time.Unix(1000, 0))
	f.drv = hardware.NewMockDriver(nil)
	f.Require().NoError(f.drv.Connect())

	m, err := NewMachine(*cfg, f.drv, f.clk, zap.NewNop())
	f.Require().NoError(err)
	f.m = m

	for _, sw := range active {
		m.HandleSwitchChange(sw, true)
	}
	f.advance(150 * time.Millisecond)
	m.Activate()

	f.trough = m.Device("trough")
	f.plunger = m.Device("plunger")
	f.pf = m.Playfield("playfield")
	f.drv.ClearActions()
}

// advance 小步推进时钟并派发到期延时
func (f *machineFixture) advance(d time.Duration) {
	const step = 10 * time.Millisecond
	for d > 0 {
		s := step
		if d < s {
			s = d
		}
		f.clk.Advance(s)
		f.m.Tick(f.clk.Now())
		d -= s
	}
}

func (f *machineFixture) flip(number int, active bool) {
	f.m.HandleSwitchChange(number, active)
}

// ejectOneBallToPlayfield 走完一颗球从料槽到台面的全程
func (f *machineFixture) ejectOneBallToPlayfield(troughSwitch int) {
	f.Require().NoError(f.pf.AddBall(false))
	f.flip(troughSwitch, false)
	f.advance(150 * time.Millisecond)
	f.flip(swPlunger, true)
	f.advance(150 * time.Millisecond)
	f.flip(swPlunger, false)
	f.advance(150 * time.Millisecond)
	f.flip(swPlayHit, true)
	f.advance(10 * time.Millisecond)
	f.flip(swPlayHit, false)
}
