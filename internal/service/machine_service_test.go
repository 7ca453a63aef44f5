package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/models"
	"github.com/wfunc/pinball/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// captureSink 收集实时事件的测试出口
type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (s *captureSink) Publish(name string, args map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// MachineServiceTestSuite 机台服务测试套件
// 走真实时钟，机台配置用很短的稳定窗口让用例跑得快
type MachineServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service *MachineService
	sink    *captureSink
	ctx     context.Context
}

func (suite *MachineServiceTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.ctx = context.Background()
	suite.sink = &captureSink{}

	cfg := &config.Config{
		Serial:  config.SerialConfig{Enabled: false, MockMode: true},
		Machine: suite.machineConfig(),
	}
	cfg.Machine.ApplyDefaults()
	suite.Require().NoError(cfg.Machine.Validate())

	svc, err := NewMachineService(cfg, suite.db, zap.NewNop())
	suite.Require().NoError(err)
	suite.service = svc
	svc.SetEventSink(suite.sink)

	// 三颗球都在料槽里，开机即可完成首次清点
	drv := svc.MockDriver()
	suite.Require().NotNil(drv)
	drv.SetSwitch(1, true)
	drv.SetSwitch(2, true)
	drv.SetSwitch(3, true)

	suite.Require().NoError(svc.Start())
}

func (suite *MachineServiceTestSuite) TearDownTest() {
	suite.service.Stop()
	repository.CleanupTestDB(suite.db)
}

func (suite *MachineServiceTestSuite) machineConfig() config.MachineConfig {
	return config.MachineConfig{
		MinBalls:     3,
		TickInterval: 2 * time.Millisecond,
		Playfields: map[string]config.PlayfieldConfig{
			"playfield": {
				Tags:          []string{"default"},
				DefaultSource: "trough",
			},
		},
		Devices: map[string]config.DeviceConfig{
			"trough": {
				BallSwitches:        []string{"trough_1", "trough_2", "trough_3"},
				EjectCoil:           "trough_coil",
				EjectTargets:        []string{"playfield"},
				EjectTimeouts:       []time.Duration{time.Second},
				BallMissingTimeouts: []time.Duration{5 * time.Second},
				Tags:                []string{"trough", "drain", "home"},
				EntranceCountDelay:  5 * time.Millisecond,
				ExitCountDelay:      5 * time.Millisecond,
			},
		},
		Switches: map[string]config.SwitchConfig{
			"trough_1": {Number: 1},
			"trough_2": {Number: 2},
			"trough_3": {Number: 3},
			"pf_hit":   {Number: 10, Tags: []string{"playfield_active"}},
		},
		Coils: map[string]config.CoilConfig{
			"trough_coil": {Number: 1, DefaultPulse: 10 * time.Millisecond},
		},
	}
}

// 测试启动后的状态快照
func (suite *MachineServiceTestSuite) TestStatus() {
	suite.Eventually(func() bool {
		status, err := suite.service.Status(suite.ctx)
		if err != nil {
			return false
		}
		return status.NumBallsKnown == 3
	}, 2*time.Second, 20*time.Millisecond)

	status, err := suite.service.Status(suite.ctx)
	suite.NoError(err)
	suite.True(status.Connected)
	suite.Len(status.Devices, 2)

	names := map[string]string{}
	for _, d := range status.Devices {
		names[d.Name] = d.Kind
	}
	suite.Equal(models.DeviceKindDevice, names["trough"])
	suite.Equal(models.DeviceKindPlayfield, names["playfield"])
}

// 测试单个装置查询
func (suite *MachineServiceTestSuite) TestDeviceStatus() {
	suite.Eventually(func() bool {
		snap, err := suite.service.DeviceStatus(suite.ctx, "trough")
		return err == nil && snap.Balls == 3
	}, 2*time.Second, 20*time.Millisecond)

	snap, err := suite.service.DeviceStatus(suite.ctx, "trough")
	suite.NoError(err)
	suite.Equal("idle", snap.State)

	_, err = suite.service.DeviceStatus(suite.ctx, "nope")
	suite.Error(err)
	suite.Equal(errors.ErrDeviceNotFound, errors.GetCode(err))
}

// 测试机台事件落库和实时推送
func (suite *MachineServiceTestSuite) TestEventsPersistedAndPublished() {
	// 首次清点会发machine_ball_count_change
	suite.Eventually(func() bool {
		events, err := suite.service.RecentEvents(suite.ctx, 50)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Event == "machine_ball_count_change" {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	suite.Contains(suite.sink.names(), "machine_ball_count_change")

	// 底层开关事件不落库
	events, err := suite.service.RecentEvents(suite.ctx, 100)
	suite.NoError(err)
	for _, ev := range events {
		suite.NotContains(ev.Event, "sw_")
	}
}

// 测试装置快照周期落库
func (suite *MachineServiceTestSuite) TestDeviceSnapshotsPersisted() {
	repo := repository.NewDeviceStatusRepository(suite.db)
	suite.Eventually(func() bool {
		st, err := repo.FindByName(suite.ctx, "trough")
		return err == nil && st != nil && st.Balls == 3
	}, 3*time.Second, 100*time.Millisecond)
}

// 测试收球命令
func (suite *MachineServiceTestSuite) TestCollectBalls() {
	suite.Eventually(func() bool {
		status, err := suite.service.Status(suite.ctx)
		return err == nil && status.NumBallsKnown == 3
	}, 2*time.Second, 20*time.Millisecond)

	suite.NoError(suite.service.CollectBalls(suite.ctx, "home"))

	// 球都已在家，开局检查直接放行
	suite.NoError(suite.service.RequestToStartGame(suite.ctx))
}

// 测试装置复位的参数校验
func (suite *MachineServiceTestSuite) TestResetDevice() {
	err := suite.service.ResetDevice(suite.ctx, "nope")
	suite.Error(err)
	suite.Equal(errors.ErrDeviceNotFound, errors.GetCode(err))

	// 装置不在eject_broken时拒绝复位
	err = suite.service.ResetDevice(suite.ctx, "trough")
	suite.Error(err)
	suite.Equal(errors.ErrDeviceNotResettable, errors.GetCode(err))
}

// 测试寻球屏蔽开关
func (suite *MachineServiceTestSuite) TestBallSearchBlock() {
	suite.NoError(suite.service.SetBallSearchBlocked(suite.ctx, "playfield", true))
	suite.NoError(suite.service.SetBallSearchBlocked(suite.ctx, "playfield", false))

	err := suite.service.SetBallSearchBlocked(suite.ctx, "nope", true)
	suite.Error(err)
	suite.Equal(errors.ErrDeviceNotFound, errors.GetCode(err))
}

func TestMachineServiceSuite(t *testing.T) {
	suite.Run(t, new(MachineServiceTestSuite))
}

// 事件筛选的纯函数测试
func TestShouldPersist(t *testing.T) {
	cases := map[string]bool{
		"sw_trough_1_active":               false,
		"machine_ball_count_change":        true,
		"balldevice_trough_ball_enter":     true,
		"playfield_playfield_ball_arrived": true,
		"ball_search_started":              true,
		"collecting_balls":                 true,
		"random_other_event":               false,
	}
	for name, want := range cases {
		if got := shouldPersist(name); got != want {
			t.Errorf("shouldPersist(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestEventSource(t *testing.T) {
	cases := map[string]string{
		"balldevice_trough_ball_enter":     "trough",
		"playfield_playfield_ball_arrived": "playfield",
		"machine_ball_count_change":        "",
	}
	for name, want := range cases {
		if got := eventSource(name); got != want {
			t.Errorf("eventSource(%q) = %q, want %q", name, got, want)
		}
	}
}
