package service

import (
	"context"
	"strings"
	"time"

	"github.com/wfunc/pinball/internal/ball"
	"github.com/wfunc/pinball/internal/clock"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"github.com/wfunc/pinball/internal/hardware"
	"github.com/wfunc/pinball/internal/models"
	"github.com/wfunc/pinball/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventSink 机台事件的实时出口（websocket推送等）
type EventSink interface {
	Publish(name string, args map[string]interface{})
}

// DeviceSnapshot 单个装置的状态快照
type DeviceSnapshot struct {
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	State          string `json:"state"`
	Balls          int    `json:"balls"`
	AvailableBalls int    `json:"available_balls"`
	EjectAttempts  int    `json:"eject_attempts"`
}

// MachineStatus 全机状态快照
type MachineStatus struct {
	NumBallsKnown int              `json:"num_balls_known"`
	Connected     bool             `json:"connected"`
	Devices       []DeviceSnapshot `json:"devices"`
}

// 机台循环内部通道的容量
const (
	switchQueueSize  = 256
	commandQueueSize = 64
	persistQueueSize = 1024
)

// 装置快照落库的周期（按机台循环拍数折算）
const snapshotInterval = time.Second

// MachineService 机台服务
// 拥有唯一的机台循环协程：调度派发、开关事件和外部命令都在
// 这个协程上串行执行，机台内部因此完全免锁
type MachineService struct {
	cfg   *config.Config
	log   *zap.Logger
	repos *repository.Manager

	driver  hardware.Driver
	machine *ball.Machine
	clk     clock.Clock

	sink EventSink

	switchCh  chan *hardware.SwitchChange
	commandCh chan func()
	persistCh chan *models.MachineEvent

	stopCh chan struct{}
	loopWG chan struct{}
	persWG chan struct{}
}

// NewMachineService 组装机台服务
// 按配置选择串口或模拟驱动，建好机台并挂上事件监视器
func NewMachineService(cfg *config.Config, db *gorm.DB, log *zap.Logger) (*MachineService, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var driver hardware.Driver
	if cfg.Serial.Enabled && !cfg.Serial.MockMode {
		driver = hardware.NewSerialDriver(&hardware.SerialDriverConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.Serial.ReadTimeout,
		}, log.With(zap.String("component", "serial_driver")))
	} else {
		driver = hardware.NewMockDriver(log.With(zap.String("component", "mock_driver")))
	}

	clk := clock.Wall{}
	m, err := ball.NewMachine(cfg.Machine, driver, clk, log)
	if err != nil {
		return nil, err
	}

	s := &MachineService{
		cfg:       cfg,
		log:       log.With(zap.String("component", "machine_service")),
		repos:     repository.NewManager(db),
		driver:    driver,
		machine:   m,
		clk:       clk,
		switchCh:  make(chan *hardware.SwitchChange, switchQueueSize),
		commandCh: make(chan func(), commandQueueSize),
		persistCh: make(chan *models.MachineEvent, persistQueueSize),
		stopCh:    make(chan struct{}),
		loopWG:    make(chan struct{}),
		persWG:    make(chan struct{}),
	}

	m.Bus().AddMonitor(s.onBusEvent)
	driver.SetSwitchCallback(func(change *hardware.SwitchChange) {
		select {
		case s.switchCh <- change:
		default:
			s.log.Warn("开关事件队列已满，丢弃",
				zap.Int("switch", change.Number),
				zap.Bool("active", change.Active))
		}
	})
	driver.SetFaultCallback(func(ev *hardware.FaultEvent) {
		s.log.Error("主控板上报故障",
			zap.Uint8("code", ev.FaultCode),
			zap.Uint8("level", ev.Level))
	})

	return s, nil
}

// Start 连接硬件并启动机台循环
func (s *MachineService) Start() error {
	if err := s.driver.Connect(); err != nil {
		return errors.Wrap(err, errors.ErrDeviceOffline, "硬件连接失败")
	}

	go s.persistLoop()
	go s.runLoop()

	s.log.Info("机台服务已启动",
		zap.Duration("tick_interval", s.cfg.Machine.TickInterval))
	return nil
}

// Stop 停掉机台循环并断开硬件
func (s *MachineService) Stop() {
	close(s.stopCh)
	<-s.loopWG

	close(s.persistCh)
	<-s.persWG

	if err := s.driver.Disconnect(); err != nil {
		s.log.Error("硬件断开失败", zap.Error(err))
	}
	s.log.Info("机台服务已停止")
}

// runLoop 机台循环
// 机台的一切状态变化都发生在这个协程上
func (s *MachineService) runLoop() {
	defer close(s.loopWG)

	s.machine.Activate()

	ticker := time.NewTicker(s.cfg.Machine.TickInterval)
	defer ticker.Stop()
	snapshot := time.NewTicker(snapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case change := <-s.switchCh:
			s.machine.HandleSwitchChange(change.Number, change.Active)
		case fn := <-s.commandCh:
			fn()
		case now := <-ticker.C:
			s.machine.Tick(now)
		case <-snapshot.C:
			s.snapshotDevices()
		}
	}
}

// Do 把一个函数排到机台循环上执行
func (s *MachineService) Do(fn func()) error {
	select {
	case s.commandCh <- fn:
		return nil
	case <-s.stopCh:
		return errors.New(errors.ErrCanceled, "机台循环已停止")
	}
}

// DoSync 在机台循环上执行并等待完成
func (s *MachineService) DoSync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := s.Do(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status 取全机状态快照
func (s *MachineService) Status(ctx context.Context) (*MachineStatus, error) {
	var status *MachineStatus
	err := s.DoSync(ctx, func() {
		status = s.buildStatus()
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// DeviceStatus 取单个装置的状态快照
func (s *MachineService) DeviceStatus(ctx context.Context, name string) (*DeviceSnapshot, error) {
	var snap *DeviceSnapshot
	err := s.DoSync(ctx, func() {
		for _, d := range s.collectSnapshots() {
			if d.Name == name {
				copied := d
				snap = &copied
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.Newf(errors.ErrDeviceNotFound, "装置不存在: %s", name)
	}
	return snap, nil
}

// CollectBalls 触发收球
func (s *MachineService) CollectBalls(ctx context.Context, tag string) error {
	return s.DoSync(ctx, func() {
		s.machine.Controller().CollectBalls(tag)
	})
}

// RequestToStartGame 开局前检查
func (s *MachineService) RequestToStartGame(ctx context.Context) error {
	var innerErr error
	if err := s.DoSync(ctx, func() {
		innerErr = s.machine.Controller().RequestToStartGame()
	}); err != nil {
		return err
	}
	return innerErr
}

// ResetDevice 复位标记为彻底损坏的装置
func (s *MachineService) ResetDevice(ctx context.Context, name string) error {
	var innerErr error
	if err := s.DoSync(ctx, func() {
		d := s.machine.Device(name)
		if d == nil {
			innerErr = errors.Newf(errors.ErrDeviceNotFound, "装置不存在: %s", name)
			return
		}
		innerErr = d.Reset()
	}); err != nil {
		return err
	}
	return innerErr
}

// SetBallSearchBlocked 屏蔽或放行台面寻球
func (s *MachineService) SetBallSearchBlocked(ctx context.Context, playfield string, blocked bool) error {
	var innerErr error
	if err := s.DoSync(ctx, func() {
		pf := s.machine.Playfield(playfield)
		if pf == nil {
			innerErr = errors.Newf(errors.ErrDeviceNotFound, "台面不存在: %s", playfield)
			return
		}
		if blocked {
			pf.Search().Block()
		} else {
			pf.Search().Unblock()
		}
	}); err != nil {
		return err
	}
	return innerErr
}

// RecentEvents 查询最近落库的机台事件
func (s *MachineService) RecentEvents(ctx context.Context, limit int) ([]*models.MachineEvent, error) {
	return s.repos.MachineEvent().FindRecent(ctx, limit)
}

// SetEventSink 设置实时事件出口
// 必须在Start之前调用
func (s *MachineService) SetEventSink(sink EventSink) {
	s.sink = sink
}

// MockDriver 取底层的模拟驱动，串口模式下返回nil
func (s *MachineService) MockDriver() *hardware.MockDriver {
	if m, ok := s.driver.(*hardware.MockDriver); ok {
		return m
	}
	return nil
}

func (s *MachineService) buildStatus() *MachineStatus {
	return &MachineStatus{
		NumBallsKnown: s.machine.Controller().NumBallsKnown(),
		Connected:     s.driver.IsConnected(),
		Devices:       s.collectSnapshots(),
	}
}

// collectSnapshots 在机台循环上收集装置快照
func (s *MachineService) collectSnapshots() []DeviceSnapshot {
	var snaps []DeviceSnapshot
	for _, d := range s.machine.Devices() {
		snaps = append(snaps, DeviceSnapshot{
			Name:           d.Name(),
			Kind:           models.DeviceKindDevice,
			State:          d.State().String(),
			Balls:          d.Balls(),
			AvailableBalls: d.AvailableBalls(),
			EjectAttempts:  d.EjectAttempts(),
		})
	}
	for _, pf := range s.machine.Playfields() {
		snaps = append(snaps, DeviceSnapshot{
			Name:           pf.Name(),
			Kind:           models.DeviceKindPlayfield,
			Balls:          pf.Balls(),
			AvailableBalls: pf.AvailableBalls(),
		})
	}
	return snaps
}

// snapshotDevices 把装置快照推给落库协程
func (s *MachineService) snapshotDevices() {
	now := time.Now()
	statuses := make([]*models.DeviceStatus, 0)
	for _, snap := range s.collectSnapshots() {
		statuses = append(statuses, &models.DeviceStatus{
			Name:           snap.Name,
			Kind:           snap.Kind,
			State:          snap.State,
			Balls:          snap.Balls,
			AvailableBalls: snap.AvailableBalls,
			EjectAttempts:  snap.EjectAttempts,
			LastChangeAt:   now,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repos.DeviceStatus().BatchUpsert(ctx, statuses); err != nil {
			s.log.Error("装置快照落库失败", zap.Error(err))
		}
	}()
}

// onBusEvent 事件监视器，在机台循环上被调用
// 只做筛选和入队，落库在单独协程完成
func (s *MachineService) onBusEvent(name string, typ event.Type, args event.Args) {
	if !shouldPersist(name) {
		return
	}

	snapshot := snapshotArgs(args)
	if s.sink != nil {
		s.sink.Publish(name, snapshot)
	}

	ev := &models.MachineEvent{
		Event:    name,
		Source:   eventSource(name),
		Args:     models.JSONMap(snapshot),
		PostedAt: time.Now(),
	}
	select {
	case s.persistCh <- ev:
	default:
		s.log.Warn("事件落库队列已满，丢弃", zap.String("event", name))
	}
}

// persistLoop 事件落库协程，攒一小批再写
func (s *MachineService) persistLoop() {
	defer close(s.persWG)

	const flushInterval = 200 * time.Millisecond
	batch := make([]*models.MachineEvent, 0, 64)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repos.MachineEvent().BatchCreate(ctx, batch); err != nil {
			s.log.Error("事件落库失败", zap.Error(err), zap.Int("count", len(batch)))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-s.persistCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// shouldPersist 筛掉高频的底层开关事件，只留业务层事件
func shouldPersist(name string) bool {
	if strings.HasPrefix(name, "sw_") {
		return false
	}
	switch {
	case strings.HasPrefix(name, "balldevice_"),
		strings.HasPrefix(name, "playfield_"),
		strings.HasPrefix(name, "machine_"),
		strings.HasPrefix(name, "ball_search_"),
		strings.HasPrefix(name, "collect"):
		return true
	}
	return false
}

// eventSource 从事件名里抠出来源装置
func eventSource(name string) string {
	for _, prefix := range []string{"balldevice_", "playfield_"} {
		if strings.HasPrefix(name, prefix) {
			rest := strings.TrimPrefix(name, prefix)
			if idx := strings.Index(rest, "_ball"); idx > 0 {
				return rest[:idx]
			}
			if idx := strings.Index(rest, "_"); idx > 0 {
				return rest[:idx]
			}
		}
	}
	return ""
}

// snapshotArgs 把事件参数整理成可序列化的形态
func snapshotArgs(args event.Args) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == event.KeyQueue {
			continue
		}
		switch v.(type) {
		case int, int64, float64, string, bool:
			out[k] = v
		}
	}
	return out
}
