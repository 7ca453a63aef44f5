package hardware

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/pinball/internal/errors"
	"go.uber.org/zap"
)

// SerialPort 串口接口，测试时可替换
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialDriverConfig 串口驱动配置
type SerialDriverConfig struct {
	Port              string
	BaudRate          int
	ReadTimeout       time.Duration
	AckTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// DefaultSerialDriverConfig 默认配置
func DefaultSerialDriverConfig() *SerialDriverConfig {
	return &SerialDriverConfig{
		Port:              "/dev/ttyS3",
		BaudRate:          115200,
		ReadTimeout:       100 * time.Millisecond,
		AckTimeout:        3 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// SerialDriver 串口主控板驱动
type SerialDriver struct {
	config    *SerialDriverConfig
	port      SerialPort
	sequence  uint32 // 序列号（原子操作）
	mu        sync.RWMutex
	connected bool
	logger    *zap.Logger

	// 停止通道
	stopCh chan struct{}

	// 待确认命令
	pendingCmds map[uint16]chan error
	cmdMu       sync.Mutex

	// 回调函数
	onSwitchChange func(change *SwitchChange)
	onFaultReport  func(event *FaultEvent)
}

// NewSerialDriver 创建串口驱动
func NewSerialDriver(config *SerialDriverConfig, log *zap.Logger) *SerialDriver {
	if config == nil {
		config = DefaultSerialDriverConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &SerialDriver{
		config:      config,
		logger:      log,
		pendingCmds: make(map[uint16]chan error),
	}
}

// Connect 连接串口
func (d *SerialDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	cfg := &serial.Config{
		Name:        d.config.Port,
		Baud:        d.config.BaudRate,
		ReadTimeout: d.config.ReadTimeout,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		d.logger.Error("串口打开失败",
			zap.String("port", d.config.Port),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortOpen)
	}

	d.port = port
	d.connected = true
	d.stopCh = make(chan struct{})

	// 启动后台任务
	go d.readLoop()
	go d.heartbeatLoop()

	d.logger.Info("主控板已连接",
		zap.String("port", d.config.Port),
		zap.Int("baudrate", d.config.BaudRate))

	return nil
}

// Disconnect 断开连接
func (d *SerialDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	close(d.stopCh)

	if d.port != nil {
		if err := d.port.Close(); err != nil {
			d.logger.Error("串口关闭失败", zap.Error(err))
			return err
		}
		d.port = nil
	}

	d.connected = false
	d.logger.Info("主控板已断开")

	return nil
}

// IsConnected 检查连接状态
func (d *SerialDriver) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// PulseCoil 脉冲线圈
func (d *SerialDriver) PulseCoil(number int, duration time.Duration) error {
	pulseMs := uint16(duration / time.Millisecond)
	return d.sendCommand(CmdCoilPulse, encodeCoilPulse(number, pulseMs))
}

// EnableCoil 保持线圈
func (d *SerialDriver) EnableCoil(number int) error {
	return d.sendCommand(CmdCoilEnable, []byte{byte(number)})
}

// DisableCoil 释放线圈
func (d *SerialDriver) DisableCoil(number int) error {
	return d.sendCommand(CmdCoilDisable, []byte{byte(number)})
}

// QueryStatus 查询主控板状态，开关位图会通过事件上报
func (d *SerialDriver) QueryStatus() error {
	return d.sendCommand(CmdStatusQuery, nil)
}

// SetSwitchCallback 设置开关回调
func (d *SerialDriver) SetSwitchCallback(callback func(change *SwitchChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSwitchChange = callback
}

// SetFaultCallback 设置故障回调
func (d *SerialDriver) SetFaultCallback(callback func(event *FaultEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFaultReport = callback
}

// getNextSeq 获取下一个序列号（奇数）
func (d *SerialDriver) getNextSeq() uint16 {
	seq := atomic.AddUint32(&d.sequence, 2)
	if seq%2 == 0 {
		seq++
	}
	return uint16(seq)
}

// sendCommand 发送命令并等待ACK
func (d *SerialDriver) sendCommand(cmd byte, data []byte) error {
	if !d.IsConnected() {
		return errors.New(errors.ErrDeviceOffline)
	}

	seq := d.getNextSeq()
	frame := NewFrame(cmd, seq, data)

	respCh := make(chan error, 1)
	d.cmdMu.Lock()
	d.pendingCmds[seq] = respCh
	d.cmdMu.Unlock()

	defer func() {
		d.cmdMu.Lock()
		delete(d.pendingCmds, seq)
		d.cmdMu.Unlock()
	}()

	if err := d.writeFrame(frame); err != nil {
		return err
	}

	select {
	case err := <-respCh:
		return err
	case <-time.After(d.config.AckTimeout):
		return errors.Newf(errors.ErrSerialTimeout,
			"等待ACK超时: cmd=0x%02X seq=%d", cmd, seq)
	}
}

// writeFrame 写入数据帧
func (d *SerialDriver) writeFrame(frame *Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return errors.New(errors.ErrDeviceOffline)
	}

	data := frame.ToBytes()
	n, err := d.port.Write(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrSerialPortWrite)
	}
	if n != len(data) {
		return errors.Newf(errors.ErrSerialPortWrite, "写入不完整: %d/%d", n, len(data))
	}

	d.logger.Debug("发送帧",
		zap.Uint8("cmd", frame.Command),
		zap.Uint16("seq", frame.Sequence),
		zap.Int("len", len(data)))

	return nil
}

// readLoop 读取循环
func (d *SerialDriver) readLoop() {
	buf := make([]byte, 4096)
	frameBuf := make([]byte, 0, 4096)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.mu.RLock()
		port := d.port
		d.mu.RUnlock()
		if port == nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			if err.Error() != "EOF" {
				d.logger.Error("串口读取失败", zap.Error(err))
			}
			continue
		}

		if n == 0 {
			continue
		}
		frameBuf = append(frameBuf, buf[:n]...)

		// 尝试解析帧
		for len(frameBuf) >= int(MinFrameLen) {
			// 查找帧头
			idx := -1
			for i := 0; i < len(frameBuf); i++ {
				if frameBuf[i] == FrameHeader {
					idx = i
					break
				}
			}

			if idx < 0 {
				frameBuf = frameBuf[:0]
				break
			}
			if idx > 0 {
				frameBuf = frameBuf[idx:]
			}

			if len(frameBuf) < 3 {
				break
			}

			frameLen := binary.BigEndian.Uint16(frameBuf[1:3])
			if len(frameBuf) < int(frameLen) {
				// 数据不完整，等待更多数据
				break
			}

			frame := &Frame{}
			if err := frame.FromBytes(frameBuf[:frameLen]); err != nil {
				d.logger.Error("帧解析失败", zap.Error(err))
				frameBuf = frameBuf[1:]
				continue
			}

			d.handleFrame(frame)
			frameBuf = frameBuf[frameLen:]
		}
	}
}

// handleFrame 处理接收到的帧
func (d *SerialDriver) handleFrame(frame *Frame) {
	d.logger.Debug("收到帧",
		zap.Uint8("cmd", frame.Command),
		zap.Uint16("seq", frame.Sequence))

	switch frame.Command {
	case CmdACK:
		d.handleACK(frame, nil)
	case CmdNACK:
		d.handleNACK(frame)
	case EventSwitchChange:
		d.handleSwitchChange(frame)
	case EventStatusReport:
		d.handleStatusReport(frame)
	case EventFaultReport:
		d.handleFaultReport(frame)
	case CmdHeartbeat:
		// 主控板回发心跳，不需要处理
	default:
		d.logger.Warn("未知命令", zap.Uint8("cmd", frame.Command))
	}
}

func (d *SerialDriver) handleACK(frame *Frame, result error) {
	if len(frame.Data) < 2 {
		d.logger.Error("ACK数据长度不足")
		return
	}

	origSeq := binary.BigEndian.Uint16(frame.Data[0:2])

	d.cmdMu.Lock()
	respCh, ok := d.pendingCmds[origSeq]
	d.cmdMu.Unlock()

	if ok {
		respCh <- result
	}
}

func (d *SerialDriver) handleNACK(frame *Frame) {
	if len(frame.Data) < 4 {
		d.logger.Error("NACK数据长度不足")
		return
	}

	origSeq := binary.BigEndian.Uint16(frame.Data[0:2])
	origCmd := frame.Data[2]
	errorCode := frame.Data[3]

	d.cmdMu.Lock()
	respCh, ok := d.pendingCmds[origSeq]
	d.cmdMu.Unlock()

	if ok {
		respCh <- errors.Newf(errors.ErrInvalidResponse,
			"NACK: cmd=0x%02X, error=0x%02X", origCmd, errorCode)
	}
}

func (d *SerialDriver) handleSwitchChange(frame *Frame) {
	change, err := decodeSwitchChange(frame.Data)
	if err != nil {
		d.logger.Error("开关事件解析失败", zap.Error(err))
		return
	}

	d.mu.RLock()
	cb := d.onSwitchChange
	d.mu.RUnlock()
	if cb != nil {
		cb(change)
	}
}

// handleStatusReport 状态上报的数据是开关位图，逐位转成开关事件
func (d *SerialDriver) handleStatusReport(frame *Frame) {
	d.mu.RLock()
	cb := d.onSwitchChange
	d.mu.RUnlock()
	if cb == nil {
		return
	}

	for byteIdx, b := range frame.Data {
		for bit := 0; bit < 8; bit++ {
			cb(&SwitchChange{
				Number: byteIdx*8 + bit,
				Active: b&(1<<bit) != 0,
			})
		}
	}
}

func (d *SerialDriver) handleFaultReport(frame *Frame) {
	if len(frame.Data) < 2 {
		d.logger.Error("故障事件数据长度不足")
		return
	}

	ev := &FaultEvent{
		FaultCode: frame.Data[0],
		Level:     frame.Data[1],
	}
	d.logger.Warn("硬件故障上报",
		zap.Uint8("fault", ev.FaultCode),
		zap.Uint8("level", ev.Level))

	d.mu.RLock()
	cb := d.onFaultReport
	d.mu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

// heartbeatLoop 心跳循环
func (d *SerialDriver) heartbeatLoop() {
	ticker := time.NewTicker(d.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.sendCommand(CmdHeartbeat, nil); err != nil {
				d.logger.Error("心跳发送失败", zap.Error(err))
			}
		}
	}
}
