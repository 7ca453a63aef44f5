package hardware

import (
	"time"

	"github.com/wfunc/pinball/internal/config"
	"go.uber.org/zap"
)

// Coil 线圈
// 对驱动的薄封装，记住编号和默认脉冲宽度
type Coil struct {
	name         string
	number       int
	defaultPulse time.Duration
	driver       Driver
	log          *zap.Logger
}

// NewCoil 创建线圈
func NewCoil(name string, cfg config.CoilConfig, driver Driver, log *zap.Logger) *Coil {
	if log == nil {
		log = zap.NewNop()
	}
	pulse := cfg.DefaultPulse
	if pulse <= 0 {
		pulse = 20 * time.Millisecond
	}
	return &Coil{
		name:         name,
		number:       cfg.Number,
		defaultPulse: pulse,
		driver:       driver,
		log:          log,
	}
}

// Name 返回线圈名
func (c *Coil) Name() string {
	return c.name
}

// DefaultPulse 默认脉冲宽度
func (c *Coil) DefaultPulse() time.Duration {
	return c.defaultPulse
}

// Pulse 脉冲线圈，d为0时使用默认脉冲宽度
func (c *Coil) Pulse(d time.Duration) error {
	if d <= 0 {
		d = c.defaultPulse
	}
	c.log.Debug("线圈脉冲",
		zap.String("coil", c.name),
		zap.Duration("pulse", d))
	if err := c.driver.PulseCoil(c.number, d); err != nil {
		c.log.Error("线圈脉冲失败",
			zap.String("coil", c.name),
			zap.Error(err))
		return err
	}
	return nil
}

// Enable 保持线圈吸合
func (c *Coil) Enable() error {
	c.log.Debug("线圈保持", zap.String("coil", c.name))
	if err := c.driver.EnableCoil(c.number); err != nil {
		c.log.Error("线圈保持失败",
			zap.String("coil", c.name),
			zap.Error(err))
		return err
	}
	return nil
}

// Disable 释放线圈
func (c *Coil) Disable() error {
	c.log.Debug("线圈释放", zap.String("coil", c.name))
	if err := c.driver.DisableCoil(c.number); err != nil {
		c.log.Error("线圈释放失败",
			zap.String("coil", c.name),
			zap.Error(err))
		return err
	}
	return nil
}
