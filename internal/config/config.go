package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Machine   MachineConfig   `mapstructure:"machine"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MockMode      bool          `mapstructure:"mock_mode"` // 调试模式（使用模拟控制器）
	Port          string        `mapstructure:"port"`
	BaudRate      int           `mapstructure:"baud_rate"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	RetryTimes    int           `mapstructure:"retry_times"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MachineConfig 机台配置
// 描述一台机器的台面、球装置、开关和线圈拓扑
type MachineConfig struct {
	// MinBalls 开局所需的最小已知球数
	MinBalls int `mapstructure:"min_balls"`
	// TickInterval 机台循环的调度周期
	TickInterval time.Duration `mapstructure:"tick_interval"`

	Playfields map[string]PlayfieldConfig `mapstructure:"playfields"`
	Devices    map[string]DeviceConfig    `mapstructure:"devices"`
	Switches   map[string]SwitchConfig    `mapstructure:"switches"`
	Coils      map[string]CoilConfig      `mapstructure:"coils"`
}

// PlayfieldConfig 台面配置
type PlayfieldConfig struct {
	Tags []string `mapstructure:"tags"`
	// DefaultSource 往台面补球时默认使用的发球装置
	DefaultSource string `mapstructure:"default_source"`

	EnableBallSearch bool `mapstructure:"enable_ball_search"`
	// BallSearchTimeout 台面无活动多久后开始寻球
	BallSearchTimeout time.Duration `mapstructure:"ball_search_timeout"`
	// BallSearchInterval 寻球时相邻两次触发硬件的间隔
	BallSearchInterval time.Duration `mapstructure:"ball_search_interval"`
	// BallSearchPhase1/2/3 各阶段的完整轮数
	BallSearchPhase1 int `mapstructure:"ball_search_phase_1_searches"`
	BallSearchPhase2 int `mapstructure:"ball_search_phase_2_searches"`
	BallSearchPhase3 int `mapstructure:"ball_search_phase_3_searches"`
	// BallSearchWaitAfterIteration 每轮扫完后的停顿
	BallSearchWaitAfterIteration time.Duration `mapstructure:"ball_search_wait_after_iteration"`
	// BallSearchFailedAction 寻球失败后的处置: new_ball / end_game / end_ball
	BallSearchFailedAction string `mapstructure:"ball_search_failed_action"`
}

// 弹射确认方式
const (
	ConfirmTypeCount  = "count"
	ConfirmTypeTarget = "target"
	ConfirmTypeSwitch = "switch"
	ConfirmTypeEvent  = "event"
	ConfirmTypeFake   = "fake"
)

// DeviceConfig 球装置配置
type DeviceConfig struct {
	// Capacity 容量，0表示取球开关数量
	Capacity     int      `mapstructure:"capacity"`
	BallSwitches []string `mapstructure:"ball_switches"`
	// EntranceSwitch 无实体球开关的装置用入口开关计数
	EntranceSwitch string `mapstructure:"entrance_switch"`
	// EntranceSwitchFullTimeout 开机时入口开关保持闭合超过该时长即认为装置已满
	EntranceSwitchFullTimeout time.Duration `mapstructure:"entrance_switch_full_timeout"`

	JamSwitch          string `mapstructure:"jam_switch"`
	ConfirmEjectSwitch string `mapstructure:"confirm_eject_switch"`

	EjectCoil string `mapstructure:"eject_coil"`
	HoldCoil  string `mapstructure:"hold_coil"`
	// EjectCoilJamPulse 卡球开关命中时改用的脉冲宽度
	EjectCoilJamPulse time.Duration `mapstructure:"eject_coil_jam_pulse"`
	// EjectCoilRetryPulse 第三次及以后重试时改用的脉冲宽度
	EjectCoilRetryPulse time.Duration `mapstructure:"eject_coil_retry_pulse"`

	Tags []string `mapstructure:"tags"`

	// EjectTargets 可弹射到的目标，第一个是默认目标
	EjectTargets []string `mapstructure:"eject_targets"`
	// EjectTimeouts 与EjectTargets一一对应的弹射确认超时
	EjectTimeouts []time.Duration `mapstructure:"eject_timeouts"`
	// BallMissingTimeouts 与EjectTargets一一对应的球失踪判定超时
	BallMissingTimeouts []time.Duration `mapstructure:"ball_missing_timeouts"`
	// BallMissingTarget 判定球失踪后把球记到哪个台面
	BallMissingTarget string `mapstructure:"ball_missing_target"`

	// ConfirmEjectType 弹射确认方式: count / target / switch / event / fake
	ConfirmEjectType  string `mapstructure:"confirm_eject_type"`
	ConfirmEjectEvent string `mapstructure:"confirm_eject_event"`

	MechanicalEject bool `mapstructure:"mechanical_eject"`
	// PlayerControlledEjectEvent 玩家控制弹射时等待的事件
	PlayerControlledEjectEvent string `mapstructure:"player_controlled_eject_event"`

	// EntranceCountDelay 开关翻转后等待多久才确认计数
	EntranceCountDelay time.Duration `mapstructure:"entrance_count_delay"`
	ExitCountDelay     time.Duration `mapstructure:"exit_count_delay"`

	// MaxEjectAttempts 弹射失败重试上限，0表示不限
	MaxEjectAttempts int `mapstructure:"max_eject_attempts"`

	// BallSearchOrder 寻球扫描顺序，小的先扫
	BallSearchOrder int `mapstructure:"ball_search_order"`
	// CapturesFromPlayfield 装置入球时从哪个台面扣球
	CapturesFromPlayfield string `mapstructure:"captures_from_playfield"`
}

// SwitchConfig 开关配置
type SwitchConfig struct {
	Number   int           `mapstructure:"number"`
	Tags     []string      `mapstructure:"tags"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// CoilConfig 线圈配置
type CoilConfig struct {
	Number       int           `mapstructure:"number"`
	DefaultPulse time.Duration `mapstructure:"default_pulse"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		// 设置配置文件路径
		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 设置环境变量前缀
		v.SetEnvPrefix("PINBALL")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		// 设置默认值
		setDefaults(v)

		// 读取配置文件
		if err = v.ReadInConfig(); err != nil {
			// 如果配置文件不存在，使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		// 解析配置到结构体
		cfg = &Config{}
		if err = v.Unmarshal(cfg); err != nil {
			return
		}

		cfg.Machine.ApplyDefaults()
		err = cfg.Machine.Validate()
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/pinball.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "info")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 机台默认配置
	v.SetDefault("machine.min_balls", 1)
	v.SetDefault("machine.tick_interval", "10ms")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "pinball.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		newCfg.Machine.ApplyDefaults()
		if err := newCfg.Machine.Validate(); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Println("配置已重新加载")
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt 获取整数配置
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool 获取布尔配置
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}

// Set 动态设置配置值
func Set(key string, value interface{}) {
	v.Set(key, value)
}
