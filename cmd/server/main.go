package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/wfunc/pinball/internal/api"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/database"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/logger"
	"github.com/wfunc/pinball/internal/service"
	"github.com/wfunc/pinball/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	machine    *service.MachineService
	hub        *websocket.Hub
	httpServer *http.Server

	// 关闭控制
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动弹珠机控制服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}

	if err := s.initMachine(); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return err
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.Bool("serial", s.cfg.Serial.Enabled && !s.cfg.Serial.MockMode),
	)

	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// initMachine 组装机台服务和事件广播
func (s *Server) initMachine() error {
	s.logger.Info("初始化机台...")

	machine, err := service.NewMachineService(s.cfg, database.GetDB(), s.logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "组装机台失败")
	}

	s.hub = websocket.NewHub(s.logger)
	machine.SetEventSink(s.hub)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	if err := machine.Start(); err != nil {
		return err
	}
	s.machine = machine

	s.logger.Info("机台初始化完成")
	return nil
}

// startHTTPServer 启动HTTP服务
func (s *Server) startHTTPServer() error {
	authService := service.NewAuthService(database.GetDB(), s.cfg.Security.JWT, s.logger)
	router := api.NewRouter(database.GetDB(), authService, s.machine, s.hub, s.logger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务监听", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))

	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停HTTP，不再接收新请求
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP服务关闭失败", zap.Error(err))
		}
	}

	// 停掉机台循环，落盘未写完的事件
	if s.machine != nil {
		s.machine.Stop()
	}
	if s.hub != nil {
		s.hub.Stop()
	}

	s.cancel()

	// 等待所有服务关闭
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// reloadConfig 重新加载配置
// 机台拓扑和数据库连接不支持热更，只接受日志等轻量配置
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg
	s.logger.Info("配置重新加载完成")
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("弹珠机控制服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("弹珠机控制服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  pinball-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  PINBALL_CONFIG_FILE    配置文件路径")
	fmt.Println("  PINBALL_SERVER_PORT    HTTP监听端口")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  pinball-server -config=/path/to/config.yaml")
	fmt.Println("  pinball-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Printf("弹珠机控制服务器 | 版本: %s | 模式: %s | PID: %d\n",
		Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("配置文件: %s\n", config.GetString("config_file"))
}
