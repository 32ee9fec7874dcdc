package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overflow0verture/ku_portal/internal/config"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/requests"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/service"
	"github.com/overflow0verture/ku_portal/internal/status"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debugFlag  bool
)

func main() {
	root := &cobra.Command{
		Use:           "ku_portal",
		Short:         "KU 校园网门户状态查询与登录",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "配置文件路径")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "输出调试日志")

	root.AddCommand(newRunCmd(), newStatusCmd(), newLoginCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// loadConfig 配置文件不存在时使用默认配置
func loadConfig() (config.Config, bool, error) {
	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("配置加载失败: %w", err)
	}
	return cfg, true, nil
}

// applyLogConfig 日志相关配置，启动与热加载时都会调用
func applyLogConfig(cfg config.Config) {
	logger.SetDebug(cfg.Log.Debug || debugFlag)
	logger.SetColorSupport(cfg.Log.Color)
	if cfg.Poll.SummaryIntervalMinutes > 0 {
		logger.SummaryInterval = time.Duration(cfg.Poll.SummaryIntervalMinutes) * time.Minute
	}
}

func setup() (config.Config, bool, error) {
	cfg, found, err := loadConfig()
	if err != nil {
		return cfg, found, err
	}
	if err := logger.Setup(cfg.Log.Enabled, cfg.Log.LogDir); err != nil {
		return cfg, found, fmt.Errorf("初始化日志系统失败: %w", err)
	}
	applyLogConfig(cfg)
	if !found {
		logger.Warning("未找到配置文件 %s，使用默认配置", configPath)
	}
	return cfg, found, nil
}

// app 按配置组装的各个组件，共享同一个HTTP客户端和cookie
type app struct {
	client  *requests.Client
	fetcher *status.Fetcher
	poller  *scheduler.Poller
	portal  *portal.Portal
	svc     *service.Service
}

func newApp(cfg config.Config, pollerOpts scheduler.Options) (*app, error) {
	client, err := requests.NewClient(requests.Options{
		Timeout:            cfg.RequestTimeout(),
		Proxy:              cfg.Transport.Proxy,
		UserAgent:          cfg.Portal.UserAgent,
		RequestsPerSecond:  cfg.Transport.RequestsPerSecond,
		Burst:              cfg.Transport.Burst,
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("创建HTTP客户端失败: %w", err)
	}

	fetcher := status.NewFetcher(client, cfg.Portal.StatusURL, status.Rules(cfg.Selectors))
	pollerOpts.Timeout = cfg.RequestTimeout()
	poller := scheduler.NewPoller(fetcher, pollerOpts)

	p := portal.New(client, portal.Options{
		EntryURL:      cfg.Portal.LoginURL,
		IPv4EchoURL:   cfg.Portal.IPv4EchoURL,
		IPv6EchoURL:   cfg.Portal.IPv6EchoURL,
		MaxHops:       cfg.Portal.MaxRedirectHops,
		StrictSession: cfg.Portal.StrictSession,
	})

	return &app{
		client:  client,
		fetcher: fetcher,
		poller:  poller,
		portal:  p,
		svc:     service.New(poller, p, cfg.PollInterval()),
	}, nil
}
