package main

import (
	"context"
	"strings"
	"time"

	"github.com/overflow0verture/ku_portal/internal/apiserver"
	"github.com/overflow0verture/ku_portal/internal/config"
	"github.com/overflow0verture/ku_portal/internal/hook"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/notify"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/status"
	"github.com/spf13/cobra"
)

const (
	notifyTimeout = 5 * time.Second
	configQuiet   = 500 * time.Millisecond
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "常驻运行：定时拉取状态，提供本地API，执行钩子",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, found, err := setup()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, found)
		},
	}
}

func run(ctx context.Context, cfg config.Config, watchConfig bool) error {
	a, err := newApp(cfg, scheduler.Options{InitialDelay: cfg.InitialDelay()})
	if err != nil {
		return err
	}
	defer a.poller.Stop()

	// 1. 汇总日志
	a.poller.Subscribe(func(st scheduler.State) {
		if st.Available {
			logger.StatusSummary(st.Snapshot.Summary(), false)
		}
	})

	// 2. 状态广播
	notifier := notify.InitNotifier(cfg.Notify)
	defer notifier.Close()
	a.poller.Subscribe(notify.Forward(notifier, notifyTimeout))
	a.svc.OnLogin(notify.ForwardLogin(notifier, notifyTimeout))

	// 3. 钩子脚本
	if strings.ToLower(cfg.Hook.Switch) == "open" {
		hooks := hook.NewManager(cfg.Hook.HookFolder)
		if err := hooks.Watch(); err != nil {
			logger.Error("钩子目录监控启动失败: %v", err)
		}
		defer hooks.Close()
		a.poller.Subscribe(func(st scheduler.State) { go hooks.DispatchStatus(st) })
		a.svc.OnLogin(hooks.DispatchLogin)
	}

	// 4. API服务器
	if strings.ToLower(cfg.APIServer.Switch) == "open" {
		if cfg.APIServer.Token == "" {
			logger.Warning("API服务器未设置token，所有请求都会被拒绝")
		}
		api := apiserver.NewAPIServer(a.svc, cfg.APIServer.Token, cfg.APIServer.Port)
		go func() {
			if err := api.Start(); err != nil {
				logger.Error("API服务器启动失败: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			api.Stop(shutdownCtx)
		}()
	}

	// 5. 配置热加载
	if watchConfig {
		w, err := config.Watch(configPath, configQuiet, func(next config.Config) {
			applyLogConfig(next)
			a.fetcher.SetRules(status.Rules(next.Selectors))
			if err := a.svc.SetInterval(next.PollInterval()); err != nil {
				logger.Error("更新轮询间隔失败: %v", err)
			}
		})
		if err != nil {
			logger.Error("配置文件监控启动失败: %v", err)
		} else {
			defer w.Close()
		}
	}

	// 6. 定时拉取
	if err := a.svc.StartPolling(); err != nil {
		return err
	}

	logger.Info("ku_portal 启动完成")
	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭")
	return nil
}
