package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/status"
)

// ErrLoginInProgress 上一次登录尚未结束时返回的原因
const ErrLoginInProgress = "login already in progress"

// Loginer 执行一次完整登录
type Loginer interface {
	Login(ctx context.Context, creds portal.Credentials) portal.Outcome
}

// Service 对界面层暴露的统一入口，界面层只与它交互
type Service struct {
	poller   *scheduler.Poller
	loginer  Loginer
	interval atomic.Int64

	loggingIn atomic.Bool
	listeners atomic.Pointer[[]func(portal.Credentials, portal.Outcome)]
}

// New 组装服务，interval 为 StartPolling 使用的间隔
func New(poller *scheduler.Poller, loginer Loginer, interval time.Duration) *Service {
	s := &Service{poller: poller, loginer: loginer}
	s.interval.Store(int64(interval))
	return s
}

// SetInterval 修改轮询间隔，正在轮询时按新间隔重启
func (s *Service) SetInterval(interval time.Duration) error {
	if time.Duration(s.interval.Swap(int64(interval))) == interval || !s.poller.Running() {
		return nil
	}
	s.poller.Stop()
	return s.poller.Start(interval)
}

// OnLogin 注册登录结果回调，只在启动阶段调用
func (s *Service) OnLogin(fn func(portal.Credentials, portal.Outcome)) {
	var next []func(portal.Credentials, portal.Outcome)
	if cur := s.listeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, fn)
	s.listeners.Store(&next)
}

// GetLatestStatus 最近一次发布的快照，不发起网络请求
func (s *Service) GetLatestStatus() status.Snapshot {
	return s.poller.Latest()
}

// State 最近一次发布的完整状态
func (s *Service) State() scheduler.State {
	return s.poller.State()
}

// Refresh 立即拉取一次状态
func (s *Service) Refresh(ctx context.Context) scheduler.State {
	return s.poller.RefreshNow(ctx)
}

// StartPolling 开始定时拉取
func (s *Service) StartPolling() error {
	return s.poller.Start(time.Duration(s.interval.Load()))
}

// StopPolling 停止定时拉取
func (s *Service) StopPolling() {
	s.poller.Stop()
}

// Polling 是否在定时拉取
func (s *Service) Polling() bool {
	return s.poller.Running()
}

// Login 同步登录，成功后立即刷新状态。同一时刻只允许一次登录
func (s *Service) Login(ctx context.Context, username, password string) portal.Outcome {
	if !s.loggingIn.CompareAndSwap(false, true) {
		logger.Warning("已有登录在进行中，忽略本次请求")
		return portal.Failed(ErrLoginInProgress)
	}
	defer s.loggingIn.Store(false)

	creds := portal.Credentials{Username: username, Password: password}
	logger.Login("开始登录: %s", username)
	outcome := s.loginer.Login(ctx, creds)

	if outcome.Success {
		s.poller.RefreshNow(ctx)
	}
	if cur := s.listeners.Load(); cur != nil {
		for _, fn := range *cur {
			fn(creds, outcome)
		}
	}
	return outcome
}

// RequestLogin 异步登录，结果写入容量为1的通道后关闭
func (s *Service) RequestLogin(ctx context.Context, username, password string) <-chan portal.Outcome {
	ch := make(chan portal.Outcome, 1)
	go func() {
		defer close(ch)
		ch <- s.Login(ctx, username, password)
	}()
	return ch
}
