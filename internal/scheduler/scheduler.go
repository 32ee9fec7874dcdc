package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/status"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Fetcher 状态来源
type Fetcher interface {
	Fetch(ctx context.Context) (status.Snapshot, error)
}

// State 轮询器对外发布的状态，整体替换
type State struct {
	Snapshot  status.Snapshot `json:"snapshot"`
	Available bool            `json:"available"`
	Err       string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Options 轮询器参数
type Options struct {
	// InitialDelay 构造后首次拉取的延迟
	InitialDelay time.Duration
	// SkipInitial 为 true 时不安排首次拉取
	SkipInitial bool
	// Timeout 单次拉取超时
	Timeout time.Duration
}

const fetchKey = "status"

// Poller 定时拉取状态并发布最新结果，是已发布状态的唯一写入者
type Poller struct {
	fetcher Fetcher
	timeout time.Duration

	state atomic.Pointer[State]
	group singleflight.Group
	busy  atomic.Bool

	mu        sync.Mutex
	cron      *cron.Cron
	interval  time.Duration
	initial   *time.Timer
	listeners []func(State)
}

// NewPoller 创建轮询器，并按 InitialDelay 安排一次首次拉取
func NewPoller(fetcher Fetcher, opts Options) *Poller {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	p := &Poller{fetcher: fetcher, timeout: opts.Timeout}
	p.state.Store(&State{Snapshot: status.Placeholder()})

	if !opts.SkipInitial {
		p.initial = time.AfterFunc(opts.InitialDelay, func() {
			p.RefreshNow(context.Background())
		})
	}
	return p
}

// Subscribe 注册发布回调，每次发布后按注册顺序调用
func (p *Poller) Subscribe(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Start 启动定时拉取，已在运行时忽略
func (p *Poller) Start(interval time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}
	if interval < time.Second {
		interval = time.Second
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), p.tick); err != nil {
		return fmt.Errorf("注册轮询任务失败: %w", err)
	}
	c.Start()
	p.cron = c
	p.interval = interval
	logger.Status("状态轮询已启动，间隔 %s", interval)
	return nil
}

// Stop 取消定时拉取，正在进行的请求不受影响
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initial != nil {
		p.initial.Stop()
		p.initial = nil
	}
	if p.cron == nil {
		return
	}
	p.cron.Stop()
	p.cron = nil
	logger.Status("状态轮询已停止")
}

// Running 是否处于定时拉取状态
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

// Interval 当前轮询间隔，未运行时为0
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron == nil {
		return 0
	}
	return p.interval
}

// Latest 最近一次发布的快照
func (p *Poller) Latest() status.Snapshot {
	return p.state.Load().Snapshot
}

// State 最近一次发布的完整状态
func (p *Poller) State() State {
	return *p.state.Load()
}

// tick 上一次定时拉取未结束时跳过本次
func (p *Poller) tick() {
	if !p.busy.CompareAndSwap(false, true) {
		logger.Debug("上一次状态拉取尚未结束，跳过本次")
		return
	}
	defer p.busy.Store(false)
	p.RefreshNow(context.Background())
}

// RefreshNow 立即拉取一次。并发调用共享同一次请求；ctx 取消时返回当前已发布状态
func (p *Poller) RefreshNow(ctx context.Context) State {
	ch := p.group.DoChan(fetchKey, func() (interface{}, error) {
		return p.refresh(), nil
	})
	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		return p.State()
	}
}

// refresh 只在 singleflight 内执行，保证同一时刻只有一个写入者
func (p *Poller) refresh() State {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	prev := p.State()
	snap, err := p.fetcher.Fetch(ctx)

	var next State
	if err != nil {
		logger.Error("状态拉取失败: %v", err)
		next = State{
			Snapshot:  prev.Snapshot,
			Available: false,
			Err:       err.Error(),
			UpdatedAt: prev.UpdatedAt,
		}
	} else {
		logger.Status("状态已更新: %s", snap.Status)
		next = State{Snapshot: snap, Available: true, UpdatedAt: time.Now()}
	}
	p.state.Store(&next)
	p.publish(next)
	return next
}

func (p *Poller) publish(st State) {
	p.mu.Lock()
	listeners := make([]func(State), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("状态回调异常: %v", r)
				}
			}()
			fn(st)
		}()
	}
}
