package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/overflow0verture/ku_portal/internal/config"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// 事件类型
const (
	EventStatus = "status"
	EventLogin  = "login"
)

// Event 广播消息体
type Event struct {
	Type      string           `json:"type"`
	Time      time.Time        `json:"time"`
	State     *scheduler.State `json:"state,omitempty"`
	User      string           `json:"user,omitempty"`
	Success   bool             `json:"success,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	UsedRatio float64          `json:"used_ratio,omitempty"`
}

// StatusEvent 由发布的状态构造事件
func StatusEvent(st scheduler.State) Event {
	return Event{
		Type:      EventStatus,
		Time:      time.Now(),
		State:     &st,
		UsedRatio: st.Snapshot.UsedRatio(),
	}
}

// LoginEvent 由登录结果构造事件，不含密码
func LoginEvent(creds portal.Credentials, o portal.Outcome) Event {
	return Event{
		Type:    EventLogin,
		Time:    time.Now(),
		User:    creds.Username,
		Success: o.Success,
		Reason:  o.Reason,
	}
}

// Notifier 状态广播统一接口，支持本地文件和Redis两种实现
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop 不做任何事的广播器
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// FileNotifier 每个事件追加一行JSON
type FileNotifier struct {
	mu       sync.Mutex
	filename string
}

// NewFileNotifier 新建文件广播器，文件不存在时在首次写入时创建
func NewFileNotifier(filename string) *FileNotifier {
	return &FileNotifier{filename: filename}
}

func (n *FileNotifier) Publish(_ context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := os.OpenFile(n.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (n *FileNotifier) Close() error { return nil }

// RedisNotifier 通过 PUBLISH 推送事件，同时把最新状态写入 <channel>:latest
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier 新建Redis广播器
func NewRedisNotifier(host string, port int, password, channel string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       0,
	})
	return &RedisNotifier{client: client, channel: channel}
}

// LatestKey 保存最新状态的键
func (n *RedisNotifier) LatestKey() string {
	return n.channel + ":latest"
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.channel, payload)
	if ev.Type == EventStatus {
		pipe.Set(ctx, n.LatestKey(), payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("推送到Redis失败: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// InitNotifier 按配置选择广播实现
func InitNotifier(cfg config.NotifyConfig) Notifier {
	switch cfg.Type {
	case "redis":
		logger.Info("使用Redis广播状态，频道 %s", cfg.Channel)
		return NewRedisNotifier(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.Channel)
	case "file":
		logger.Info("状态记录追加写入 %s", cfg.FileName)
		return NewFileNotifier(cfg.FileName)
	default:
		return Nop{}
	}
}

// Forward 把轮询状态转发给广播器，超时与失败只记日志
func Forward(n Notifier, timeout time.Duration) func(scheduler.State) {
	return func(st scheduler.State) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Publish(ctx, StatusEvent(st)); err != nil {
			logger.Error("广播状态失败: %v", err)
		}
	}
}

// ForwardLogin 把登录结果转发给广播器
func ForwardLogin(n Notifier, timeout time.Duration) func(portal.Credentials, portal.Outcome) {
	return func(creds portal.Credentials, o portal.Outcome) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Publish(ctx, LoginEvent(creds, o)); err != nil {
			logger.Error("广播登录结果失败: %v", err)
		}
	}
}
