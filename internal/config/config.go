// config.go
// 配置加载与类型定义
package config

import (
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// PortalConfig 门户地址与登录行为配置
type PortalConfig struct {
	StatusURL       string `toml:"status_url"`
	LoginURL        string `toml:"login_url"`
	IPv4EchoURL     string `toml:"ipv4_echo_url"`
	IPv6EchoURL     string `toml:"ipv6_echo_url"`
	MaxRedirectHops int    `toml:"max_redirect_hops"`
	StrictSession   bool   `toml:"strict_session"`
	UserAgent       string `toml:"user_agent"`
	// 单次请求超时（秒）
	Timeout int `toml:"timeout"`
}

// PollConfig 状态轮询配置
type PollConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	InitialDelayMS  int `toml:"initial_delay_ms"`
	// 状态汇总日志间隔（分钟）
	SummaryIntervalMinutes int `toml:"summary_interval_minutes"`
}

// SelectorConfig 状态页字段选择器，门户页面结构变化时只需修改这里
type SelectorConfig struct {
	MaxQuota  string `toml:"max_quota"`
	Remaining string `toml:"remaining"`
	User      string `toml:"user"`
	IPv4      string `toml:"ipv4"`
	IPv6      string `toml:"ipv6"`
	Status    string `toml:"status"`
}

// TransportConfig 出站请求配置
// Proxy 支持 socks5:// 与 http:// 两种上游代理，留空直连
type TransportConfig struct {
	Proxy              string  `toml:"proxy"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	Burst              int     `toml:"burst"`
	InsecureSkipVerify bool    `toml:"insecure_skip_verify"`
}

// LogConfig 日志配置
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	LogDir  string `toml:"log_dir"`
	Color   bool   `toml:"color"`
	Debug   bool   `toml:"debug"`
}

// APIServerConfig API服务器配置
type APIServerConfig struct {
	Switch string `toml:"switch"`
	Token  string `toml:"token"`
	Port   int    `toml:"port"`
}

// HookConfig 状态钩子脚本配置
type HookConfig struct {
	Switch     string `toml:"switch"`
	HookFolder string `toml:"hook_folder"`
}

// NotifyConfig 状态广播配置。Type 为 redis 时通过 PUBLISH 推送快照，为 file 时追加写入 FileName
type NotifyConfig struct {
	Type          string `toml:"type"`
	FileName      string `toml:"file_name"`
	RedisHost     string `toml:"redis_host"`
	RedisPort     int    `toml:"redis_port"`
	RedisPassword string `toml:"redis_password"`
	Channel       string `toml:"channel"`
}

// Config 是全局配置结构体
type Config struct {
	Portal    PortalConfig    `toml:"portal"`
	Poll      PollConfig      `toml:"poll"`
	Selectors SelectorConfig  `toml:"selectors"`
	Transport TransportConfig `toml:"transport"`
	Log       LogConfig       `toml:"log"`
	APIServer APIServerConfig `toml:"apiserver"`
	Hook      HookConfig      `toml:"hook"`
	Notify    NotifyConfig    `toml:"notify"`
}

// 剩余流量所在的表格单元格，位置敏感
const defaultRemainingSelector = "body > div.container-fluid > div > div.col-sm-5.col-md-4 > div > div > div > div:nth-child(2) > table > tbody > tr > td:nth-child(2) > div > span"

// Default 返回完整的默认配置
func Default() Config {
	return Config{
		Portal: PortalConfig{
			StatusURL:       "https://info.ku.ac.th",
			LoginURL:        "https://login.ku.ac.th/",
			IPv4EchoURL:     "https://v4-login3.ku.ac.th/engines/ipv4",
			IPv6EchoURL:     "https://v6-login1.ku.ac.th/engines/ipv6",
			MaxRedirectHops: 10,
			UserAgent:       "Mozilla/5.0",
			Timeout:         30,
		},
		Poll: PollConfig{
			IntervalSeconds:        30,
			InitialDelayMS:         1000,
			SummaryIntervalMinutes: 5,
		},
		Selectors: SelectorConfig{
			MaxQuota:  `small:contains("Max Quota")`,
			Remaining: defaultRemainingSelector,
			User:      `small:contains("user:")`,
			IPv4:      `small:contains("IPv4:")`,
			IPv6:      `small:contains("IPv6:")`,
			Status:    "span.badge",
		},
		Transport: TransportConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Log: LogConfig{
			LogDir: "logs",
			Color:  true,
		},
		APIServer: APIServerConfig{
			Switch: "close",
			Port:   8787,
		},
		Hook: HookConfig{
			Switch:     "close",
			HookFolder: "hooks",
		},
		Notify: NotifyConfig{
			Type:      "none",
			FileName:  "status_history.jsonl",
			RedisHost: "127.0.0.1",
			RedisPort: 6379,
			Channel:   "ku_portal:status",
		},
	}
}

// LoadConfig 负责加载 TOML 配置文件，文件中未出现的键保留默认值
func LoadConfig(path string) (Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	err = toml.Unmarshal(data, &config)

	return config, err
}

// PollInterval 轮询间隔，非正数时退回30秒
func (c Config) PollInterval() time.Duration {
	if c.Poll.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// InitialDelay 首次拉取前的延迟
func (c Config) InitialDelay() time.Duration {
	if c.Poll.InitialDelayMS < 0 {
		return 0
	}
	return time.Duration(c.Poll.InitialDelayMS) * time.Millisecond
}

// RequestTimeout 单次请求超时
func (c Config) RequestTimeout() time.Duration {
	if c.Portal.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Portal.Timeout) * time.Second
}
