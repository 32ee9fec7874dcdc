package status

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/overflow0verture/ku_portal/internal/config"
	"github.com/overflow0verture/ku_portal/internal/errs"
	"github.com/overflow0verture/ku_portal/internal/extract"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/requests"
)

// 字段名
const (
	FieldMaxQuota  = "max_quota"
	FieldRemaining = "remaining"
	FieldUser      = "user"
	FieldIPv4      = "ipv4"
	FieldIPv6      = "ipv6"
	FieldStatus    = "status"
)

// 门户对未登录用户显示的状态文字
const NotAuthenticated = "Non Authenticated"

// Snapshot 一次状态拉取的完整结果，只整体替换
type Snapshot struct {
	MaxQuotaGB  float64 `json:"max_quota_gb"`
	RemainingGB float64 `json:"remaining_gb"`
	User        string  `json:"user"`
	IPv4        string  `json:"ipv4"`
	IPv6        string  `json:"ipv6"`
	Status      string  `json:"status"`
}

// Placeholder 首次拉取完成前展示的内容
func Placeholder() Snapshot {
	const loading = "Loading..."
	return Snapshot{User: loading, IPv4: loading, IPv6: loading, Status: loading}
}

// UsedGB 已用流量，不小于0
func (s Snapshot) UsedGB() float64 {
	used := s.MaxQuotaGB - s.RemainingGB
	if used < 0 {
		return 0
	}
	return used
}

// UsedRatio 已用比例，总额为0时返回0
func (s Snapshot) UsedRatio() float64 {
	if s.MaxQuotaGB <= 0 {
		return 0
	}
	return s.UsedGB() / s.MaxQuotaGB
}

// Authenticated 门户是否认为当前地址已登录
func (s Snapshot) Authenticated() bool {
	return s.Status != "" && s.Status != NotAuthenticated
}

// Summary 供日志与命令行输出的一行摘要
func (s Snapshot) Summary() string {
	return fmt.Sprintf("用户 %s | 状态 %s | 剩余 %s / %s GB (已用 %s%%) | IPv4 %s | IPv6 %s",
		s.User, s.Status,
		humanize.FtoaWithDigits(s.RemainingGB, 2),
		humanize.FtoaWithDigits(s.MaxQuotaGB, 2),
		humanize.FtoaWithDigits(s.UsedRatio()*100, 1),
		s.IPv4, s.IPv6)
}

// Rules 根据选择器配置生成抽取规则
func Rules(sel config.SelectorConfig) []extract.Rule {
	return []extract.Rule{
		{Field: FieldMaxQuota, Selector: sel.MaxQuota, StripPrefixes: []string{"Max Quota "}, StripSuffixes: []string{" GB"}},
		{Field: FieldRemaining, Selector: sel.Remaining, StripSuffixes: []string{" GB"}},
		{Field: FieldUser, Selector: sel.User, StripPrefixes: []string{"user: "}},
		{Field: FieldIPv4, Selector: sel.IPv4, StripPrefixes: []string{"IPv4: "}},
		{Field: FieldIPv6, Selector: sel.IPv6, StripPrefixes: []string{"IPv6: "}},
		{Field: FieldStatus, Selector: sel.Status},
	}
}

// DefaultRules 默认选择器对应的规则
func DefaultRules() []extract.Rule {
	return Rules(config.Default().Selectors)
}

// Parse 从状态页HTML构造快照，缺失字段取零值
func Parse(html string, rules []extract.Rule) (Snapshot, error) {
	fields, err := extract.Extract(html, rules)
	if err != nil {
		return Snapshot{}, err
	}
	maxQuota := extract.ParseFloat(fields[FieldMaxQuota])
	if maxQuota < 0 {
		maxQuota = 0
	}
	return Snapshot{
		MaxQuotaGB:  maxQuota,
		RemainingGB: extract.ParseFloat(fields[FieldRemaining]),
		User:        fields[FieldUser],
		IPv4:        fields[FieldIPv4],
		IPv6:        fields[FieldIPv6],
		Status:      fields[FieldStatus],
	}, nil
}

// Fetcher 拉取并解析状态页
type Fetcher struct {
	client *requests.Client
	url    string
	rules  atomic.Pointer[[]extract.Rule]
}

// NewFetcher 创建状态拉取器
func NewFetcher(client *requests.Client, statusURL string, rules []extract.Rule) *Fetcher {
	f := &Fetcher{client: client, url: statusURL}
	f.SetRules(rules)
	return f
}

// SetRules 整体替换抽取规则，配置热加载时调用
func (f *Fetcher) SetRules(rules []extract.Rule) {
	cp := make([]extract.Rule, len(rules))
	copy(cp, rules)
	f.rules.Store(&cp)
}

// Fetch 发起一次GET并解析
func (f *Fetcher) Fetch(ctx context.Context) (Snapshot, error) {
	resp, err := f.client.Get(ctx, f.url)
	if err != nil {
		return Snapshot{}, &errs.NetworkError{Op: "GET", URL: f.url, Err: err}
	}
	logger.Debug("状态页返回 HTTP %d，%d 字节", resp.StatusCode, len(resp.Content))

	snap, err := Parse(resp.Text, *f.rules.Load())
	if err != nil {
		return Snapshot{}, &errs.ParseError{URL: f.url, Err: err}
	}
	return snap, nil
}
