package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/overflow0verture/ku_portal/internal/errs"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/requests"
)

// Credentials 用户输入的账号密码，只在一次登录内使用
type Credentials struct {
	Username string
	Password string
}

// Outcome 登录结果
type Outcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`

	statusCode int
}

// Succeeded 登录成功
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed 登录失败，reason 原样展示给用户
func Failed(reason string) Outcome { return Outcome{Reason: reason} }

// Rejected 门户返回非200
func Rejected(statusCode int) Outcome {
	return Outcome{
		Reason:     fmt.Sprintf("登录失败 (HTTP %d)，请检查账号密码", statusCode),
		statusCode: statusCode,
	}
}

// Err 失败时返回 *errs.LoginFailure，成功返回 nil
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &errs.LoginFailure{Reason: o.Reason, StatusCode: o.statusCode}
}

const loginPath = "/index.jsp?action=login"

// LoginURL 终点页地址拼接登录接口
func LoginURL(terminalURL string) string {
	return strings.TrimRight(terminalURL, "/") + loginPath
}

type param struct{ key, value string }

// EncodeForm 按固定顺序编码表单，键和值都做查询串转义
func EncodeForm(creds Credentials, s Session) string {
	params := []param{
		{"username", creds.Username},
		{"password", creds.Password},
		{"ipv4", s.IPv4},
		{"ipv6", s.IPv6},
		{"loginType", "specific"},
		{"loginMethod", "ldap"},
		{"submit", "Log In"},
		{"hashc", s.Token},
		{"mac", ""},
		{"hash", ""},
	}
	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(pairs, "&")
}

// Submitter 提交登录表单
type Submitter struct {
	client *requests.Client
}

// NewSubmitter 创建登录提交器
func NewSubmitter(client *requests.Client) *Submitter {
	return &Submitter{client: client}
}

// Submit 只有 HTTP 200 视为成功。成功后是否刷新状态由调用方决定
func (s *Submitter) Submit(ctx context.Context, creds Credentials, session Session) Outcome {
	target := LoginURL(session.TerminalURL)
	body := EncodeForm(creds, session)

	logger.Login("提交登录: POST %s", target)
	logger.Debug("登录请求体: %s", EncodeForm(Credentials{Username: creds.Username, Password: "******"}, session))

	resp, err := s.client.Post(ctx, target, requests.RequestOptions{
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"User-Agent":   "Mozilla/5.0",
		},
		Data: body,
	})
	if err != nil {
		logger.Error("登录请求失败: %v", err)
		return Failed("登录请求失败，无法连接门户: " + err.Error())
	}

	logger.Debug("登录返回 HTTP %d", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return Rejected(resp.StatusCode)
	}
	return Succeeded()
}

// Portal 串联跳转解析、会话收集与表单提交
type Portal struct {
	entryURL  string
	resolver  *Resolver
	collector *Collector
	submitter *Submitter
}

// Options 门户登录参数
type Options struct {
	EntryURL      string
	IPv4EchoURL   string
	IPv6EchoURL   string
	MaxHops       int
	StrictSession bool
}

// New 使用同一个客户端构造完整的登录流程
func New(client *requests.Client, opts Options) *Portal {
	return &Portal{
		entryURL:  opts.EntryURL,
		resolver:  NewResolver(client, opts.MaxHops),
		collector: NewCollector(client, opts.IPv4EchoURL, opts.IPv6EchoURL, opts.StrictSession),
		submitter: NewSubmitter(client),
	}
}

// Login 完整登录一次，任何阶段的错误都转为失败结果
func (p *Portal) Login(ctx context.Context, creds Credentials) Outcome {
	terminal, err := p.resolver.Resolve(ctx, p.entryURL)
	if err != nil {
		logger.Error("解析登录页失败: %v", err)
		return failedFrom(err)
	}

	session, err := p.collector.Collect(ctx, terminal.URL, terminal.HTML)
	if err != nil {
		logger.Error("收集会话信息失败: %v", err)
		return failedFrom(err)
	}

	outcome := p.submitter.Submit(ctx, creds, session)
	if outcome.Success {
		logger.Success("登录成功: %s", creds.Username)
	} else {
		logger.Warning("登录失败: %s", outcome.Reason)
	}
	return outcome
}

func failedFrom(err error) Outcome {
	var loop *errs.RedirectLoopError
	if errors.As(err, &loop) {
		return Failed("登录页跳转过多，门户可能配置异常")
	}
	var netErr *errs.NetworkError
	if errors.As(err, &netErr) {
		return Failed("无法连接门户: " + netErr.Err.Error())
	}
	return Failed(err.Error())
}
