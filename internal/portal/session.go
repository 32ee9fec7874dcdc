package portal

import (
	"context"
	"strings"

	"github.com/overflow0verture/ku_portal/internal/errs"
	"github.com/overflow0verture/ku_portal/internal/extract"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/requests"
	"golang.org/x/sync/errgroup"
)

const (
	// MissingToken 登录页没有 #hashc 时提交的令牌，门户会拒绝
	MissingToken = "non"
	// Unavailable IP回显失败时的占位值
	Unavailable = "N/A"
)

var tokenRule = extract.Rule{Field: "hashc", Selector: "#hashc", Attr: "value"}

// Session 一次登录尝试所需的会话信息，用完即弃
type Session struct {
	IPv4        string
	IPv6        string
	Token       string
	TerminalURL string
}

// Collector 收集登录令牌与门户看到的本机地址
type Collector struct {
	client  *requests.Client
	ipv4URL string
	ipv6URL string
	strict  bool
}

// NewCollector strict 为 true 时，令牌缺失或两个地址都拿不到会返回 CollectError
func NewCollector(client *requests.Client, ipv4URL, ipv6URL string, strict bool) *Collector {
	return &Collector{client: client, ipv4URL: ipv4URL, ipv6URL: ipv6URL, strict: strict}
}

// Collect 解析令牌并并发查询两个IP回显接口
func (c *Collector) Collect(ctx context.Context, terminalURL, terminalHTML string) (Session, error) {
	token := MissingToken
	doc, err := extract.Parse(terminalHTML)
	if err != nil {
		return Session{}, &errs.ParseError{URL: terminalURL, Err: err}
	}
	if doc.Exists(tokenRule.Selector) {
		token = doc.Value(tokenRule)
	} else {
		logger.Warning("登录页缺少 #hashc，使用占位令牌")
	}

	var ipv4, ipv6 string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ipv4 = c.echo(gctx, c.ipv4URL)
		return nil
	})
	g.Go(func() error {
		ipv6 = c.echo(gctx, c.ipv6URL)
		return nil
	})
	_ = g.Wait()

	if c.strict {
		if token == MissingToken {
			return Session{}, &errs.CollectError{Reason: "登录页缺少会话令牌"}
		}
		if ipv4 == Unavailable && ipv6 == Unavailable {
			return Session{}, &errs.CollectError{Reason: "IPv4与IPv6回显均不可用"}
		}
	}

	logger.Login("会话信息: IPv4=%s IPv6=%s", ipv4, ipv6)
	return Session{IPv4: ipv4, IPv6: ipv6, Token: token, TerminalURL: terminalURL}, nil
}

// echo 失败时降级为 N/A，不中断登录
func (c *Collector) echo(ctx context.Context, echoURL string) string {
	resp, err := c.client.Get(ctx, echoURL)
	if err != nil {
		logger.Warning("IP回显请求失败 %s: %v", echoURL, err)
		return Unavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warning("IP回显返回 HTTP %d: %s", resp.StatusCode, echoURL)
		return Unavailable
	}
	ip := strings.TrimSpace(resp.Text)
	if ip == "" {
		return Unavailable
	}
	return ip
}
