package portal

import (
	"context"
	"net/url"

	"github.com/overflow0verture/ku_portal/internal/errs"
	"github.com/overflow0verture/ku_portal/internal/extract"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/requests"
)

// DefaultMaxHops 客户端跳转上限
const DefaultMaxHops = 10

// Terminal 跳转链的终点页面
type Terminal struct {
	URL  string
	HTML string
	Hops int
}

// Resolver 跟随门户页面里的 window.location 跳转
type Resolver struct {
	client  *requests.Client
	maxHops int
}

// NewResolver maxHops 非正数时使用默认上限
func NewResolver(client *requests.Client, maxHops int) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Resolver{client: client, maxHops: maxHops}
}

// Resolve 从入口地址开始逐跳请求，直到页面不再包含跳转指令
func (r *Resolver) Resolve(ctx context.Context, entryURL string) (Terminal, error) {
	current := entryURL
	hops := 0
	for {
		resp, err := r.client.Get(ctx, current)
		if err != nil {
			return Terminal{}, &errs.NetworkError{Op: "GET", URL: current, Err: err}
		}

		next, ok := extract.FindRedirect(resp.Text)
		if !ok {
			logger.Login("跳转结束，共 %d 跳，登录页: %s", hops, current)
			return Terminal{URL: current, HTML: resp.Text, Hops: hops}, nil
		}

		next = resolveReference(current, next)
		hops++
		if hops >= r.maxHops {
			return Terminal{}, &errs.RedirectLoopError{URL: next, Hops: hops}
		}
		logger.Login("第 %d 跳: %s", hops, next)
		current = next
	}
}

// resolveReference 相对地址按当前页面补全，无法解析时原样返回
func resolveReference(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}
