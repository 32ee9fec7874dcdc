package netutil

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// DialFunc 与 http.Transport.DialContext 签名一致
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewDialer 根据上游代理地址构造拨号函数，支持socks5/http/https认证代理
// proxyAddr 为空时直连
func NewDialer(proxyAddr string, timeout time.Duration) (DialFunc, error) {
	base := &net.Dialer{Timeout: timeout}
	if strings.TrimSpace(proxyAddr) == "" {
		return base.DialContext, nil
	}

	u, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("解析代理地址失败: %w", err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pass}
		}
		socksDialer, err := proxy.SOCKS5("tcp", u.Host, auth, base)
		if err != nil {
			return nil, fmt.Errorf("创建socks5拨号器失败: %w", err)
		}
		if cd, ok := socksDialer.(proxy.ContextDialer); ok {
			return cd.DialContext, nil
		}
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			return socksDialer.Dial(network, addr)
		}, nil

	case "http", "https":
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialConnect(ctx, base, u, network, addr)
		}, nil
	}

	return nil, fmt.Errorf("未知代理类型: %s", u.Scheme)
}

// dialConnect 通过 HTTP CONNECT 隧道建立连接
func dialConnect(ctx context.Context, base *net.Dialer, proxyURL *url.URL, network, address string) (net.Conn, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("http/https代理仅支持tcp网络")
	}
	conn, err := base.DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("连接代理失败: %w", err)
	}

	target := address
	if !strings.Contains(target, ":") {
		target += ":80"
	}
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if proxyURL.User != nil {
		user := proxyURL.User.Username()
		pass, _ := proxyURL.User.Password()
		b64 := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
		req += "Proxy-Authorization: " + b64 + "\r\n"
	}
	req += "\r\n"

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("发送CONNECT请求失败: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("读取CONNECT响应失败: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("代理拒绝CONNECT: %s", resp.Status)
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}
