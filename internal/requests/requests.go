package requests

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/overflow0verture/ku_portal/internal/netutil"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// DefaultUserAgent 门户只校验存在与否
const DefaultUserAgent = "Mozilla/5.0"

// Response HTTP响应结构
type Response struct {
	StatusCode int
	Text       string      // 按Content-Type字符集解码后的文本
	Content    []byte      // 响应原始内容
	URL        string      // 最终的URL（处理重定向后）
	Header     http.Header // 响应头
}

// RequestOptions 请求选项
type RequestOptions struct {
	Headers map[string]string // 请求头
	Data    interface{}       // POST数据: string / []byte / io.Reader / map[string]string
	Params  map[string]string // URL参数
}

// Options 客户端构造参数
type Options struct {
	Timeout            time.Duration
	Proxy              string
	UserAgent          string
	RequestsPerSecond  float64
	Burst              int
	InsecureSkipVerify bool
}

// Client 门户请求客户端，状态拉取与登录共享同一个cookie jar
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewClient 创建HTTP客户端
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	dial, err := netutil.NewDialer(opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建cookie jar失败: %w", err)
	}

	c := &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				DialContext:     dial,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			},
		},
		userAgent: opts.UserAgent,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// Get 发送GET请求
func (c *Client) Get(ctx context.Context, reqURL string, options ...RequestOptions) (*Response, error) {
	return c.request(ctx, http.MethodGet, reqURL, options...)
}

// Post 发送POST请求
func (c *Client) Post(ctx context.Context, reqURL string, options ...RequestOptions) (*Response, error) {
	return c.request(ctx, http.MethodPost, reqURL, options...)
}

// request 通用请求方法
func (c *Client) request(ctx context.Context, method, reqURL string, options ...RequestOptions) (*Response, error) {
	opts := RequestOptions{Headers: make(map[string]string)}
	if len(options) > 0 {
		for k, v := range options[0].Headers {
			opts.Headers[k] = v
		}
		opts.Data = options[0].Data
		opts.Params = options[0].Params
	}

	// 处理URL参数
	if opts.Params != nil {
		reqURL = addURLParams(reqURL, opts.Params)
	}

	// 准备请求体
	var body io.Reader
	if opts.Data != nil {
		switch data := opts.Data.(type) {
		case string:
			body = strings.NewReader(data)
		case []byte:
			body = bytes.NewReader(data)
		case io.Reader:
			body = data
		case map[string]string:
			// 表单数据
			formData := url.Values{}
			for k, v := range data {
				formData.Set(k, v)
			}
			body = strings.NewReader(formData.Encode())
			if opts.Headers["Content-Type"] == "" {
				opts.Headers["Content-Type"] = "application/x-www-form-urlencoded"
			}
		default:
			return nil, fmt.Errorf("不支持的数据类型: %T", data)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待限速失败: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}

	return newResponse(resp)
}

// addURLParams 添加URL参数
func addURLParams(reqURL string, params map[string]string) string {
	u, err := url.Parse(reqURL)
	if err != nil {
		return reqURL
	}

	q := u.Query()
	for key, value := range params {
		q.Set(key, value)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// newResponse 读取响应体并按声明的字符集解码
func newResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	text, err := decodeText(content, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Text:       text,
		Content:    content,
		URL:        resp.Request.URL.String(),
		Header:     resp.Header,
	}, nil
}

// decodeText 按声明的字符集解码
// 声明或探测为UTF-8、以及完全没有声明字符集时，内容必须是合法UTF-8
func decodeText(content []byte, contentType string) (string, error) {
	enc, name, certain := charset.DetermineEncoding(content, contentType)
	// 没有任何声明时 DetermineEncoding 退回 windows-1252
	undeclared := !certain && name == "windows-1252"
	if name == "utf-8" || undeclared {
		if !utf8.Valid(content) {
			return "", fmt.Errorf("响应内容无法解码为文本: 非法的UTF-8字节 (Content-Type: %q)", contentType)
		}
		return string(bytes.TrimPrefix(content, utf8BOM)), nil
	}

	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(content)))
	if err != nil {
		return "", fmt.Errorf("响应内容无法解码为文本: %w", err)
	}
	return string(decoded), nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}
