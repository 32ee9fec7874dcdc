// Package errs holds the error types shared by the status fetcher and the
// login handshake. Callers match them with errors.As.
package errs

import "fmt"

// NetworkError 传输失败或响应无法解码为文本
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s 网络错误: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError HTML无法解析
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析 %s 失败: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RedirectLoopError 客户端跳转次数达到上限
type RedirectLoopError struct {
	URL  string // 触发上限时准备跳转的目标
	Hops int
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("跳转次数达到上限 %d，停止于 %s", e.Hops, e.URL)
}

// CollectError 严格模式下会话信息收集失败
type CollectError struct {
	Reason string
}

func (e *CollectError) Error() string {
	return "收集登录会话失败: " + e.Reason
}

// LoginFailure 登录提交被拒绝或请求失败，StatusCode 为0表示未收到响应
type LoginFailure struct {
	Reason     string
	StatusCode int
}

func (e *LoginFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("登录失败 (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return "登录失败: " + e.Reason
}
