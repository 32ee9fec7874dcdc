package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/overflow0verture/ku_portal/internal/errs"
	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Facade API 所需的服务能力
type Facade interface {
	State() scheduler.State
	Refresh(ctx context.Context) scheduler.State
	Login(ctx context.Context, username, password string) portal.Outcome
	StartPolling() error
	StopPolling()
	Polling() bool
}

// APIServer API服务器
type APIServer struct {
	svc    Facade
	token  string
	port   int
	server *http.Server
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StatusData 状态接口的数据部分
type StatusData struct {
	scheduler.State
	Polling   bool    `json:"polling"`
	UsedGB    float64 `json:"used_gb"`
	UsedRatio float64 `json:"used_ratio"`
}

// NewAPIServer 创建新的API服务器
func NewAPIServer(svc Facade, token string, port int) *APIServer {
	return &APIServer{
		svc:   svc,
		token: token,
		port:  port,
	}
}

// Handler 带认证与日志中间件的路由
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/polling", s.handlePolling)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	logger.Info("API服务器启动在端口 %d", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop 停止API服务器
func (s *APIServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// authMiddleware 认证中间件
func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "缺少token参数")
			return
		}
		if token != s.token {
			s.writeError(w, http.StatusUnauthorized, "token无效")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware 日志中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("API请求: %s %s - %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *APIServer) statusData(st scheduler.State) StatusData {
	return StatusData{
		State:     st,
		Polling:   s.svc.Polling(),
		UsedGB:    st.Snapshot.UsedGB(),
		UsedRatio: st.Snapshot.UsedRatio(),
	}
}

// handleStatus 读取最近一次发布的状态，不触发网络请求
func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "只支持GET方法")
		return
	}
	st := s.svc.State()
	msg := "状态正常"
	if !st.Available {
		msg = "状态暂不可用"
	}
	s.writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: msg, Data: s.statusData(st)})
}

// handleRefresh 立即拉取一次状态
func (s *APIServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "只支持POST方法")
		return
	}
	st := s.svc.Refresh(r.Context())
	if !st.Available {
		s.writeJSON(w, http.StatusBadGateway, Response{
			Code:    http.StatusBadGateway,
			Message: "状态拉取失败: " + st.Err,
			Data:    s.statusData(st),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "刷新成功", Data: s.statusData(st)})
}

// handleLogin 表单字段 username、password
func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "只支持POST方法")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "表单解析失败")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		s.writeError(w, http.StatusBadRequest, "username和password不能为空")
		return
	}

	outcome := s.svc.Login(r.Context(), username, password)
	if outcome.Success {
		s.writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "登录成功", Data: outcome})
		return
	}

	code := http.StatusUnauthorized
	var lf *errs.LoginFailure
	switch {
	case outcome.Reason == service.ErrLoginInProgress:
		code = http.StatusConflict
	case errors.As(outcome.Err(), &lf) && lf.StatusCode == 0:
		code = http.StatusBadGateway
	}
	s.writeJSON(w, code, Response{Code: code, Message: outcome.Reason, Data: outcome})
}

// handlePolling action=start|stop，不带 action 时返回当前状态
func (s *APIServer) handlePolling(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "start":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "只支持POST方法")
			return
		}
		if err := s.svc.StartPolling(); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "stop":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "只支持POST方法")
			return
		}
		s.svc.StopPolling()
	case "":
	default:
		s.writeError(w, http.StatusBadRequest, "action参数无效，必须是start或stop")
		return
	}
	s.writeJSON(w, http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "成功",
		Data:    map[string]bool{"polling": s.svc.Polling()},
	})
}

// writeJSON 写入JSON响应
func (s *APIServer) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("写入响应失败: %v", err)
	}
}

// writeError 写入错误响应
func (s *APIServer) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, Response{Code: code, Message: message})
}
