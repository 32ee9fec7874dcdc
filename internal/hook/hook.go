package hook

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/overflow0verture/ku_portal/internal/logger"
	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/symbols"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Hook 是所有钩子脚本的统一接口
type Hook interface {
	Name() string
	OnStatus(state map[string]interface{}) error
	OnLogin(user string, success bool, reason string)
}

// Entry 记录已加载钩子的信息
type Entry struct {
	Hook   Hook
	Interp *interp.Interpreter
	Path   string
}

// Load 加载函数映射格式的钩子脚本:
//
//	var Hook = map[string]interface{}{
//		"Name":     func() string { ... },
//		"OnStatus": func(state map[string]interface{}) error { ... },
//		"OnLogin":  func(user string, success bool, reason string) { ... },
//	}
//
// Name 必需，OnStatus 与 OnLogin 至少提供一个
func Load(path string) (Hook, *interp.Interpreter, error) {
	i := interp.New(interp.Options{
		GoPath: "",
		Env:    []string{},
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, nil, err
	}
	if err := i.Use(symbols.Symbols); err != nil {
		return nil, nil, err
	}

	logger.Debug("加载钩子脚本: %s", path)
	if _, err := i.EvalPath(path); err != nil {
		return nil, nil, fmt.Errorf("钩子脚本评估失败: %w", err)
	}

	v, err := i.Eval("main.Hook")
	if err != nil {
		return nil, nil, fmt.Errorf("钩子必须导出 var Hook = map[string]interface{}")
	}
	hookMap, ok := v.Interface().(map[string]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("钩子必须使用函数映射格式: var Hook = map[string]interface{}")
	}

	nameFunc, hasName := hookMap["Name"]
	statusFunc, hasStatus := hookMap["OnStatus"]
	loginFunc, hasLogin := hookMap["OnLogin"]
	if !hasName || (!hasStatus && !hasLogin) {
		return nil, nil, fmt.Errorf("钩子缺少必需函数: Name=%v, OnStatus=%v, OnLogin=%v",
			hasName, hasStatus, hasLogin)
	}

	adapter := &functionMapAdapter{nameFunc: reflect.ValueOf(nameFunc)}
	if hasStatus {
		adapter.statusFunc = reflect.ValueOf(statusFunc)
	}
	if hasLogin {
		adapter.loginFunc = reflect.ValueOf(loginFunc)
	}
	if err := adapter.validate(); err != nil {
		return nil, nil, err
	}
	return adapter, i, nil
}

// 函数映射适配器，将函数映射转换为 Hook 接口
type functionMapAdapter struct {
	nameFunc   reflect.Value
	statusFunc reflect.Value
	loginFunc  reflect.Value
}

func (a *functionMapAdapter) validate() error {
	if a.nameFunc.Kind() != reflect.Func || a.nameFunc.Type().NumOut() != 1 {
		return fmt.Errorf("Name 必须是 func() string")
	}
	if a.statusFunc.IsValid() {
		t := a.statusFunc.Type()
		if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 1 {
			return fmt.Errorf("OnStatus 必须是 func(map[string]interface{}) error")
		}
	}
	if a.loginFunc.IsValid() {
		t := a.loginFunc.Type()
		if t.Kind() != reflect.Func || t.NumIn() != 3 {
			return fmt.Errorf("OnLogin 必须是 func(string, bool, string)")
		}
	}
	return nil
}

func (a *functionMapAdapter) Name() string {
	result := a.nameFunc.Call(nil)
	return result[0].String()
}

func (a *functionMapAdapter) OnStatus(state map[string]interface{}) error {
	if !a.statusFunc.IsValid() {
		return nil
	}
	result := a.statusFunc.Call([]reflect.Value{reflect.ValueOf(state)})
	if result[0].IsNil() {
		return nil
	}
	return result[0].Interface().(error)
}

func (a *functionMapAdapter) OnLogin(user string, success bool, reason string) {
	if !a.loginFunc.IsValid() {
		return
	}
	a.loginFunc.Call([]reflect.Value{
		reflect.ValueOf(user),
		reflect.ValueOf(success),
		reflect.ValueOf(reason),
	})
}

// StateMap 把发布的状态展开为脚本可读的键值
func StateMap(st scheduler.State) map[string]interface{} {
	s := st.Snapshot
	return map[string]interface{}{
		"max_quota_gb":  s.MaxQuotaGB,
		"remaining_gb":  s.RemainingGB,
		"used_gb":       s.UsedGB(),
		"used_ratio":    s.UsedRatio(),
		"user":          s.User,
		"ipv4":          s.IPv4,
		"ipv6":          s.IPv6,
		"status":        s.Status,
		"authenticated": s.Authenticated(),
		"available":     st.Available,
		"error":         st.Err,
		"updated_at":    st.UpdatedAt.Format(time.RFC3339),
	}
}

// Manager 钩子注册表与生命周期管理
type Manager struct {
	folder   string
	mu       sync.RWMutex
	registry map[string]*Entry
	watcher  *folderWatcher
}

// NewManager 创建钩子管理器
func NewManager(folder string) *Manager {
	return &Manager{
		folder:   folder,
		registry: make(map[string]*Entry),
	}
}

// Names 已加载钩子名，按字母序
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload 重新加载钩子（文件变更时调用），同名钩子直接替换
func (m *Manager) Reload(path string) error {
	h, i, err := Load(path)
	if err != nil {
		return err
	}
	name := h.Name()

	m.mu.Lock()
	defer m.mu.Unlock()

	// 同一文件改名后旧条目需要清掉
	for n, e := range m.registry {
		if n != name && filepath.Clean(e.Path) == filepath.Clean(path) {
			delete(m.registry, n)
		}
	}
	if _, exists := m.registry[name]; exists {
		logger.Hook("钩子 %s 已存在，正在替换", name)
	}
	m.registry[name] = &Entry{Hook: h, Interp: i, Path: path}
	logger.Hook("%s 加载成功", name)
	return nil
}

// RemoveByPath 根据文件路径移除钩子
func (m *Manager) RemoveByPath(path string) {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, entry := range m.registry {
		if filepath.Clean(entry.Path) == path {
			delete(m.registry, name)
			logger.Hook("成功移除钩子: %s", name)
			return
		}
	}
	logger.Hook("未找到要移除的钩子: %s", filepath.Base(path))
}

func (m *Manager) snapshot() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*Entry, 0, len(m.registry))
	for _, e := range m.registry {
		entries = append(entries, e)
	}
	return entries
}

// DispatchStatus 把状态交给所有钩子，单个钩子出错或崩溃不影响其他钩子
func (m *Manager) DispatchStatus(st scheduler.State) {
	state := StateMap(st)
	for _, e := range m.snapshot() {
		name := e.Hook.Name()
		func() {
			defer recoverHook(name)
			if err := e.Hook.OnStatus(state); err != nil {
				logger.Error("钩子 %s 处理状态失败: %v", name, err)
			}
		}()
	}
}

// DispatchLogin 把登录结果交给所有钩子，不传递密码
func (m *Manager) DispatchLogin(creds portal.Credentials, o portal.Outcome) {
	for _, e := range m.snapshot() {
		name := e.Hook.Name()
		func() {
			defer recoverHook(name)
			e.Hook.OnLogin(creds.Username, o.Success, o.Reason)
		}()
	}
}

func recoverHook(name string) {
	if r := recover(); r != nil {
		logger.Error("钩子 %s 执行异常: %v", name, r)
	}
}
