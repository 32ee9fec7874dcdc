package hook

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/overflow0verture/ku_portal/internal/fswatch"
	"github.com/overflow0verture/ku_portal/internal/logger"
)

// 文件安静这么久之后才重新加载
const reloadQuiet = 300 * time.Millisecond

type folderWatcher struct {
	watcher  *fsnotify.Watcher
	debounce *fswatch.Debouncer
	done     chan struct{}
}

// LoadAll 启动时加载目录下所有钩子，返回成功数量
func (m *Manager) LoadAll() int {
	files, err := os.ReadDir(m.folder)
	if err != nil {
		logger.Error("读取钩子目录失败: %v", err)
		return 0
	}

	total, loaded := 0, 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".go") {
			continue
		}
		total++
		if err := m.Reload(filepath.Join(m.folder, f.Name())); err != nil {
			logger.Error("启动加载 %s 失败: %v", f.Name(), err)
			continue
		}
		loaded++
	}

	if total == 0 {
		logger.Hook("钩子目录中未发现Go文件: %s", m.folder)
	} else {
		logger.Hook("启动时成功加载 %d/%d 个钩子", loaded, total)
	}
	return loaded
}

// Watch 加载已有钩子并监控目录变化
func (m *Manager) Watch() error {
	if _, err := os.Stat(m.folder); os.IsNotExist(err) {
		logger.Hook("钩子目录不存在，创建目录: %s", m.folder)
		if err := os.MkdirAll(m.folder, 0755); err != nil {
			return err
		}
	}

	m.LoadAll()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.folder); err != nil {
		watcher.Close()
		return err
	}

	fw := &folderWatcher{
		watcher:  watcher,
		debounce: fswatch.NewDebouncer(reloadQuiet),
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	m.watcher = fw
	m.mu.Unlock()

	logger.Hook("开始监控钩子目录: %s", m.folder)

	go func() {
		for {
			select {
			case <-fw.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".go") {
					continue
				}

				switch {
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					logger.Hook("检测到文件删除: %s", filepath.Base(event.Name))
					fw.debounce.Cancel(event.Name)
					m.RemoveByPath(event.Name)

				case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
					path := event.Name
					fw.debounce.Trigger(path, func() {
						logger.Hook("检测到文件变化: %s", filepath.Base(path))
						if err := m.Reload(path); err != nil {
							logger.Error("钩子重载失败: %v", err)
						}
					})
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("钩子监控错误: %v", err)
			}
		}
	}()
	return nil
}

// Close 停止目录监控
func (m *Manager) Close() error {
	m.mu.Lock()
	fw := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if fw == nil {
		return nil
	}
	close(fw.done)
	fw.debounce.Stop()
	return fw.watcher.Close()
}
