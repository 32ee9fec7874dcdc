package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/overflow0verture/ku_portal/internal/fswatch"
	"github.com/overflow0verture/ku_portal/internal/logger"
)

// Watcher 配置文件监控句柄
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce *fswatch.Debouncer
	done     chan struct{}
}

// Close 停止监控
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	w.debounce.Stop()
	return w.watcher.Close()
}

// Watch 监控配置文件，文件安静 quiet 之后重新解析，成功时回调 onChange
// 监控的是所在目录，编辑器整体替换文件时也能收到事件
func Watch(path string, quiet time.Duration, onChange func(Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		debounce: fswatch.NewDebouncer(quiet),
		done:     make(chan struct{}),
	}

	logger.Info("开始监控配置文件: %s", abs)

	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				w.debounce.Trigger(abs, func() { reload(abs, onChange) })

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("配置监控错误: %v", err)
			}
		}
	}()

	return w, nil
}

func reload(path string, onChange func(Config)) {
	// 截断后尚未写入的空文件会被解析成全默认配置
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		logger.Warning("配置文件为空或不可读，继续使用旧配置: %s", filepath.Base(path))
		return
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		logger.Error("配置重载失败，继续使用旧配置: %v", err)
		return
	}
	logger.Info("检测到配置文件修改，已重新加载: %s", filepath.Base(path))
	onChange(cfg)
}
