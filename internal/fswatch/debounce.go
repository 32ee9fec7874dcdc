package fswatch

import (
	"sync"
	"time"
)

// Debouncer 合并同一个文件的连续变更事件
// 每次事件都会重置计时，文件安静 delay 之后才执行一次回调。
// 编辑器原地保存时先截断再写入，只在最后一次事件后处理才能读到完整内容
type Debouncer struct {
	mu      sync.Mutex
	run     sync.Mutex // 回调串行执行
	delay   time.Duration
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer 新建去抖器
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, timers: make(map[string]*time.Timer)}
}

// Trigger 记录一次 key 的事件，之前尚未执行的回调被取消
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped || d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		d.run.Lock()
		defer d.run.Unlock()
		fn()
	})
	d.timers[key] = t
}

// Cancel 丢弃 key 上尚未执行的回调
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending 尚未执行的 key 数量
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop 取消全部待执行回调，之后的 Trigger 不再生效
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
