package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	src := `
[poll]
interval_seconds = 60

[selectors]
remaining = "td.remaining"

[notify]
type = "redis"
`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PollInterval() != time.Minute {
		t.Fatalf("expected 1m interval, got %s", cfg.PollInterval())
	}
	if cfg.Selectors.Remaining != "td.remaining" {
		t.Fatalf("override not applied: %q", cfg.Selectors.Remaining)
	}

	def := Default()
	if cfg.Selectors.MaxQuota != def.Selectors.MaxQuota {
		t.Fatalf("untouched selector should keep default, got %q", cfg.Selectors.MaxQuota)
	}
	if cfg.Portal.MaxRedirectHops != 10 || cfg.Portal.StatusURL != "https://info.ku.ac.th" {
		t.Fatalf("portal defaults lost: %+v", cfg.Portal)
	}
	if cfg.Notify.Type != "redis" || cfg.Notify.Channel != def.Notify.Channel || cfg.Notify.RedisPort != 6379 {
		t.Fatalf("notify merge wrong: %+v", cfg.Notify)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if cfg.Portal.LoginURL != Default().Portal.LoginURL {
		t.Fatalf("defaults should still be returned")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval() != 30*time.Second || cfg.InitialDelay() != time.Second || cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("unexpected defaults %s %s %s", cfg.PollInterval(), cfg.InitialDelay(), cfg.RequestTimeout())
	}

	cfg.Poll.IntervalSeconds = 0
	cfg.Poll.InitialDelayMS = -5
	cfg.Portal.Timeout = -1
	if cfg.PollInterval() != 30*time.Second || cfg.InitialDelay() != 0 || cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("non-positive values should fall back, got %s %s %s", cfg.PollInterval(), cfg.InitialDelay(), cfg.RequestTimeout())
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[poll]\ninterval_seconds = 30\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan Config, 4)
	w, err := Watch(path, 10*time.Millisecond, func(c Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	// 同目录的其他文件不应触发
	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0644); err != nil {
		t.Fatalf("write other: %v", err)
	}

	// 先写临时文件再改名，保证读到完整内容
	tmp := filepath.Join(dir, "config.toml.tmp")
	if err := os.WriteFile(tmp, []byte("[poll]\ninterval_seconds = 90\n"), 0644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case c := <-changes:
		if c.Poll.IntervalSeconds != 90 {
			t.Fatalf("expected reloaded interval 90, got %d", c.Poll.IntervalSeconds)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
}

func TestWatchInPlaceSaveAppliesFinalContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[poll]\ninterval_seconds = 30\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan Config, 8)
	w, err := Watch(path, 100*time.Millisecond, func(c Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	// 原地保存：先截断，再分两次写入
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := f.WriteString("[poll]\ninterval_seconds = 90\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := f.WriteString("[selectors]\nstatus = \"span.x\"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	select {
	case c := <-changes:
		if c.Poll.IntervalSeconds != 90 || c.Selectors.Status != "span.x" {
			t.Fatalf("partial content applied: interval=%d status=%q", c.Poll.IntervalSeconds, c.Selectors.Status)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}

	select {
	case c := <-changes:
		t.Fatalf("expected a single reload, got another: %+v", c.Poll)
	case <-time.After(300 * time.Millisecond):
	}

	// 连续的 os.WriteFile 只应用最后一次
	for _, n := range []int{40, 50, 60} {
		src := fmt.Sprintf("[poll]\ninterval_seconds = %d\n", n)
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	select {
	case c := <-changes:
		if c.Poll.IntervalSeconds != 60 {
			t.Fatalf("expected last write to win, got %d", c.Poll.IntervalSeconds)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}
}

func TestWatchIgnoresEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[poll]\ninterval_seconds = 30\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan Config, 4)
	w, err := Watch(path, 20*time.Millisecond, func(c Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	select {
	case c := <-changes:
		t.Fatalf("empty file should not reload, got %+v", c.Poll)
	case <-time.After(300 * time.Millisecond):
	}
}
