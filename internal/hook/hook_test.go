package hook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/overflow0verture/ku_portal/internal/portal"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/status"
)

const recorderScript = `package main

import (
	"fmt"
	"os"

	"github.com/overflow0verture/ku_portal/internal/logger"
)

var Hook = map[string]interface{}{
	"Name": func() string { return %q },
	"OnStatus": func(st map[string]interface{}) error {
		logger.Hook("user %%v", st["user"])
		return os.WriteFile(%q, []byte(fmt.Sprintf("%%v|%%v|%%v", st["user"], st["remaining_gb"], st["available"])), 0644)
	},
	"OnLogin": func(user string, success bool, reason string) {
		os.WriteFile(%q, []byte(fmt.Sprintf("%%s|%%v|%%s", user, success, reason)), 0644)
	},
}
`

func writeRecorder(t *testing.T, dir, name string) (script, statusOut, loginOut string) {
	t.Helper()
	out := t.TempDir()
	statusOut = filepath.Join(out, "status.txt")
	loginOut = filepath.Join(out, "login.txt")
	script = filepath.Join(dir, name+".go")
	src := fmt.Sprintf(recorderScript, name, statusOut, loginOut)
	if err := os.WriteFile(script, []byte(src), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script, statusOut, loginOut
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func TestLoadAndDispatch(t *testing.T) {
	dir := t.TempDir()
	script, statusOut, loginOut := writeRecorder(t, dir, "recorder")

	m := NewManager(dir)
	if err := m.Reload(script); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if names := m.Names(); len(names) != 1 || names[0] != "recorder" {
		t.Fatalf("unexpected registry %v", names)
	}

	m.DispatchStatus(scheduler.State{
		Snapshot:  status.Snapshot{MaxQuotaGB: 100, RemainingGB: 12.5, User: "b6510"},
		Available: true,
	})
	if got := readFile(t, statusOut); got != "b6510|12.5|true" {
		t.Fatalf("unexpected status record %q", got)
	}

	m.DispatchLogin(portal.Credentials{Username: "b6510", Password: "secret"}, portal.Failed("HTTP 401"))
	got := readFile(t, loginOut)
	if got != "b6510|false|HTTP 401" {
		t.Fatalf("unexpected login record %q", got)
	}
	if strings.Contains(got, "secret") {
		t.Fatalf("password must not reach hooks")
	}
}

func TestLoadRejectsBadScripts(t *testing.T) {
	cases := map[string]string{
		"syntax": "package main\nvar Hook = map[string]interface{}{",
		"no var": "package main\nvar Other = 1\n",
		"no name": `package main
var Hook = map[string]interface{}{
	"OnStatus": func(st map[string]interface{}) error { return nil },
}
`,
		"no handlers": `package main
var Hook = map[string]interface{}{
	"Name": func() string { return "x" },
}
`,
		"wrong type": "package main\nvar Hook = 42\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.go")
			if err := os.WriteFile(path, []byte(src), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, _, err := Load(path); err == nil {
				t.Fatalf("expected load error")
			}
		})
	}
}

func TestFailingHookDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	panicky := `package main
var Hook = map[string]interface{}{
	"Name": func() string { return "panicky" },
	"OnStatus": func(st map[string]interface{}) error { panic("boom") },
}
`
	if err := os.WriteFile(filepath.Join(dir, "panicky.go"), []byte(panicky), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, statusOut, _ := writeRecorder(t, dir, "recorder")

	m := NewManager(dir)
	if n := m.LoadAll(); n != 2 {
		t.Fatalf("expected 2 hooks loaded, got %d", n)
	}
	m.DispatchStatus(scheduler.State{Snapshot: status.Snapshot{User: "u"}})
	if got := readFile(t, statusOut); !strings.HasPrefix(got, "u|") {
		t.Fatalf("recorder should still run, got %q", got)
	}
}

func TestRemoveByPath(t *testing.T) {
	dir := t.TempDir()
	script, _, _ := writeRecorder(t, dir, "recorder")
	m := NewManager(dir)
	if err := m.Reload(script); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	m.RemoveByPath(script)
	if len(m.Names()) != 0 {
		t.Fatalf("hook should be removed, got %v", m.Names())
	}
}

func TestWatchPicksUpNewHook(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hooks")
	m := NewManager(dir)
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Close()

	// 先写到目录外再移入，避免读到写了一半的文件
	staging := t.TempDir()
	tmp, _, _ := writeRecorder(t, staging, "late")
	if err := os.Rename(tmp, filepath.Join(dir, "late.go")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if !waitFor(func() bool { return len(m.Names()) == 1 }) {
		t.Fatalf("watcher did not load the new hook")
	}

	if err := os.Remove(filepath.Join(dir, "late.go")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !waitFor(func() bool { return len(m.Names()) == 0 }) {
		t.Fatalf("watcher did not drop the removed hook, still %v", m.Names())
	}
}

func TestWatchReloadsInPlaceEdit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hooks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	script, statusOut, loginOut := writeRecorder(t, dir, "first")

	m := NewManager(dir)
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Close()
	if names := m.Names(); len(names) != 1 || names[0] != "first" {
		t.Fatalf("unexpected registry %v", names)
	}

	// 原地保存：截断后分两段写入，中间的半截文件无法编译
	src := fmt.Sprintf(recorderScript, "second", statusOut, loginOut)
	f, err := os.OpenFile(script, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	half := len(src) / 2
	if _, err := f.WriteString(src[:half]); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := f.WriteString(src[half:]); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	if !waitFor(func() bool {
		names := m.Names()
		return len(names) == 1 && names[0] == "second"
	}) {
		t.Fatalf("edited hook was not loaded, registry %v", m.Names())
	}
}

func TestStateMap(t *testing.T) {
	st := scheduler.State{
		Snapshot:  status.Snapshot{MaxQuotaGB: 100, RemainingGB: 40, Status: "Already Authenticated"},
		Available: true,
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	m := StateMap(st)
	if m["used_gb"] != 60.0 || m["used_ratio"] != 0.6 {
		t.Fatalf("unexpected usage %v / %v", m["used_gb"], m["used_ratio"])
	}
	if m["authenticated"] != true || m["available"] != true {
		t.Fatalf("unexpected flags %v", m)
	}
	if m["updated_at"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected timestamp %v", m["updated_at"])
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestSampleHookLoads(t *testing.T) {
	h, _, err := Load(filepath.Join("..", "..", "_hooks", "quota_alert.go"))
	if err != nil {
		t.Fatalf("sample hook should load: %v", err)
	}
	if h.Name() != "quota_alert" {
		t.Fatalf("unexpected name %q", h.Name())
	}
	if err := h.OnStatus(StateMap(scheduler.State{})); err != nil {
		t.Fatalf("unavailable state should be ignored: %v", err)
	}
	h.OnLogin("b6510", true, "")
}
