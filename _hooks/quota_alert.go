package main

import (
	"fmt"
	"os/exec"

	"github.com/overflow0verture/ku_portal/internal/logger"
)

// 剩余流量低于该比例时提醒
const threshold = 0.1

var alerted bool

var Hook = map[string]interface{}{
	"Name": func() string {
		return "quota_alert"
	},

	"OnStatus": func(st map[string]interface{}) error {
		if st["available"] != true {
			return nil
		}
		quota, _ := st["max_quota_gb"].(float64)
		remaining, _ := st["remaining_gb"].(float64)
		if quota <= 0 {
			return nil
		}

		if remaining/quota >= threshold {
			alerted = false
			return nil
		}
		if alerted {
			return nil
		}
		alerted = true

		msg := fmt.Sprintf("剩余流量 %.2f GB，低于总额的 %.0f%%", remaining, threshold*100)
		logger.Warning("%s", msg)
		if path, err := exec.LookPath("notify-send"); err == nil {
			return exec.Command(path, "KU Portal", msg).Run()
		}
		return nil
	},

	"OnLogin": func(user string, success bool, reason string) {
		if success {
			logger.Hook("%s 登录成功", user)
			return
		}
		logger.Hook("%s 登录失败: %s", user, reason)
	},
}
