package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gookit/color"
)

var (
	infoLogger  *log.Logger
	errorLogger *log.Logger
	stdLogger   = log.New(os.Stdout, "", log.LstdFlags)

	infoFile  *os.File
	errorFile *os.File

	enabled      bool
	debugEnabled = true
	logMutex     sync.Mutex

	// 记录最后一次状态汇总的时间
	lastSummary time.Time

	// 状态汇总间隔时间，默认5分钟
	SummaryInterval = 5 * time.Minute

	// 颜色样式定义
	infoStyle    = color.New(color.FgLightBlue, color.Bold)
	errorStyle   = color.New(color.FgLightRed, color.Bold)
	debugStyle   = color.New(color.FgGray)
	statusStyle  = color.New(color.FgLightCyan, color.Bold)
	loginStyle   = color.New(color.FgLightMagenta, color.Bold)
	hookStyle    = color.New(color.FgLightWhite, color.Bold)
	summaryStyle = color.New(color.FgLightYellow, color.Bold)
	successStyle = color.New(color.FgLightGreen, color.Bold)
	warningStyle = color.New(color.FgLightYellow, color.Bold)
)

// Setup 初始化日志系统
func Setup(logEnabled bool, logDir string) error {
	logMutex.Lock()
	defer logMutex.Unlock()

	// 设置日志开关
	enabled = logEnabled

	// 标准输出日志
	stdLogger = log.New(os.Stdout, "", log.LstdFlags)

	// 如果不启用文件日志，直接返回
	if !enabled {
		infoLogger = stdLogger
		errorLogger = stdLogger
		return nil
	}

	// 确保日志目录存在
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %v", err)
	}

	// 关闭之前可能存在的文件
	if infoFile != nil {
		infoFile.Close()
	}
	if errorFile != nil {
		errorFile.Close()
	}

	// 打开日志文件
	var err error
	infoFile, err = os.OpenFile(filepath.Join(logDir, "info.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("打开info日志文件失败: %v", err)
	}

	errorFile, err = os.OpenFile(filepath.Join(logDir, "error.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		infoFile.Close()
		return fmt.Errorf("打开error日志文件失败: %v", err)
	}

	// 创建日志器
	infoLogger = log.New(infoFile, "", log.LstdFlags)
	errorLogger = log.New(errorFile, "", log.LstdFlags)

	lastSummary = time.Time{}

	return nil
}

// SetDebug 开关调试日志
func SetDebug(on bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	debugEnabled = on
}

// Info 记录一般信息
func Info(format string, v ...interface{}) {
	write(infoStyle.Sprintf("[INFO]"), "", fmt.Sprintf(format, v...), color.FgDefault, false)
}

// Error 记录错误信息
func Error(format string, v ...interface{}) {
	write(errorStyle.Sprintf("[ERROR]"), "", fmt.Sprintf(format, v...), color.FgRed, true)
}

// Debug 调试信息，仅在控制台显示，不写入文件
func Debug(format string, v ...interface{}) {
	logMutex.Lock()
	on := debugEnabled
	logMutex.Unlock()
	if !on {
		return
	}
	message := fmt.Sprintf(format, v...)
	stdLogger.Printf("%s %s", debugStyle.Sprintf("[DEBUG]"), debugStyle.Sprint(message))
}

// Status 状态拉取相关日志
func Status(format string, v ...interface{}) {
	write(statusStyle.Sprintf("[状态]"), "[状态] ", fmt.Sprintf(format, v...), color.FgCyan, false)
}

// Login 登录流程相关日志
func Login(format string, v ...interface{}) {
	write(loginStyle.Sprintf("[登录]"), "[登录] ", fmt.Sprintf(format, v...), color.FgMagenta, false)
}

// Hook 钩子脚本相关日志
func Hook(format string, v ...interface{}) {
	write(hookStyle.Sprintf("[钩子]"), "[钩子] ", fmt.Sprintf(format, v...), color.FgWhite, false)
}

// Success 成功信息日志
func Success(format string, v ...interface{}) {
	write(successStyle.Sprintf("[SUCCESS]"), "[SUCCESS] ", fmt.Sprintf(format, v...), color.FgGreen, false)
}

// Warning 警告信息日志
func Warning(format string, v ...interface{}) {
	write(warningStyle.Sprintf("[WARNING]"), "[WARNING] ", fmt.Sprintf(format, v...), color.FgYellow, false)
}

// StatusSummary 按间隔输出一次流量汇总
// force: 是否强制输出，不考虑时间间隔
func StatusSummary(line string, force bool) {
	logMutex.Lock()
	now := time.Now()
	if !force && !lastSummary.IsZero() && now.Sub(lastSummary) < SummaryInterval {
		logMutex.Unlock()
		return
	}
	lastSummary = now
	logMutex.Unlock()

	write(summaryStyle.Sprintf("[流量汇总]"), "[流量汇总] ", line, color.FgYellow, false)
}

// write 控制台输出带颜色，文件输出不带颜色
func write(tag, filePrefix, message string, fg color.Color, isError bool) {
	body := message
	if fg != color.FgDefault {
		body = fg.Sprint(message)
	}
	stdLogger.Printf("%s %s", tag, body)

	logMutex.Lock()
	defer logMutex.Unlock()
	if !enabled {
		return
	}
	if isError {
		errorLogger.Printf("%s%s", filePrefix, message)
		return
	}
	infoLogger.Printf("%s%s", filePrefix, message)
}

// GetColorSupport 返回当前是否支持颜色
func GetColorSupport() bool {
	return color.SupportColor()
}

// SetColorSupport 手动设置颜色支持
func SetColorSupport(support bool) {
	if support {
		color.ForceOpenColor()
	} else {
		color.Disable()
	}
}

// Close 关闭日志文件
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()

	if infoFile != nil {
		infoFile.Close()
		infoFile = nil
	}

	if errorFile != nil {
		errorFile.Close()
		errorFile = nil
	}
	enabled = false
}
