package symbols

import (
	"reflect"

	"github.com/overflow0verture/ku_portal/internal/logger"
)

// 钩子脚本通过 import "github.com/overflow0verture/ku_portal/internal/logger" 使用日志
const loggerPath = "github.com/overflow0verture/ku_portal/internal/logger/logger"

// 全局符号注册表
var Symbols = map[string]map[string]reflect.Value{}

func init() {
	Symbols[loggerPath] = map[string]reflect.Value{
		"Info":    reflect.ValueOf(logger.Info),
		"Error":   reflect.ValueOf(logger.Error),
		"Debug":   reflect.ValueOf(logger.Debug),
		"Warning": reflect.ValueOf(logger.Warning),
		"Success": reflect.ValueOf(logger.Success),
		"Hook":    reflect.ValueOf(logger.Hook),
	}
}
