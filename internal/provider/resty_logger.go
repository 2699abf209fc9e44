package provider

import (
	"fmt"
	"strings"

	"ezweb_signin/internal/logbus"
)

// RestyLogger 把 resty 自身的日志（解析失败、重试等）转到 logbus，避免直接写 stderr。
type RestyLogger struct {
	Bus       *logbus.Bus
	Component string
}

func (l RestyLogger) Errorf(format string, v ...any) {
	l.log(logbus.LevelError, format, v, true)
}

func (l RestyLogger) Warnf(format string, v ...any) {
	l.log(logbus.LevelWarn, format, v, true)
}

func (l RestyLogger) Debugf(format string, v ...any) {
	l.log(logbus.LevelDebug, format, v, false)
}

func (l RestyLogger) log(level logbus.Level, format string, v []any, console bool) {
	if l.Bus == nil {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	fields := map[string]any{"component": l.Component}
	if console {
		l.Bus.Log(level, "resty: "+msg, fields)
		return
	}
	l.Bus.LogQuiet(level, "resty: "+msg, fields)
}
