// Package logger 初始化全局 slog
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 不认识的级别按 info 处理，第二个返回值表示是否识别
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// New format 为 json 时输出 JSON，否则输出 text
func New(w io.Writer, level, format string) *slog.Logger {
	lvl, ok := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h)
	if !ok {
		l.Warn("⚠️ 日志级别无效，使用 info", "configured_level", level)
	}
	return l
}

// Setup 创建输出到 stdout 的 logger 并设为默认
func Setup(level, format string) *slog.Logger {
	l := New(os.Stdout, level, format)
	slog.SetDefault(l)
	return l
}
