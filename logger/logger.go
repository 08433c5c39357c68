package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 解析日志级别，未知级别按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 创建日志记录器，format 为 text 时输出文本格式，否则输出 JSON
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// InitLogger 初始化全局日志记录器，输出到 stdout
func InitLogger(level, format string) {
	slog.SetDefault(NewLogger(os.Stdout, level, format))
}
