package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	defaultLogger atomic.Pointer[slog.Logger]
	level         = new(slog.LevelVar)
	once          sync.Once
)

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level.Level() == slog.LevelDebug,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init 初始化全局 logger；DEBUG=true 时启用 debug 级别。
func Init() {
	once.Do(func() {
		if os.Getenv("DEBUG") == "true" {
			level.Set(slog.LevelDebug)
		}
		defaultLogger.Store(newLogger(os.Stdout))
	})
}

// SetOutput 把日志改写到 w，级别沿用当前设置。
func SetOutput(w io.Writer) {
	Init()
	defaultLogger.Store(newLogger(w))
}

// SetLevel 运行时调整日志级别。
func SetLevel(l slog.Level) {
	Init()
	level.Set(l)
}

// SetDebug 是 SetLevel 的便捷形式，供 Config.Debug 使用。
func SetDebug(debug bool) {
	if debug {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

func Debug(msg string, args ...any) {
	Init()
	defaultLogger.Load().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Init()
	defaultLogger.Load().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Init()
	defaultLogger.Load().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Init()
	defaultLogger.Load().Error(msg, args...)
}

// Fatal 记录错误后退出进程，仅用于 main。
func Fatal(msg string, args ...any) {
	Init()
	defaultLogger.Load().Error(msg, args...)
	os.Exit(1)
}

// With 返回带固定属性的子 logger，例如每连接的 remote_addr。
func With(args ...any) *slog.Logger {
	Init()
	return defaultLogger.Load().With(args...)
}
