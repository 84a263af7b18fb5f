package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの出力設定。
type Options struct {
	// Level はログレベル（debug, info, warn, error）。不明な値はinfoとして扱う。
	Level string
	// File が指定された場合、標準出力に加えてローテーション付きでファイルにも出力する。
	File string
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// NewWriter はログ出力先を組み立てる。
// fileが空でなければlumberjackによるローテーションファイルをwに追加する。
func NewWriter(w io.Writer, file string) io.Writer {
	if file == "" {
		return w
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return io.MultiWriter(w, rotator)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、そのロガーを返す。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(NewWriter(w, opts.File), ParseLevel(opts.Level))
	slog.SetDefault(logger)
	return logger
}
