package logbus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultMaxAge = 30 * 24 * time.Hour

type SinkOptions struct {
	// Name 绑定到每条日志上，便于区分多个进程写同一目录。
	Name     string
	Dir      string
	Level    Level
	Console  bool
	MaxAge   time.Duration
	Location *time.Location
}

// Sink 把 Bus 上的日志落到控制台和按天切分的日志文件。
type Sink struct {
	loud  *zap.Logger
	quiet *zap.Logger
	file  *rotatelogs.RotateLogs
}

func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Dir == "" {
		opts.Dir = "log_"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}

	file, err := openDailyFile(opts.Dir, zoneClock{loc: opts.Location, now: time.Now}, opts.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	enabler := zap.NewAtomicLevelAt(toZapLevel(opts.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(file), enabler)

	fields := zap.Fields(zap.String("id", opts.Name))
	s := &Sink{
		quiet: zap.New(fileCore, fields),
		file:  file,
	}
	if opts.Console {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), enabler)
		s.loud = zap.New(zapcore.NewTee(fileCore, consoleCore), fields)
	} else {
		s.loud = s.quiet
	}
	return s, nil
}

func (s *Sink) write(level Level, message string, fields map[string]any, console bool) {
	logger := s.quiet
	if console {
		logger = s.loud
	}
	zf := zapFields(fields)
	switch level {
	case LevelDebug:
		logger.Debug(message, zf...)
	case LevelWarn:
		logger.Warn(message, zf...)
	case LevelError:
		logger.Error(message, zf...)
	case LevelException:
		logger.Error(message, append(zf, zap.StackSkip("stacktrace", 3))...)
	default:
		logger.Info(message, zf...)
	}
}

func (s *Sink) Sync() error {
	_ = s.loud.Sync()
	return s.quiet.Sync()
}

func (s *Sink) Close() error {
	_ = s.Sync()
	return s.file.Close()
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError, LevelException:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

type zoneClock struct {
	loc *time.Location
	now func() time.Time
}

func (c zoneClock) Now() time.Time { return c.now().In(c.loc) }

// openDailyFile 按日志时区每天切换到 <dir>/YYYY-MM-DD.log，超过 maxAge 的旧文件会被清理。
func openDailyFile(dir string, clock rotatelogs.Clock, maxAge time.Duration) (*rotatelogs.RotateLogs, error) {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return rotatelogs.New(
		filepath.Join(dir, "%Y-%m-%d.log"),
		rotatelogs.WithClock(clock),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(maxAge),
	)
}
