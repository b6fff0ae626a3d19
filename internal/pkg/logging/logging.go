package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvLogDir enables the daily log file when set.
	EnvLogDir = "HUEMAP_LOG_DIR"

	EnvDevelopment = "development"
	EnvProduction  = "production"

	logFilePerm = 0o644
	logDirPerm  = 0o755
)

// New builds the process logger. Development logs are human readable at
// debug level; anything else is JSON at info level. When HUEMAP_LOG_DIR is
// set every line is also appended to a daily file there.
func New(env string) (*zap.Logger, error) {
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if dir := strings.TrimSpace(os.Getenv(EnvLogDir)); dir != "" {
		f, err := NewDailyFile(dir, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}
	logger := NewWithSink(env, zapcore.NewMultiWriteSyncer(sinks...))
	_ = zap.RedirectStdLog(logger)
	return logger, nil
}

// NewWithSink builds a logger for env writing to sink.
func NewWithSink(env string, sink zapcore.WriteSyncer) *zap.Logger {
	var (
		encoder zapcore.Encoder
		level   zapcore.Level
	)
	if strings.EqualFold(strings.TrimSpace(env), EnvDevelopment) {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level = zapcore.DebugLevel
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
		level = zapcore.InfoLevel
	}
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// DailyFilename returns the log file name for the day of now.
func DailyFilename(now time.Time) string {
	return "huemap_" + now.Format("2006-01-02") + ".log"
}

// DailyFile appends to one file per calendar day under dir.
type DailyFile struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

var _ io.Writer = (*DailyFile)(nil)

func NewDailyFile(dir string, now func() time.Time) (*DailyFile, error) {
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &DailyFile{dir: dir, now: now}, nil
}

func (w *DailyFile) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, DailyFilename(w.now()))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFilePerm)
	if err != nil {
		return 0, err
	}
	n, writeErr := file.Write(p)
	closeErr := file.Close()
	if writeErr != nil {
		return n, writeErr
	}
	return n, closeErr
}

func (w *DailyFile) Sync() error { return nil }
