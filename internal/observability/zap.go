package observability

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapOptions controls construction of the production logger.
type ZapOptions struct {
	// Directory receives rotated log files. Empty disables file output.
	Directory string
	// Debug lowers the console threshold to debug level.
	Debug bool
}

// NewZapLogger builds a zap-backed Logger writing JSON to rotated files and
// console output for interactive runs.
func NewZapLogger(opts ZapOptions) (Logger, func() error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	threshold := zapcore.InfoLevel
	if opts.Debug {
		threshold = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			threshold,
		),
	}
	if opts.Directory != "" {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Directory, "stresslab.log"),
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotated),
			threshold,
		))
	}

	base := zap.New(zapcore.NewTee(cores...))
	return &zapLogger{base: base.Sugar()}, base.Sync
}

type zapLogger struct {
	base *zap.SugaredLogger
}

func kv(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.base.Debugw(msg, kv(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.base.Infow(msg, kv(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.base.Warnw(msg, kv(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.base.Errorw(msg, kv(fields)...) }
