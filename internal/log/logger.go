package log

import (
	//nolint:depguard
	stdlog "log"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Fatal is only meant for process startup, before a Logger exists.
func Fatal(v ...any) {
	stdlog.Fatal(v...)
}

// Logger is a zap logger that knows its module path, so children can pick
// their own level from LOG_LEVEL__<MODULE>.
type Logger struct {
	*zap.Logger
	names      []string
	moduleFunc func(names []string) *zap.Logger
}

func (l *Logger) Module(name string) *Logger {
	names := make([]string, len(l.names)+1)
	copy(names, l.names)
	names[len(l.names)] = name

	return &Logger{
		Logger:     l.moduleFunc(names),
		names:      names,
		moduleFunc: l.moduleFunc,
	}
}

// With returns a child that adds fields to every entry and keeps the
// module path.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{
		Logger:     l.Logger.With(fields...),
		names:      l.names,
		moduleFunc: l.moduleFunc,
	}
}

// New builds the console logger. A non-empty format of "json" switches to
// the JSON encoder for log shippers.
func New(format string) *Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	writer := zapcore.Lock(zapcore.AddSync(os.Stderr))

	build := func(level zapcore.Level) *zap.Logger {
		core := zapcore.NewCore(encoder, writer, zap.NewAtomicLevelAt(level))
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel))
	}

	return &Logger{
		Logger: build(moduleLevel(nil)).Named("main"),
		moduleFunc: func(names []string) *zap.Logger {
			return build(moduleLevel(names)).Named(strings.Join(names, "."))
		},
	}
}

func NewTest(t *testing.T) *Logger {
	logger := zaptest.NewLogger(t)
	return &Logger{
		Logger: logger,
		moduleFunc: func(names []string) *zap.Logger {
			return logger.Named(strings.Join(names, "."))
		},
	}
}

func NewNop() *Logger {
	logger := zap.NewNop()
	return &Logger{
		Logger: logger,
		moduleFunc: func(_ []string) *zap.Logger {
			return logger
		},
	}
}
