package log

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootLogger Logger
	mutex      = &sync.Mutex{}
)

type Logger interface {
	Named(name string) Logger
	With(args ...interface{}) Logger
	Sync() error

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Named(name string) Logger {
	return &logger{l.SugaredLogger.Named(name)}
}

func (l *logger) With(args ...interface{}) Logger {
	return &logger{l.SugaredLogger.With(args...)}
}

// New wraps an arbitrary zap core, mostly used by tests with zaptest/observer.
func New(core zapcore.Core) Logger {
	return &logger{zap.New(core).Sugar()}
}

func Nop() Logger {
	return &logger{zap.NewNop().Sugar()}
}

// Global returns the root logger, a nop logger until Setup is called.
func Global() Logger {
	mutex.Lock()
	defer mutex.Unlock()
	if rootLogger == nil {
		return Nop()
	}
	return rootLogger
}

func Setup(options *Options) {
	mutex.Lock()
	defer mutex.Unlock()
	if rootLogger != nil {
		rootLogger.Warn("can't re setup root logger")
		return
	}
	var (
		opts          []zap.Option
		encoderConfig = zap.NewProductionEncoderConfig()
	)

	if options.callerEncoder != nil {
		opts = append(opts, zap.AddCaller())
		encoderConfig.EncodeCaller = options.callerEncoder
	}

	encoderConfig.EncodeLevel = options.levelEncoder
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(options.timeLayout)
	encoderConfig.ConsoleSeparator = " "
	infoWriteSyncer, errWriteSyncer := zapcore.AddSync(os.Stdout), zapcore.AddSync(os.Stderr)
	if !options.stdOutput {
		infoWriteSyncer, errWriteSyncer = zapcore.AddSync(os.Stderr), zapcore.AddSync(os.Stderr)
	}
	cores := []zapcore.Core{zapcore.NewCore(
		options.outPutEncoder(encoderConfig),
		infoWriteSyncer,
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= options.level && lvl < zapcore.WarnLevel
		}),
	), zapcore.NewCore(
		options.outPutEncoder(encoderConfig),
		errWriteSyncer,
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= options.level && lvl >= zapcore.WarnLevel
		}),
	)}

	if options.stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.WarnLevel))
	}
	zapSugarLogger := zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	if options.name != "" {
		zapSugarLogger = zapSugarLogger.Named(options.name)
	}

	rootLogger = &logger{zapSugarLogger}
}

// ParseLevel accepts debug, info, warn, error (case-insensitive).
func ParseLevel(text string) (Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(text))); err != nil {
		return InfoLevel, errors.Wrapf(err, "invalid log level %q", text)
	}
	return level, nil
}
