package log

import "go.uber.org/zap/zapcore"

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

type OutputEncoder func(config zapcore.EncoderConfig) zapcore.Encoder

var (
	JsonOutputEncoder    OutputEncoder = zapcore.NewJSONEncoder
	ConsoleOutputEncoder OutputEncoder = zapcore.NewConsoleEncoder
)

type LevelEncoder = zapcore.LevelEncoder

func BracketLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

type CallerEncoder = zapcore.CallerEncoder

var ShortCallerEncoder CallerEncoder = zapcore.ShortCallerEncoder

type Options struct {
	//Is it displayed in standard output and standard error
	stdOutput bool
	//the optional value is JsonOutputEncoder ConsoleOutputEncoder
	outPutEncoder OutputEncoder
	level         Level
	callerEncoder CallerEncoder
	levelEncoder  LevelEncoder
	//Report Warn level stack trace
	stacktrace bool
	timeLayout string
	name       string
}

func (o *Options) WithStdOutput(stdOutput bool) *Options {
	o.stdOutput = stdOutput
	return o
}

func (o *Options) WithStacktrace(stacktrace bool) *Options {
	o.stacktrace = stacktrace
	return o
}

func (o *Options) WithTimeLayout(timeLayout string) *Options {
	o.timeLayout = timeLayout
	return o
}

func (o *Options) WithOutputEncoder(outputEncoder OutputEncoder) *Options {
	o.outPutEncoder = outputEncoder
	return o
}

func (o *Options) WithLevel(level Level) *Options {
	o.level = level
	return o
}

func (o *Options) WithCallerEncoder(callerEncoder CallerEncoder) *Options {
	o.callerEncoder = callerEncoder
	return o
}

func (o *Options) WithLevelEncoder(encoder LevelEncoder) *Options {
	o.levelEncoder = encoder
	return o
}

func (o *Options) WithNamed(name string) *Options {
	o.name = name
	return o
}

func DefaultOptions() *Options {
	return &Options{level: InfoLevel,
		timeLayout:    "02/Jan/2006:15:04:05 +0800",
		levelEncoder:  BracketLevelEncoder,
		outPutEncoder: JsonOutputEncoder, callerEncoder: nil, stdOutput: true}
}
