package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWithObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(core).Named("merge").With("operator", "join")
	l.Debugw("dropped late tuple", "stream", 1)
	l.Warnf("finalize failed for %s", "k")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "merge", entries[0].LoggerName)
	assert.Equal(t, "dropped late tuple", entries[0].Message)
	assert.Equal(t, "join", entries[0].ContextMap()["operator"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	assert.NoError(t, err)
	assert.Equal(t, WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestGlobalBeforeSetup(t *testing.T) {
	assert.NotNil(t, Global())
	Global().Info("nop")
}
