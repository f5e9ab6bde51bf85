package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestPairsDropsMalformedKeys(t *testing.T) {
	assert.Equal(t, []any{"a", 1}, pairs([]any{"a", 1, 2, "x", "dangling"}))
	assert.Empty(t, pairs(nil))
}

func TestErrorCarriesErrAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	Error("feed failed", errors.New("boom"), "id", "chi", "orphan")
	Info("refresh completed", "events", 3)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "boom", ctx["err"])
		assert.Equal(t, "chi", ctx["id"])
		assert.NotContains(t, ctx, "orphan")
		assert.Equal(t, int64(3), entries[1].ContextMap()["events"])
	}
}
