package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "calendar", "a@b.edu")
	Error("shown error", errors.New("boom"), "op", "delete")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn calendar=a@b.edu")
	assert.Contains(t, out, "[ERROR] shown error err=boom op=delete")
}

func TestOddKVIgnoresTrailingKey(t *testing.T) {
	buf := capture(t)
	Info("msg", "a", 1, "dangling")
	assert.Contains(t, buf.String(), "msg a=1\n")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("Warning"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
