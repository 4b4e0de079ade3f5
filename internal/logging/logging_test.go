package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" Warning "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))

	assert.True(t, ValidLevel("info"))
	assert.False(t, ValidLevel("chatty"))
}

func TestNewUnknownOutput(t *testing.T) {
	_, err := New(Conf{Output: "syslog"})
	assert.Error(t, err)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "modstore.log")
	log, err := New(Conf{Level: "debug", Output: OutputFile, Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Infow("download started", "id", "d1")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, "INFO"), line)
	assert.True(t, strings.Contains(line, "download started"), line)
	assert.True(t, strings.Contains(line, "d1"), line)
}

func TestNewFileOutputNeedsPath(t *testing.T) {
	_, err := New(Conf{Output: OutputFile})
	assert.Error(t, err)
}
