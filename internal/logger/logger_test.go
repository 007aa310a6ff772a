package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	l, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	l, err = New(Options{Level: "debug"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.True(t, l.ReportCaller)

	_, err = New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "parallax.log")
	l, err := New(Options{Level: "info", File: file, NoColor: true})
	require.NoError(t, err)

	l.WithField("frame", 42).Info("tracking started")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tracking started")
	assert.Contains(t, string(data), "frame:42")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing to see")
	assert.NotNil(t, l)
}
