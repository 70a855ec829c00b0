package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	originalOutput := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(originalOutput)

	SetLevel(InfoLevel)

	// Debug is filtered at info level
	Debugf("Debug message")
	assert.Empty(t, buf.String())

	buf.Reset()
	Infof("Info message")
	assert.Contains(t, buf.String(), "Info message")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	originalOutput := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(originalOutput)

	SetLevel(DebugLevel)

	WithFields(logrus.Fields{"iface": "eth0", "pid": 42}).Info("started")

	logOutput := buf.String()
	assert.Contains(t, logOutput, "started")
	assert.Contains(t, logOutput, "iface=eth0")
	assert.Contains(t, logOutput, "pid=42")
}

func TestFileLogging(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	assert.NoError(t, err)
	defer os.RemoveAll(tempDir)

	err = EnableFileLogging(tempDir, "pmtud.log", 10, 3, 7)
	assert.NoError(t, err)

	Infof("File log test message")

	logFile := filepath.Join(tempDir, "pmtud.log")
	content, err := os.ReadFile(logFile)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "File log test message")

	SetOutput(os.Stderr)
}

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer

	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Infof("Custom output message")
	assert.Contains(t, buf.String(), "Custom output message")
}
