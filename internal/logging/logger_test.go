package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerSingletonPerComponent(t *testing.T) {
	a := NewLogger("session")
	b := NewLogger("session")
	c := NewLogger("plugin")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "session", a.Data["component"])
}

func TestConfigureFileSink(t *testing.T) {
	t.Setenv(EnvLevel, "")
	path := filepath.Join(t.TempDir(), "sudo_pair.log")

	require.NoError(t, Configure(Config{Level: "info", File: path}))
	NewLogger("test").Info("pairing started")
	require.NoError(t, Configure(Config{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"pairing started"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestConfigureEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	require.NoError(t, Configure(Config{Level: "debug"}))
	assert.Equal(t, logrus.ErrorLevel, base.GetLevel())

	t.Setenv(EnvLevel, "")
	require.NoError(t, Configure(Config{}))
	assert.Equal(t, logrus.WarnLevel, base.GetLevel())
}

func TestConfigureBadLevel(t *testing.T) {
	t.Setenv(EnvLevel, "")
	assert.Error(t, Configure(Config{Level: "loud"}))
}

func TestDefaultIsQuiet(t *testing.T) {
	t.Setenv(EnvLevel, "")
	require.NoError(t, Configure(Config{}))

	var buf bytes.Buffer
	SetOutput(&buf)
	NewLogger("quiet").Info("hidden")
	assert.Empty(t, buf.String())
}
