package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sockets.yaml")
	err := os.WriteFile(path, []byte(`
listen:
  host: 127.0.0.1
  port: 9000
  non_blocking: true
log_level: debug
`), 0o644)
	assert.NoError(t, err)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Listen.Host)
	assert.Equal(t, 9000, cfg.Listen.Port)
	assert.True(t, cfg.Listen.NonBlocking)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sockets.yaml")
	err := os.WriteFile(path, []byte("listen:\n  path: /tmp/echo.sock\n"), 0o644)
	assert.NoError(t, err)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/echo.sock", cfg.Listen.Path)
	assert.Equal(t, 4242, cfg.Listen.Port, "unset fields keep their defaults")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
