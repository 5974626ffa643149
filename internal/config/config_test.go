package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "waygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.Equal(t, "auth", cfg.WhatsApp.CredentialDir)
	assert.True(t, cfg.WhatsApp.AutoConnect)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 5*time.Second, cfg.RetryDelay())
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.HTTP.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
http:
  port: 8080
whatsapp:
  credential_dir: /var/lib/waygate/auth
  auto_connect: false
  reconnect_delay: 250ms
log:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "/var/lib/waygate/auth", cfg.WhatsApp.CredentialDir)
	assert.False(t, cfg.WhatsApp.AutoConnect)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
http:
  port: 8080
`)
	t.Setenv("WAYGATE_HTTP_PORT", "9001")
	t.Setenv("WAYGATE_WHATSAPP_CREDENTIAL_DIR", "/tmp/waygate-auth")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.HTTP.Port)
	assert.Equal(t, "/tmp/waygate-auth", cfg.WhatsApp.CredentialDir)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad duration", "whatsapp:\n  reconnect_delay: soon\n"},
		{"negative duration", "whatsapp:\n  retry_delay: -5s\n"},
		{"port out of range", "http:\n  port: 70000\n"},
		{"unknown log level", "log:\n  level: verbose\n"},
		{"empty credential dir", "whatsapp:\n  credential_dir: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
