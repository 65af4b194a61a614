package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configTestYAML = `
server:
  address: ":9090"
thread:
  secret: ${THREADSYNC_TEST_SECRET}
  idle_ttl: 30m
sync:
  url: wss://store.example.com/sync
  api_key: ${THREADSYNC_TEST_API_KEY}
  request_timeout: 5s
store:
  backend: postgres
  postgres:
    dsn: postgres://threadsync@localhost/threadsync
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("THREADSYNC_TEST_SECRET", "expanded-secret")
	t.Setenv("THREADSYNC_TEST_API_KEY", "expanded-key")

	cfg, err := LoadConfig(writeConfig(t, configTestYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "expanded-secret", cfg.Thread.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Thread.IdleTTL)
	assert.Equal(t, "wss://store.example.com/sync", cfg.Sync.URL)
	assert.Equal(t, "expanded-key", cfg.Sync.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "postgres://threadsync@localhost/threadsync", cfg.Store.Postgres.DSN)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "thread:\n  secret: s\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "thread: [broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid minimal",
			cfg:  Config{Thread: ThreadConfig{Secret: "s"}},
		},
		{
			name: "valid with sync",
			cfg: Config{
				Thread: ThreadConfig{Secret: "s"},
				Sync:   SyncConfig{URL: "wss://x/sync", APIKey: "k"},
			},
		},
		{
			name:    "missing secret",
			cfg:     Config{},
			wantErr: "thread.secret is required",
		},
		{
			name: "api key without url",
			cfg: Config{
				Thread: ThreadConfig{Secret: "s"},
				Sync:   SyncConfig{APIKey: "k"},
			},
			wantErr: "sync.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars_UnsetIsEmpty(t *testing.T) {
	assert.Equal(t, "key: ", expandEnvVars("key: ${THREADSYNC_TEST_UNSET_VAR}"))
}
