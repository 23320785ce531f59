package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "chimp.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir = "~/chats"
batch_size = 200
timezone = "Asia/Tokyo"
import_wait_timeout = "5s"

[log]
level = "debug"
format = "json"

[nats]
url = "nats://localhost:4222"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "chats"), cfg.DataDir)
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, int64(64<<20), cfg.PreprocessThreshold())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "chimp.import", cfg.NATS.Subject, "unset keys keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
	d, err := cfg.WaitTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "chimp", "sessions"), cfg.DataDir)
	assert.Equal(t, 5000, cfg.BatchSize)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	for name, body := range map[string]string{
		"batch":    "batch_size = -1",
		"timezone": `timezone = "Mars/Olympus"`,
		"timeout":  `import_wait_timeout = "soon"`,
		"sampling": "[tracing]\nsampling_ratio = 2.0",
		"syntax":   "batch_size = ",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
