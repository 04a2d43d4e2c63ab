package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), WVBDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Retries().MaxRetries)
	assert.Equal(t, time.Second, cfg.AutoBatchSettings().IdleInterval)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[weaviate]
url = "https://weaviate.example.com"
transport = "grpc"
grpc_host = "weaviate.example.com:443"
grpc_secured = true
consistency_level = "QUORUM"

[batch]
max_retries = 5
initial_backoff = "250ms"
max_backoff = "10s"

[auto_batch]
enabled = false
idle_interval = "2s"

[dead_letter]
backend = "sqlite"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://weaviate.example.com", cfg.Weaviate.URL)
	assert.Equal(t, TransportGRPC, cfg.Weaviate.Transport)
	assert.True(t, cfg.Weaviate.GRPCSecured)
	assert.Equal(t, "QUORUM", cfg.Weaviate.ConsistencyLevel)

	r := cfg.Retries()
	assert.Equal(t, 5, r.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 2.0, r.BackoffFactor) // default kept
	assert.Equal(t, 10*time.Second, r.MaxBackoff)

	assert.False(t, cfg.AutoBatch.Enabled)
	assert.Equal(t, 2*time.Second, cfg.AutoBatchSettings().IdleInterval)
	assert.Equal(t, 100, cfg.AutoBatchSettings().MaxObjects)

	assert.Equal(t, filepath.Join(filepath.Dir(path), DeadLetterSQLiteFile), cfg.DeadLetterPath())
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[weaviate]
url = "http://localhost:8080"
api_key = "from-file"
`)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvWeaviateURL, "http://other:8080")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Weaviate.APIKey)
	assert.Equal(t, "http://other:8080", cfg.Weaviate.URL)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad duration":   "[batch]\ninitial_backoff = \"soon\"\n",
		"zero retries":   "[batch]\nmax_retries = 0\n",
		"grpc no host":   "[weaviate]\ntransport = \"grpc\"\n",
		"bad transport":  "[weaviate]\ntransport = \"carrier-pigeon\"\n",
		"bad backend":    "[dead_letter]\nbackend = \"redis\"\n",
		"zero idle":      "[auto_batch]\nidle_interval = \"0s\"\n",
		"malformed toml": "[batch\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestInitialize_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(dir, "http://weaviate:8080")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, WVBDir), cfg.WVBPath())

	cfg.Weaviate.ServerVersion = "1.30.0"
	require.NoError(t, cfg.Save())

	loaded, err := LoadFile(filepath.Join(dir, WVBDir, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, "http://weaviate:8080", loaded.Weaviate.URL)
	assert.Equal(t, "1.30.0", loaded.Weaviate.ServerVersion)
	assert.Equal(t, cfg.Batch, loaded.Batch)
	assert.Equal(t, filepath.Join(dir, WVBDir, DeadLetterBoltFile), loaded.DeadLetterPath())

	_, err = Initialize(dir, "")
	assert.Error(t, err)
}

func TestFindWVBRoot(t *testing.T) {
	root := t.TempDir()
	_, err := Initialize(root, "")
	require.NoError(t, err)

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	found, err := FindWVBRoot()
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(filepath.Join(root, WVBDir))
	got, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, want, got)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Weaviate.URL)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
