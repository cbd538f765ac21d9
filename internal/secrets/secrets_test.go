package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvCredentials(t *testing.T) {
	t.Setenv("RAILRUN_KRAKEN_API_KEY", "key-1")
	t.Setenv("RAILRUN_KRAKEN_API_SECRET", "secret-1")
	t.Setenv("RAILRUN_SWIFTLINE_API_KEY", "key-2")
	t.Setenv("OTHERAPP_KRAKEN_API_KEY", "ignored")

	creds := NewEnvCredentials("RAILRUN")

	c, ok := creds.Get("kraken")
	require.True(t, ok)
	assert.Equal(t, "key-1", c.APIKey)
	assert.Equal(t, "secret-1", c.APISecret)

	c, ok = creds.Get("swiftline")
	require.True(t, ok)
	assert.Equal(t, "key-2", c.APIKey)
	assert.Empty(t, c.APISecret)

	_, ok = creds.Get("rampnetwork")
	assert.False(t, ok)
}

func TestEnvCredentials_CaseInsensitiveProvider(t *testing.T) {
	t.Setenv("RAILRUN_KRAKEN_API_KEY", "key")
	creds := NewEnvCredentials("RAILRUN")
	_, ok := creds.Get("KRAKEN")
	assert.True(t, ok)
}

func TestFileCredentials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kraken_api_key"), []byte("fk\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kraken_api_secret"), []byte("fs"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	creds := NewFileCredentials(dir)

	c, ok := creds.Get("kraken")
	require.True(t, ok)
	assert.Equal(t, "fk", c.APIKey, "value is trimmed of trailing whitespace")
	assert.Equal(t, "fs", c.APISecret)

	_, ok = creds.Get("swiftline")
	assert.False(t, ok)
}

func TestFileCredentials_MissingDir(t *testing.T) {
	creds := NewFileCredentials("/nonexistent/path")
	_, ok := creds.Get("kraken")
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	creds := Static{"kraken": {APIKey: "k"}}
	c, ok := creds.Get("kraken")
	require.True(t, ok)
	assert.Equal(t, "k", c.APIKey)
}
