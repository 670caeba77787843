package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential_RedactsAndScrubs(t *testing.T) {
	c := NewCredential("gateway_api_key", []byte("sk_live_123"))
	assert.Equal(t, "sk_live_123", c.Secret())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", c, c, c), "sk_live_123")

	c.Scrub()
	assert.True(t, c.Scrubbed())
	assert.Empty(t, c.Secret())
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("STATFILER_SECRET_GATEWAY_API_KEY", "sk_test_1")
	p, err := Open(Config{Driver: DriverEnv})
	require.NoError(t, err)

	c, err := p.Fetch(context.Background(), "gateway-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_1", c.Secret())

	_, err = p.Fetch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway_api_key"), []byte("sk_file\n"), 0o600))
	p, err := Open(Config{Driver: DriverFile, Dir: dir})
	require.NoError(t, err)

	c, err := p.Fetch(context.Background(), "gateway_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk_file", c.Secret())

	_, err = p.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.Fetch(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "vault"})
	assert.Error(t, err)
	_, err = Open(Config{Driver: DriverFile})
	assert.Error(t, err)
}
