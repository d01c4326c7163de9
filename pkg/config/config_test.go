package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relationcore/rebacd/pkg/config"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := config.LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.ListenAddress)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadFromEnvWithAuth(t *testing.T) {
	t.Setenv("REBACD_AUTH", "root/supersecretpw")
	t.Setenv("REBACD_JWT_SECRET", "a-secret-long-enough-for-hmac")

	cfg := config.LoadFromEnv()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "root", cfg.Auth.InitialUsername)
	assert.Equal(t, "supersecretpw", cfg.Auth.InitialPassword)
}

func TestValidateRejectsShortPassword(t *testing.T) {
	t.Setenv("REBACD_AUTH", "root/short")
	cfg := config.LoadFromEnv()
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rebacd-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("server:\n  listen_address: \"127.0.0.1:9090\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg := config.LoadFromEnv()
	require.NoError(t, config.LoadFromFile(cfg, f.Name()))
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.ListenAddress)
}
