package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/subscriber-transfer/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.LockWait)
	assert.False(t, cfg.DirectMode)
	assert.Contains(t, cfg.TrustedCIDRs, "127.0.0.0/8")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("DIRECT_MODE", "true")
	t.Setenv("TRUSTED_CIDRS", "10.0.0.0/8,192.168.1.0/24")
	t.Setenv("LOCK_WAIT", "250ms")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.True(t, cfg.DirectMode)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.0/24"}, cfg.TrustedCIDRs)
	assert.Equal(t, 250*time.Millisecond, cfg.LockWait)
}
