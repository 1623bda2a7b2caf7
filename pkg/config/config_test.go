package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	t.Parallel()
	c := Default()
	require.Equal(t, "0.0.0.0", c.BindAddress)
	require.Equal(t, 30*time.Second, c.ReadTimeout)
	require.Equal(t, 8192, c.MaxHeaderBytes)
	require.Equal(t, 1<<20, c.MaxBodyBytes)
	require.False(t, c.KeepAlive)
	require.Zero(t, c.Port)
}

func TestNewAppliesOptions(t *testing.T) {
	t.Parallel()
	c := New(
		WithPort(9090),
		WithBindAddress("127.0.0.1"),
		WithWorkers(4),
		WithReadTimeout(5*time.Second),
		WithMaxHeaderBytes(4096),
		WithMaxBodyBytes(2048),
		WithKeepAlive(true),
	)
	require.Equal(t, 9090, c.Port)
	require.Equal(t, "127.0.0.1", c.BindAddress)
	require.Equal(t, 4, c.Workers)
	require.Equal(t, 5*time.Second, c.ReadTimeout)
	require.Equal(t, 4096, c.MaxHeaderBytes)
	require.Equal(t, 2048, c.MaxBodyBytes)
	require.True(t, c.KeepAlive)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPort, EnvBindAddress, EnvWorkers, EnvReadTimeout, EnvMaxHeaderBytes, EnvMaxBodyBytes, EnvKeepAlive, EnvAllowedOrigins} {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "8081")
	t.Setenv(EnvBindAddress, "127.0.0.1")
	t.Setenv(EnvWorkers, "8")
	t.Setenv(EnvReadTimeout, "10s")
	t.Setenv(EnvMaxHeaderBytes, "16KiB")
	t.Setenv(EnvMaxBodyBytes, "2MiB")
	t.Setenv(EnvKeepAlive, "true")

	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 8081, c.Port)
	require.Equal(t, "127.0.0.1", c.BindAddress)
	require.Equal(t, 8, c.Workers)
	require.Equal(t, 10*time.Second, c.ReadTimeout)
	require.Equal(t, 16*1024, c.MaxHeaderBytes)
	require.Equal(t, 2*1024*1024, c.MaxBodyBytes)
	require.True(t, c.KeepAlive)
}

func TestFromEnvInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "not-a-number")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvInvalidByteSize(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvMaxBodyBytes, "not-a-size")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestFromEnvParsesAllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAllowedOrigins, "https://a.example, https://b.example ,")
	c, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
}

func TestDescribeIncludesHumanReadableSizes(t *testing.T) {
	t.Parallel()
	c := New(WithPort(80), WithMaxHeaderBytes(8192), WithMaxBodyBytes(1<<20))
	s := c.Describe()
	require.Contains(t, s, "port=80")
	require.Contains(t, s, "8KiB")
	require.Contains(t, s, "1MiB")
}
