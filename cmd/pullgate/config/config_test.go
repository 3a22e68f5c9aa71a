package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var gateEnvKeys = []string{
	"IMAGE_NAME", "IMAGE_TAG", "FORCE_PULL", "VERIFY_IMAGE",
	"REGISTRY_USERNAME", "REGISTRY_PASSWORD", "REGISTRY_INSECURE",
	"DATA_DIR", "WAIT_TIMEOUT", "WAIT_INTERVAL", "WAIT_MAX_ATTEMPTS",
	"PLATFORM", "MAX_IMAGE_SIZE", "PULL_PARALLELISM",
	"IMAGE_MANIFEST", "REPORT_PATH", "LOG_LEVEL", "LOG_FORMAT",
}

func clearGateEnv(t *testing.T) {
	t.Helper()
	for _, key := range gateEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearGateEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.ImageName)
	require.Equal(t, "latest", cfg.ImageTag)
	require.True(t, cfg.ForcePull)
	require.True(t, cfg.VerifyImage)
	require.False(t, cfg.RegistryInsecure)
	require.Equal(t, "/var/lib/pullgate", cfg.DataDir)
	require.Equal(t, 10*time.Minute, cfg.WaitTimeout)
	require.Equal(t, 5*time.Second, cfg.WaitInterval)
	require.Equal(t, uint(0), cfg.WaitMaxAttempts)
	require.Equal(t, "linux/"+runtime.GOARCH, cfg.Platform)
	require.Equal(t, int64(0), cfg.MaxImageSize)
	require.Equal(t, 4, cfg.Parallelism)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFlagSentinels(t *testing.T) {
	// Only the literal string "false" disables; anything else, including
	// unset, leaves the behaviour on.
	tests := []struct {
		value   string
		enabled bool
	}{
		{"", true},
		{"false", false},
		{"true", true},
		{"FALSE", true},
		{"0", true},
		{"no", true},
	}

	for _, tt := range tests {
		name := tt.value
		if name == "" {
			name = "unset"
		}
		t.Run(name, func(t *testing.T) {
			clearGateEnv(t)
			t.Setenv("FORCE_PULL", tt.value)
			t.Setenv("VERIFY_IMAGE", tt.value)

			cfg, err := Load()
			require.NoError(t, err)
			require.Equal(t, tt.enabled, cfg.ForcePull)
			require.Equal(t, tt.enabled, cfg.VerifyImage)
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	clearGateEnv(t)
	t.Setenv("IMAGE_NAME", "registry.example.com/ci/base")
	t.Setenv("IMAGE_TAG", "3.10-slim")
	t.Setenv("REGISTRY_USERNAME", "ci")
	t.Setenv("REGISTRY_PASSWORD", "secret")
	t.Setenv("REGISTRY_INSECURE", "true")
	t.Setenv("DATA_DIR", "/tmp/pullgate-test")
	t.Setenv("WAIT_TIMEOUT", "30s")
	t.Setenv("WAIT_INTERVAL", "250ms")
	t.Setenv("WAIT_MAX_ATTEMPTS", "12")
	t.Setenv("PLATFORM", "linux/arm64")
	t.Setenv("MAX_IMAGE_SIZE", "512MB")
	t.Setenv("PULL_PARALLELISM", "2")
	t.Setenv("IMAGE_MANIFEST", "images.yaml")
	t.Setenv("REPORT_PATH", "report.json")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "registry.example.com/ci/base", cfg.ImageName)
	require.Equal(t, "3.10-slim", cfg.ImageTag)
	require.Equal(t, "ci", cfg.RegistryUsername)
	require.Equal(t, "secret", cfg.RegistryPassword)
	require.True(t, cfg.RegistryInsecure)
	require.Equal(t, "/tmp/pullgate-test", cfg.DataDir)
	require.Equal(t, 30*time.Second, cfg.WaitTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.WaitInterval)
	require.Equal(t, uint(12), cfg.WaitMaxAttempts)
	require.Equal(t, "linux/arm64", cfg.Platform)
	require.Equal(t, int64(512*1024*1024), cfg.MaxImageSize)
	require.Equal(t, 2, cfg.Parallelism)
	require.Equal(t, "images.yaml", cfg.ManifestPath)
	require.Equal(t, "report.json", cfg.ReportPath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"WAIT_TIMEOUT", "eventually"},
		{"WAIT_INTERVAL", "5 seconds"},
		{"WAIT_MAX_ATTEMPTS", "-1"},
		{"MAX_IMAGE_SIZE", "plenty"},
		{"PULL_PARALLELISM", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearGateEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestParsePlatform(t *testing.T) {
	platform, err := ParsePlatform("linux/amd64")
	require.NoError(t, err)
	require.Equal(t, "linux", platform.OS)
	require.Equal(t, "amd64", platform.Architecture)

	for _, bad := range []string{"", "linux", "linux/", "/amd64"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParsePlatform(bad)
			require.Error(t, err)
		})
	}
}
