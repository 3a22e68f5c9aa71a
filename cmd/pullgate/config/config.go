package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration for a gate run. The version
// is bound from the CLI argument; everything else comes from the
// environment.
type Config struct {
	PythonVersion string

	// Image coordinates are externally defined; the gate never derives
	// them from the version argument.
	ImageName string
	ImageTag  string

	// ForcePull and VerifyImage follow the gate flag convention: only
	// the literal string "false" disables them.
	ForcePull   bool
	VerifyImage bool

	RegistryUsername string
	RegistryPassword string
	RegistryInsecure bool

	DataDir string

	WaitTimeout     time.Duration
	WaitInterval    time.Duration
	WaitMaxAttempts uint

	Platform     string
	MaxImageSize int64
	Parallelism  int

	ManifestPath string
	ReportPath   string

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
// Automatically loads .env file if present.
func Load() (*Config, error) {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		ImageName:        os.Getenv("IMAGE_NAME"),
		ImageTag:         getEnv("IMAGE_TAG", "latest"),
		ForcePull:        flagEnabled("FORCE_PULL"),
		VerifyImage:      flagEnabled("VERIFY_IMAGE"),
		RegistryUsername: os.Getenv("REGISTRY_USERNAME"),
		RegistryPassword: os.Getenv("REGISTRY_PASSWORD"),
		RegistryInsecure: os.Getenv("REGISTRY_INSECURE") == "true",
		DataDir:          getEnv("DATA_DIR", "/var/lib/pullgate"),
		Platform:         getEnv("PLATFORM", "linux/"+runtime.GOARCH),
		ManifestPath:     os.Getenv("IMAGE_MANIFEST"),
		ReportPath:       os.Getenv("REPORT_PATH"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.WaitTimeout, err = durationEnv("WAIT_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WaitInterval, err = durationEnv("WAIT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WaitMaxAttempts, err = uintEnv("WAIT_MAX_ATTEMPTS", 0); err != nil {
		return nil, err
	}
	if cfg.MaxImageSize, err = sizeEnv("MAX_IMAGE_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.Parallelism, err = intEnv("PULL_PARALLELISM", 4); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParsePlatform parses "os/arch" into a platform.
func ParsePlatform(s string) (*v1.Platform, error) {
	osName, arch, ok := strings.Cut(s, "/")
	if !ok || osName == "" || arch == "" {
		return nil, fmt.Errorf("invalid platform %q, expected os/arch", s)
	}
	return &v1.Platform{OS: osName, Architecture: arch}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// flagEnabled implements the gate flag convention: only the literal
// string "false" disables; any other value, including unset, enables.
func flagEnabled(key string) bool {
	return os.Getenv(key) != "false"
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func uintEnv(key string, defaultValue uint) (uint, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return uint(n), nil
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

// sizeEnv parses human-readable sizes like "8GB".
func sizeEnv(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	size, err := datasize.ParseString(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return int64(size.Bytes()), nil
}
