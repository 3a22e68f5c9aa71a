package providers

import (
	"log/slog"
	"os"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/nrednav/cuid2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/pullgate/pullgate/cmd/pullgate/config"
	"github.com/pullgate/pullgate/lib/cli"
	"github.com/pullgate/pullgate/lib/gate"
	"github.com/pullgate/pullgate/lib/images"
	"github.com/pullgate/pullgate/lib/registry"
)

// ProvideConfig loads the environment configuration and applies the
// command-line overrides on top.
func ProvideConfig(inv *cli.Invocation) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	cfg.PythonVersion = inv.PythonVersion
	if inv.ManifestPath != "" {
		cfg.ManifestPath = inv.ManifestPath
	}
	if inv.ReportPath != "" {
		cfg.ReportPath = inv.ReportPath
	}
	if inv.LogLevel != "" {
		cfg.LogLevel = inv.LogLevel
	}
	if inv.LogFormat != "" {
		cfg.LogFormat = inv.LogFormat
	}

	return cfg, nil
}

// ProvideLogger provides a structured logger on stderr, leaving stdout
// to the report-consuming caller.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// ProvideRunID provides the identifier tagging this invocation.
func ProvideRunID() gate.RunID {
	return gate.RunID(cuid2.Generate())
}

// ProvideMetricsReader provides the manual reader the run drains at
// exit. A CI step has no collector to push to.
func ProvideMetricsReader() *sdkmetric.ManualReader {
	return sdkmetric.NewManualReader()
}

// ProvideMeter provides the meter all gate instruments register on.
func ProvideMeter(reader *sdkmetric.ManualReader) metric.Meter {
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "pullgate"))),
	)
	return provider.Meter("pullgate")
}

// ProvideImageMetrics provides the gate instruments.
func ProvideImageMetrics(meter metric.Meter) (*images.Metrics, error) {
	return images.NewMetrics(meter)
}

// ProvideStore provides the local image store.
func ProvideStore(cfg *config.Config) (*images.Store, error) {
	return images.NewStore(cfg.DataDir)
}

// ProvideCredentials provides explicit registry credentials, or nil to
// fall back to the ambient keychain.
func ProvideCredentials(cfg *config.Config) *registry.Credentials {
	if cfg.RegistryUsername == "" && cfg.RegistryPassword == "" {
		return nil
	}
	return &registry.Credentials{
		Username: cfg.RegistryUsername,
		Password: cfg.RegistryPassword,
	}
}

// ProvideConfigurator provides the registry configurator.
func ProvideConfigurator(creds *registry.Credentials, logger *slog.Logger) *registry.Configurator {
	return registry.NewConfigurator(creds, logger)
}

// ProvideWaitPolicy provides the availability wait policy.
func ProvideWaitPolicy(cfg *config.Config) images.WaitPolicy {
	policy := images.DefaultWaitPolicy()
	if cfg.WaitTimeout > 0 {
		policy.Timeout = cfg.WaitTimeout
	}
	if cfg.WaitInterval > 0 {
		policy.InitialInterval = cfg.WaitInterval
	}
	policy.MaxAttempts = cfg.WaitMaxAttempts
	return policy
}

// ProvideWaiter provides the availability waiter.
func ProvideWaiter(policy images.WaitPolicy, cfg *config.Config, logger *slog.Logger, metrics *images.Metrics) *images.Waiter {
	return images.NewWaiter(policy, cfg.RegistryInsecure, logger, metrics)
}

// ProvidePlatform provides the platform images are resolved and
// verified against.
func ProvidePlatform(cfg *config.Config) (*v1.Platform, error) {
	if cfg.Platform == "" {
		return nil, nil
	}
	return config.ParsePlatform(cfg.Platform)
}

// ProvidePuller provides the image puller.
func ProvidePuller(store *images.Store, platform *v1.Platform, cfg *config.Config, logger *slog.Logger, metrics *images.Metrics) *images.Puller {
	return images.NewPuller(store, platform, cfg.RegistryInsecure, logger, metrics)
}

// ProvideVerifier provides the image verifier.
func ProvideVerifier(store *images.Store, logger *slog.Logger, metrics *images.Metrics) *images.Verifier {
	return images.NewVerifier(store, logger, metrics)
}

// ProvideGateParams provides the run-wide gate settings.
func ProvideGateParams(cfg *config.Config) gate.Params {
	return gate.Params{
		ForcePull:    cfg.ForcePull,
		VerifyImage:  cfg.VerifyImage,
		Insecure:     cfg.RegistryInsecure,
		MaxSizeBytes: cfg.MaxImageSize,
		Parallelism:  cfg.Parallelism,
	}
}

// ProvideGate provides the gate workflow.
func ProvideGate(runID gate.RunID, params gate.Params, configurator *registry.Configurator, waiter *images.Waiter, puller *images.Puller, verifier *images.Verifier, logger *slog.Logger) *gate.Gate {
	return gate.New(runID, params, configurator, waiter, puller, verifier, logger)
}
