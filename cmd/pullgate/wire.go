//go:build wireinject

package main

import (
	"log/slog"

	"github.com/google/wire"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/pullgate/pullgate/cmd/pullgate/config"
	"github.com/pullgate/pullgate/lib/cli"
	"github.com/pullgate/pullgate/lib/gate"
	"github.com/pullgate/pullgate/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Logger *slog.Logger
	Config *config.Config
	RunID  gate.RunID
	Gate   *gate.Gate
	Reader *sdkmetric.ManualReader
}

// initializeApp is the injector function
func initializeApp(inv *cli.Invocation) (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideConfig,
		providers.ProvideLogger,
		providers.ProvideRunID,
		providers.ProvideMetricsReader,
		providers.ProvideMeter,
		providers.ProvideImageMetrics,
		providers.ProvideStore,
		providers.ProvideCredentials,
		providers.ProvideConfigurator,
		providers.ProvideWaitPolicy,
		providers.ProvideWaiter,
		providers.ProvidePlatform,
		providers.ProvidePuller,
		providers.ProvideVerifier,
		providers.ProvideGateParams,
		providers.ProvideGate,
		wire.Struct(new(application), "*"),
	))
}
