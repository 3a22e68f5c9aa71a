package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pullgate/pullgate/cmd/pullgate/config"
	"github.com/pullgate/pullgate/lib/cli"
	"github.com/pullgate/pullgate/lib/gate"
	"github.com/pullgate/pullgate/lib/images"
)

func main() {
	// Minimal logger until the configured one is installed.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		var stageErr *gate.StageError
		if errors.As(err, &stageErr) {
			slog.Error("image gate failed", "stage", stageErr.Stage, "error", stageErr.Err)
			os.Exit(stageErr.ExitCode())
		}
		slog.Error("image gate failed", "error", err)
		os.Exit(1)
	}
}

func run(outW io.Writer, args []string) error {
	inv, done, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	app, cleanup, err := initializeApp(inv)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	logger := app.Logger.With("run_id", string(app.RunID))
	slog.SetDefault(logger)

	// Downstream tooling reads the version from the environment.
	if err := os.Setenv("PYTHON_MAJOR_MINOR_VERSION", inv.PythonVersion); err != nil {
		return fmt.Errorf("export python version: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, err := buildTargets(app.Config, inv)
	if err != nil {
		return err
	}

	logger.Info("starting image gate",
		"python_version", inv.PythonVersion,
		"images", len(targets))

	report, runErr := app.Gate.RunAll(ctx, targets)
	report.PythonVersion = inv.PythonVersion

	reportPath := app.Config.ReportPath
	if reportPath == "" {
		reportPath = filepath.Join(app.Config.DataDir, "reports", string(app.RunID)+".json")
	}
	if err := gate.WriteReport(reportPath, report); err != nil {
		logger.Warn("failed to write run report", "path", reportPath, "error", err)
	} else {
		logger.Info("run report written", "path", reportPath)
	}

	dumpMetrics(ctx, logger, app.Reader)

	if runErr != nil {
		return runErr
	}

	logger.Info("image gate complete", "images", len(targets))
	return nil
}

// buildTargets assembles the primary target from configuration plus any
// manifest entries.
func buildTargets(cfg *config.Config, inv *cli.Invocation) ([]gate.Target, error) {
	if cfg.ImageName == "" {
		return nil, fmt.Errorf("IMAGE_NAME is required")
	}

	platform, err := config.ParsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}

	expectations := map[string]string{
		"PYTHON_MAJOR_MINOR_VERSION": inv.PythonVersion,
	}
	for k, v := range inv.Expectations {
		expectations[k] = v
	}

	targets := []gate.Target{{
		Coordinates: images.Coordinates{Name: cfg.ImageName, Tag: cfg.ImageTag},
		RequiredEnv: expectations,
		Platform:    platform,
	}}

	if cfg.ManifestPath == "" {
		return targets, nil
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	for _, img := range manifest.Images {
		target := gate.Target{
			Coordinates: images.Coordinates{Name: img.Ref},
			RequiredEnv: img.Env,
			Platform:    platform,
		}
		if img.Platform != "" {
			p, err := config.ParsePlatform(img.Platform)
			if err != nil {
				return nil, err
			}
			target.Platform = p
		}
		targets = append(targets, target)
	}

	return targets, nil
}

// dumpMetrics drains the manual reader into the debug log.
func dumpMetrics(ctx context.Context, logger *slog.Logger, reader *sdkmetric.ManualReader) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		logger.Warn("collect metrics", "error", err)
		return
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			logger.Debug("metric", "name", m.Name, "data", fmt.Sprintf("%+v", m.Data))
		}
	}
}
