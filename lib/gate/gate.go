// Package gate runs the image readiness workflow that fronts a CI job:
// configure registry access, wait for the image, pull it, verify it.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"golang.org/x/sync/errgroup"

	"github.com/pullgate/pullgate/lib/images"
)

// Stage names one step of the gate workflow.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageWait      Stage = "wait"
	StagePull      Stage = "pull"
	StageVerify    Stage = "verify"
)

// Exit codes per failing stage, so a CI caller can tell which stage
// broke from the status alone. Usage errors exit 1 (missing version
// argument) and 2 (bad flags) before the workflow starts.
const (
	ExitConfigure = 3
	ExitWait      = 4
	ExitPull      = 5
	ExitVerify    = 6
)

// StageError reports which stage failed. The cause is left intact.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps the failing stage to the process exit code.
func (e *StageError) ExitCode() int {
	switch e.Stage {
	case StageConfigure:
		return ExitConfigure
	case StageWait:
		return ExitWait
	case StagePull:
		return ExitPull
	case StageVerify:
		return ExitVerify
	}
	return 1
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Target is one image to gate, with its verification expectations.
type Target struct {
	Coordinates images.Coordinates
	RequiredEnv map[string]string
	Platform    *v1.Platform
}

// Configurator yields authenticated remote options for a reference.
type Configurator interface {
	Configure(ctx context.Context, ref name.Reference) ([]remote.Option, error)
}

// Waiter blocks until the registry serves the reference.
type Waiter interface {
	WaitFor(ctx context.Context, ref *images.NormalizedRef, opts []remote.Option) (*images.Availability, error)
}

// Puller ensures the reference is present in the local store.
type Puller interface {
	Pull(ctx context.Context, ref *images.NormalizedRef, opts []remote.Option, force bool) (*images.PullResult, error)
}

// Verifier validates the pulled image.
type Verifier interface {
	Verify(ctx context.Context, ref *images.NormalizedRef, want string, policy images.VerifyPolicy) error
}

// RunID tags one gate invocation across logs and the report.
type RunID string

// Params carries the run-wide settings the gate needs.
type Params struct {
	// ForcePull fetches even when the store already has the image.
	ForcePull bool

	// VerifyImage runs the verify stage after a successful pull.
	VerifyImage bool

	// Insecure permits plain-HTTP registries.
	Insecure bool

	// MaxSizeBytes caps verified image size. Zero means no cap.
	MaxSizeBytes int64

	// Parallelism bounds how many targets are gated at once.
	Parallelism int
}

// Gate drives the configure/wait/pull/verify workflow.
type Gate struct {
	runID        RunID
	params       Params
	configurator Configurator
	waiter       Waiter
	puller       Puller
	verifier     Verifier
	logger       *slog.Logger
}

// New creates a gate.
func New(runID RunID, params Params, configurator Configurator, waiter Waiter, puller Puller, verifier Verifier, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if params.Parallelism <= 0 {
		params.Parallelism = 1
	}
	return &Gate{
		runID:        runID,
		params:       params,
		configurator: configurator,
		waiter:       waiter,
		puller:       puller,
		verifier:     verifier,
		logger:       logger,
	}
}

// Run gates a single target. The returned report is populated as far as
// the workflow got, whether or not an error is returned.
func (g *Gate) Run(ctx context.Context, target Target) (*ImageReport, error) {
	report := &ImageReport{Ref: target.Coordinates.String()}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	ref, err := images.ParseCoordinates(target.Coordinates)
	if err != nil {
		report.fail(StageConfigure, err)
		return report, stageErr(StageConfigure, err)
	}
	report.Ref = ref.String()

	remoteRef, err := ref.Remote(g.params.Insecure)
	if err != nil {
		report.fail(StageConfigure, err)
		return report, stageErr(StageConfigure, err)
	}

	logger := g.logger.With("ref", ref.String())
	logger.Info("gating image", "force_pull", g.params.ForcePull, "verify", g.params.VerifyImage)

	opts, err := g.configurator.Configure(ctx, remoteRef)
	if err != nil {
		report.fail(StageConfigure, err)
		return report, stageErr(StageConfigure, err)
	}

	avail, err := g.waiter.WaitFor(ctx, ref, opts)
	if err != nil {
		report.fail(StageWait, err)
		return report, stageErr(StageWait, err)
	}
	report.WaitAttempts = avail.Attempts
	report.WaitElapsed = avail.Elapsed

	// Tag references pin the digest the waiter observed; digest
	// references pin themselves.
	want := avail.Digest.String()
	if ref.IsDigest() {
		want = ref.Digest()
	}

	result, err := g.puller.Pull(ctx, ref, opts, g.params.ForcePull)
	if err != nil {
		report.fail(StagePull, err)
		return report, stageErr(StagePull, err)
	}
	report.Digest = result.Digest
	report.Cached = result.Cached
	report.SizeBytes = result.SizeBytes
	report.Size = datasize.ByteSize(result.SizeBytes).HumanReadable()
	report.PullElapsed = result.Elapsed

	if result.Digest != want && !result.Cached {
		// The tag was repushed between wait and pull; the pulled image
		// wins. A cached mismatch is left for verify to flag.
		logger.Warn("digest changed between wait and pull", "waited", want, "pulled", result.Digest)
		want = result.Digest
	}

	if !g.params.VerifyImage {
		logger.Info("image verification disabled, skipping")
		report.SkippedVerify = true
		return report, nil
	}

	policy := images.VerifyPolicy{
		Platform:        target.Platform,
		RequiredEnv:     target.RequiredEnv,
		RequireRunnable: true,
		MaxSizeBytes:    g.params.MaxSizeBytes,
	}
	if err := g.verifier.Verify(ctx, ref, want, policy); err != nil {
		report.fail(StageVerify, err)
		return report, stageErr(StageVerify, err)
	}
	report.Verified = true

	return report, nil
}

// RunAll gates every target, fanning out up to Parallelism at a time.
// The first stage failure cancels the remaining work; every target that
// began still gets a report entry. The returned error is the first
// failure and carries its StageError for exit-code dispatch.
func (g *Gate) RunAll(ctx context.Context, targets []Target) (*Report, error) {
	report := &Report{
		RunID:     string(g.runID),
		StartedAt: time.Now().UTC(),
		Images:    make([]*ImageReport, len(targets)),
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.params.Parallelism)

	for i, target := range targets {
		grp.Go(func() error {
			r, err := g.Run(gctx, target)
			report.Images[i] = r
			return err
		})
	}

	err := grp.Wait()
	report.FinishedAt = time.Now().UTC()
	report.Succeeded = err == nil
	return report, err
}
