package images

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/c2h5oh/datasize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
)

// VerifyPolicy declares what a pulled image must satisfy.
type VerifyPolicy struct {
	// Platform the image config must report. Nil skips the check.
	Platform *v1.Platform

	// RequiredEnv maps environment variable names to the values the
	// image config must carry.
	RequiredEnv map[string]string

	// RequireRunnable demands a non-empty entrypoint or cmd.
	RequireRunnable bool

	// MaxSizeBytes caps the stored image size. Zero means no cap.
	MaxSizeBytes int64
}

// Verifier validates pulled images against a policy. Violations are
// collected rather than returned one at a time, so a single run reports
// everything that is wrong with an image.
type Verifier struct {
	store   *Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewVerifier creates a verifier. metrics may be nil.
func NewVerifier(store *Store, logger *slog.Logger, metrics *Metrics) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: store, logger: logger, metrics: metrics}
}

// Verify checks the stored image for ref. want, when non-empty, is the
// digest the image must have: what the waiter observed, or the pin a
// digest reference carries.
func (v *Verifier) Verify(ctx context.Context, ref *NormalizedRef, want string, policy VerifyPolicy) error {
	entry, err := v.store.Entry(ref)
	if err != nil {
		return v.fail(ctx, ref, fmt.Errorf("load store entry: %w", err))
	}
	img, err := v.store.Image(ref)
	if err != nil {
		return v.fail(ctx, ref, fmt.Errorf("load stored image: %w", err))
	}

	var errs *multierror.Error

	digest, err := img.Digest()
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("compute stored digest: %w", err))
	} else {
		if digest.String() != entry.Digest {
			errs = multierror.Append(errs, fmt.Errorf("stored layout serves %s, metadata records %s", digest, entry.Digest))
		}
		if want != "" && digest.String() != want {
			errs = multierror.Append(errs, fmt.Errorf("digest %s does not match expected %s", digest, want))
		}
	}

	if err := checkLayers(img); err != nil {
		errs = multierror.Append(errs, err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("read image config: %w", err))
	} else {
		errs = multierror.Append(errs, checkConfig(cfg, policy)...)
	}

	if policy.MaxSizeBytes > 0 && entry.SizeBytes > policy.MaxSizeBytes {
		errs = multierror.Append(errs, fmt.Errorf("image size %s exceeds limit %s",
			datasize.ByteSize(entry.SizeBytes).HumanReadable(),
			datasize.ByteSize(policy.MaxSizeBytes).HumanReadable()))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return v.fail(ctx, ref, err)
	}

	v.logger.Info("image verified", "ref", ref.String(), "digest", entry.Digest)
	return nil
}

func (v *Verifier) fail(ctx context.Context, ref *NormalizedRef, err error) error {
	if v.metrics != nil {
		v.metrics.RecordVerifyFailure(ctx, ref.String())
	}
	return fmt.Errorf("%w: %s: %v", ErrVerificationFailed, ref.String(), err)
}

// checkLayers confirms every layer blob the manifest declares is present
// and readable in the layout.
func checkLayers(img v1.Image) error {
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("list layers: %w", err)
	}
	for i, layer := range layers {
		rc, err := layer.Compressed()
		if err != nil {
			return fmt.Errorf("open layer %d: %w", i, err)
		}
		rc.Close()
	}
	return nil
}

func checkConfig(cfg *v1.ConfigFile, policy VerifyPolicy) []error {
	var errs []error

	if policy.Platform != nil {
		if cfg.OS != policy.Platform.OS || cfg.Architecture != policy.Platform.Architecture {
			errs = append(errs, fmt.Errorf("platform %s/%s does not match expected %s/%s",
				cfg.OS, cfg.Architecture, policy.Platform.OS, policy.Platform.Architecture))
		}
	}

	if policy.RequireRunnable && len(cfg.Config.Entrypoint) == 0 && len(cfg.Config.Cmd) == 0 {
		errs = append(errs, fmt.Errorf("image has neither entrypoint nor cmd"))
	}

	if len(policy.RequiredEnv) > 0 {
		env := parseEnv(cfg.Config.Env)
		keys := lo.Keys(policy.RequiredEnv)
		sort.Strings(keys)
		for _, key := range keys {
			want := policy.RequiredEnv[key]
			got, ok := env[key]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("image config missing env %s", key))
			case got != want:
				errs = append(errs, fmt.Errorf("image config env %s=%q, expected %q", key, got, want))
			}
		}
	}

	return errs
}

// parseEnv splits OCI KEY=VALUE pairs into a map.
func parseEnv(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, val, ok := strings.Cut(kv, "="); ok {
			out[k] = val
		}
	}
	return out
}
