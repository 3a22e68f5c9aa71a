package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// WaitPolicy bounds how long the waiter polls the registry for an image.
type WaitPolicy struct {
	// Timeout is the total budget for the wait.
	Timeout time.Duration

	// InitialInterval is the delay before the second probe. Subsequent
	// delays grow exponentially (factor 1.5, jittered) up to MaxInterval.
	InitialInterval time.Duration

	// MaxInterval caps the delay between probes.
	MaxInterval time.Duration

	// MaxAttempts caps the number of probes. Zero means bounded by
	// Timeout only.
	MaxAttempts uint
}

// DefaultWaitPolicy returns the default wait policy.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:         10 * time.Minute,
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
	}
}

// Availability describes a manifest observed in the registry.
type Availability struct {
	Digest    v1.Hash
	MediaType types.MediaType
	SizeBytes int64
	Attempts  int
	Elapsed   time.Duration
}

// Waiter polls a registry until it serves a manifest for a reference.
type Waiter struct {
	policy   WaitPolicy
	insecure bool
	logger   *slog.Logger
	metrics  *Metrics
}

// NewWaiter creates a waiter. metrics may be nil.
func NewWaiter(policy WaitPolicy, insecure bool, logger *slog.Logger, metrics *Metrics) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{policy: policy, insecure: insecure, logger: logger, metrics: metrics}
}

// WaitFor blocks until the registry serves a manifest for ref, the policy
// budget runs out, or ctx is cancelled. The probe is a manifest HEAD:
// missing tags and transport hiccups retry, auth failures do not, since
// polling cannot heal bad credentials.
func (w *Waiter) WaitFor(ctx context.Context, ref *NormalizedRef, opts []remote.Option) (*Availability, error) {
	remoteRef, err := ref.Remote(w.insecure)
	if err != nil {
		return nil, err
	}

	if w.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.policy.Timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	if w.policy.InitialInterval > 0 {
		b.InitialInterval = w.policy.InitialInterval
	}
	if w.policy.MaxInterval > 0 {
		b.MaxInterval = w.policy.MaxInterval
	}

	start := time.Now()
	attempts := 0

	probe := func() (*v1.Descriptor, error) {
		attempts++
		desc, err := remote.Head(remoteRef, append([]remote.Option{remote.WithContext(ctx)}, opts...)...)
		if err != nil {
			if isTerminalProbeErr(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return desc, nil
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.logger.Debug("image not yet available",
				"ref", ref.String(), "attempt", attempts, "retry_in", next, "error", err)
		}),
	}
	if w.policy.Timeout > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(w.policy.Timeout))
	}
	if w.policy.MaxAttempts > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(w.policy.MaxAttempts))
	}

	desc, err := backoff.Retry(ctx, probe, retryOpts...)
	elapsed := time.Since(start)
	if w.metrics != nil {
		w.metrics.RecordWait(ctx, ref.String(), attempts, elapsed, err == nil)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, fmt.Errorf("wait for %s: %w", ref.String(), err)
		case isTerminalProbeErr(err):
			return nil, fmt.Errorf("probe %s: %w", ref.String(), err)
		default:
			return nil, fmt.Errorf("%w: %s after %d attempts in %s: %v",
				ErrNotAvailable, ref.String(), attempts, elapsed.Round(time.Millisecond), err)
		}
	}

	w.logger.Info("image available",
		"ref", ref.String(),
		"digest", desc.Digest.String(),
		"attempts", attempts,
		"elapsed", elapsed.Round(time.Millisecond))

	return &Availability{
		Digest:    desc.Digest,
		MediaType: desc.MediaType,
		SizeBytes: desc.Size,
		Attempts:  attempts,
		Elapsed:   elapsed,
	}, nil
}

// isTerminalProbeErr reports whether a probe failure cannot be healed by
// waiting: a missing tag or flaky transport retries, bad credentials do
// not.
func isTerminalProbeErr(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
