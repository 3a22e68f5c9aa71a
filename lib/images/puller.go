package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// PullResult describes the outcome of a single pull.
type PullResult struct {
	Ref       string        `json:"ref"`
	Digest    string        `json:"digest"`
	SizeBytes int64         `json:"size_bytes"`
	Platform  string        `json:"platform,omitempty"`
	Cached    bool          `json:"cached"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Puller fetches images into the local store. A reference already in the
// store is not fetched again unless force demands it.
type Puller struct {
	store    *Store
	platform *v1.Platform
	insecure bool
	logger   *slog.Logger
	metrics  *Metrics
}

// NewPuller creates a puller. platform pins which image a multi-platform
// index resolves to; nil lets the registry client decide. metrics may be
// nil.
func NewPuller(store *Store, platform *v1.Platform, insecure bool, logger *slog.Logger, metrics *Metrics) *Puller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Puller{store: store, platform: platform, insecure: insecure, logger: logger, metrics: metrics}
}

// Pull ensures ref is present in the local store. With force set the
// registry copy is fetched even when a local copy exists.
func (p *Puller) Pull(ctx context.Context, ref *NormalizedRef, opts []remote.Option, force bool) (*PullResult, error) {
	start := time.Now()

	if !force {
		entry, err := p.store.Entry(ref)
		if err == nil {
			result := &PullResult{
				Ref:       entry.Ref,
				Digest:    entry.Digest,
				SizeBytes: entry.SizeBytes,
				Platform:  platformString(entry.OS, entry.Architecture),
				Cached:    true,
				Elapsed:   time.Since(start),
			}
			p.logger.Info("image already present, skipping pull",
				"ref", ref.String(),
				"digest", entry.Digest,
				"size", datasize.ByteSize(entry.SizeBytes).HumanReadable())
			if p.metrics != nil {
				p.metrics.RecordPull(ctx, ref.String(), true, entry.SizeBytes, result.Elapsed)
			}
			return result, nil
		}
		if !errors.Is(err, ErrNotFound) {
			// Unreadable entries are repaired by re-pulling.
			p.logger.Warn("unreadable store entry, re-pulling", "ref", ref.String(), "error", err)
		}
	}

	remoteRef, err := ref.Remote(p.insecure)
	if err != nil {
		return nil, err
	}

	callOpts := append([]remote.Option{remote.WithContext(ctx)}, opts...)
	if p.platform != nil {
		callOpts = append(callOpts, remote.WithPlatform(*p.platform))
	}

	img, err := remote.Image(remoteRef, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", ref.String(), err)
	}

	entry, err := p.store.Put(ref, img)
	if err != nil {
		return nil, fmt.Errorf("store image %s: %w", ref.String(), err)
	}

	elapsed := time.Since(start)
	p.logger.Info("image pulled",
		"ref", ref.String(),
		"digest", entry.Digest,
		"size", datasize.ByteSize(entry.SizeBytes).HumanReadable(),
		"elapsed", elapsed.Round(time.Millisecond))
	if p.metrics != nil {
		p.metrics.RecordPull(ctx, ref.String(), false, entry.SizeBytes, elapsed)
	}

	return &PullResult{
		Ref:       entry.Ref,
		Digest:    entry.Digest,
		SizeBytes: entry.SizeBytes,
		Platform:  platformString(entry.OS, entry.Architecture),
		Cached:    false,
		Elapsed:   elapsed,
	}, nil
}

func platformString(osName, arch string) string {
	if osName == "" && arch == "" {
		return ""
	}
	return osName + "/" + arch
}
