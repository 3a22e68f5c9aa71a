package images

import (
	"fmt"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/name"
)

// Coordinates identify the image a gate run targets: the externally
// configured base name plus the registry pull tag. The two are joined
// verbatim; neither is derived from the version argument.
type Coordinates struct {
	Name string
	Tag  string
}

// String joins name and tag. A bare name (manifest entries may carry a
// tag or digest inline) is returned as-is.
func (c Coordinates) String() string {
	if c.Tag == "" {
		return c.Name
	}
	return c.Name + ":" + c.Tag
}

// NormalizedRef is a validated and normalized OCI image reference.
// It can be either a tagged reference (e.g., "docker.io/library/alpine:latest")
// or a digest reference (e.g., "docker.io/library/alpine@sha256:abc123...").
type NormalizedRef struct {
	raw        string
	repository string
	tag        string // empty if digest ref
	digest     string // empty if tag ref
}

// ParseNormalizedRef validates and normalizes an image reference.
// Examples:
//   - "alpine" -> "docker.io/library/alpine:latest"
//   - "alpine:3.18" -> "docker.io/library/alpine:3.18"
//   - "alpine@sha256:abc..." -> "docker.io/library/alpine@sha256:abc..."
func ParseNormalizedRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
	}

	ref := &NormalizedRef{
		repository: reference.Domain(named) + "/" + reference.Path(named),
	}

	if canonical, ok := named.(reference.Canonical); ok {
		ref.digest = canonical.Digest().String()
		ref.raw = canonical.String()
		return ref, nil
	}

	// Tagged reference - ensure tag (add :latest if missing)
	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	ref.raw = tagged.String()

	return ref, nil
}

// ParseCoordinates normalizes a name/tag pair into a reference.
func ParseCoordinates(c Coordinates) (*NormalizedRef, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: empty image name", ErrInvalidReference)
	}
	return ParseNormalizedRef(c.String())
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string {
	return r.raw
}

// Repository returns the repository path without tag or digest.
// Example: "docker.io/library/alpine"
func (r *NormalizedRef) Repository() string {
	return r.repository
}

// Tag returns the tag if this is a tagged reference (e.g., "latest").
// Returns empty string if this is a digest reference.
func (r *NormalizedRef) Tag() string {
	return r.tag
}

// Digest returns the digest if present (e.g., "sha256:abc123...").
// Returns empty string if this is a tagged reference.
func (r *NormalizedRef) Digest() string {
	return r.digest
}

// IsDigest reports whether this reference pins a digest (@sha256:...).
func (r *NormalizedRef) IsDigest() bool {
	return r.digest != ""
}

// Remote converts the normalized reference into a registry-operation
// reference. insecure permits plain-HTTP registries (local test
// registries and air-gapped mirrors).
func (r *NormalizedRef) Remote(insecure bool) (name.Reference, error) {
	var opts []name.Option
	if insecure {
		opts = append(opts, name.Insecure)
	}
	ref, err := name.ParseReference(r.raw, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, r.raw, err)
	}
	return ref, nil
}
