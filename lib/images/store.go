package images

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Entry is the metadata persisted for a stored image.
type Entry struct {
	ID           string    `json:"id"`
	Ref          string    `json:"ref"`
	Digest       string    `json:"digest"`
	MediaType    string    `json:"media_type"`
	SizeBytes    int64     `json:"size_bytes"`
	OS           string    `json:"os,omitempty"`
	Architecture string    `json:"architecture,omitempty"`
	PulledAt     time.Time `json:"pulled_at"`
}

// Store keeps pulled images on disk, one OCI image layout per image plus
// a metadata document recording what was pulled and when. Entries for
// different images may be written concurrently; the store assumes a
// single writer per image for the duration of a run.
type Store struct {
	root string
}

// NewStore creates the store root if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "images"), 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// imageDir returns the directory for an image id. Ids derive from
// external input, so the join is hardened against escapes from the root.
func (s *Store) imageDir(id string) (string, error) {
	dir, err := securejoin.SecureJoin(s.root, filepath.Join("images", id))
	if err != nil {
		return "", fmt.Errorf("resolve image directory: %w", err)
	}
	return dir, nil
}

func (s *Store) layoutDir(id string) (string, error) {
	dir, err := s.imageDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "oci"), nil
}

func (s *Store) metadataPath(id string) (string, error) {
	dir, err := s.imageDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "metadata.json"), nil
}

// Put writes img under ref's id as an OCI image layout and records its
// metadata. An existing entry for the same id is replaced.
func (s *Store) Put(ref *NormalizedRef, img v1.Image) (*Entry, error) {
	id := imageID(ref)

	dir, err := s.layoutDir(id)
	if err != nil {
		return nil, err
	}

	// Rebuild the layout from scratch so a re-pull cannot leave stale
	// manifests behind.
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear image layout: %w", err)
	}
	lp, err := layout.Write(dir, empty.Index)
	if err != nil {
		return nil, fmt.Errorf("init image layout: %w", err)
	}
	if err := lp.AppendImage(img, layout.WithAnnotations(map[string]string{
		ocispec.AnnotationRefName: ref.String(),
	})); err != nil {
		return nil, fmt.Errorf("write image layout: %w", err)
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}
	mediaType, err := img.MediaType()
	if err != nil {
		return nil, fmt.Errorf("read media type: %w", err)
	}
	size, err := imageSize(img)
	if err != nil {
		return nil, fmt.Errorf("compute size: %w", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("read image config: %w", err)
	}

	entry := &Entry{
		ID:           id,
		Ref:          ref.String(),
		Digest:       digest.String(),
		MediaType:    string(mediaType),
		SizeBytes:    size,
		OS:           cfg.OS,
		Architecture: cfg.Architecture,
		PulledAt:     time.Now().UTC(),
	}
	if err := s.writeEntry(entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// writeEntry writes metadata atomically using temp file + rename.
func (s *Store) writeEntry(entry *Entry) error {
	path, err := s.metadataPath(entry.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath) // cleanup
		return fmt.Errorf("rename metadata: %w", err)
	}

	return nil
}

// Entry returns the metadata for ref, or ErrNotFound.
func (s *Store) Entry(ref *NormalizedRef) (*Entry, error) {
	return s.readEntry(imageID(ref))
}

func (s *Store) readEntry(id string) (*Entry, error) {
	path, err := s.metadataPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	// An entry is only valid while its layout still serves the digest
	// the metadata records.
	dir, err := s.layoutDir(id)
	if err != nil {
		return nil, err
	}
	lp, err := layout.FromPath(dir)
	if err != nil {
		return nil, fmt.Errorf("open image layout: %w", err)
	}
	digest, err := v1.NewHash(entry.Digest)
	if err != nil {
		return nil, fmt.Errorf("parse stored digest: %w", err)
	}
	if _, err := lp.Image(digest); err != nil {
		return nil, fmt.Errorf("image layout missing %s: %w", entry.Digest, err)
	}

	return &entry, nil
}

// Contains reports whether ref is present and readable locally.
func (s *Store) Contains(ref *NormalizedRef) bool {
	_, err := s.Entry(ref)
	return err == nil
}

// Image loads the stored image for ref from its OCI layout.
func (s *Store) Image(ref *NormalizedRef) (v1.Image, error) {
	entry, err := s.Entry(ref)
	if err != nil {
		return nil, err
	}

	dir, err := s.layoutDir(entry.ID)
	if err != nil {
		return nil, err
	}
	lp, err := layout.FromPath(dir)
	if err != nil {
		return nil, fmt.Errorf("open image layout: %w", err)
	}
	digest, err := v1.NewHash(entry.Digest)
	if err != nil {
		return nil, fmt.Errorf("parse stored digest: %w", err)
	}
	img, err := lp.Image(digest)
	if err != nil {
		return nil, fmt.Errorf("load image from layout: %w", err)
	}

	return img, nil
}

// List returns entries for all stored images, skipping unreadable ones.
func (s *Store) List() ([]*Entry, error) {
	dirs, err := os.ReadDir(filepath.Join(s.root, "images"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*Entry{}, nil
		}
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var entries []*Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		entry, err := s.readEntry(d.Name())
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Remove deletes the stored image for ref.
func (s *Store) Remove(ref *NormalizedRef) error {
	dir, err := s.imageDir(imageID(ref))
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat image directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove image directory: %w", err)
	}

	return nil
}

// imageSize sums the sizes the manifest declares for config and layers.
func imageSize(img v1.Image) (int64, error) {
	manifest, err := img.Manifest()
	if err != nil {
		return 0, err
	}
	size := manifest.Config.Size
	for _, l := range manifest.Layers {
		size += l.Size
	}
	return size, nil
}

var imageIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// imageID derives a filesystem-safe identifier from a reference. The
// trailing hash keeps same-named images from different repositories
// apart. Example: docker.io/library/nginx:latest -> nginx-latest-1f8a3b2c
func imageID(ref *NormalizedRef) string {
	full := ref.String()
	nameTag := full[strings.LastIndex(full, "/")+1:]
	sanitized := strings.Trim(imageIDSanitizer.ReplaceAllString(nameTag, "-"), "-")

	sum := sha256.Sum256([]byte(full))
	return sanitized + "-" + hex.EncodeToString(sum[:4])
}
