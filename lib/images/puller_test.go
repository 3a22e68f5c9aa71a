package images

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPullFetchesIntoStore(t *testing.T) {
	host := newTestRegistry(t)
	store := newTestStore(t)
	img := randomImage(t)
	refStr := host + "/ci/base:3.10"
	pushImage(t, refStr, img)

	puller := NewPuller(store, nil, true, nil, nil)
	result, err := puller.Pull(context.Background(), parseRef(t, refStr), nil, false)
	require.NoError(t, err)
	require.False(t, result.Cached)
	require.Equal(t, mustDigest(t, img), result.Digest)
	require.Greater(t, result.SizeBytes, int64(0))
	require.True(t, store.Contains(parseRef(t, refStr)))
}

func TestPullSkipsWhenPresent(t *testing.T) {
	host := newTestRegistry(t)
	store := newTestStore(t)
	img := randomImage(t)
	refStr := host + "/ci/base:3.10"
	pushImage(t, refStr, img)

	puller := NewPuller(store, nil, true, nil, nil)
	ctx := context.Background()
	ref := parseRef(t, refStr)

	first, err := puller.Pull(ctx, ref, nil, false)
	require.NoError(t, err)
	require.False(t, first.Cached)

	// The tag moves, but without force the local copy wins.
	pushImage(t, refStr, randomImage(t))

	second, err := puller.Pull(ctx, ref, nil, false)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Digest, second.Digest)
}

func TestPullForceRefetches(t *testing.T) {
	host := newTestRegistry(t)
	store := newTestStore(t)
	refStr := host + "/ci/base:3.10"
	pushImage(t, refStr, randomImage(t))

	puller := NewPuller(store, nil, true, nil, nil)
	ctx := context.Background()
	ref := parseRef(t, refStr)

	first, err := puller.Pull(ctx, ref, nil, false)
	require.NoError(t, err)

	moved := randomImage(t)
	pushImage(t, refStr, moved)

	second, err := puller.Pull(ctx, ref, nil, true)
	require.NoError(t, err)
	require.False(t, second.Cached)
	require.Equal(t, mustDigest(t, moved), second.Digest)
	require.NotEqual(t, first.Digest, second.Digest)

	entry, err := store.Entry(ref)
	require.NoError(t, err)
	require.Equal(t, second.Digest, entry.Digest)
}

func TestPullMissingImage(t *testing.T) {
	host := newTestRegistry(t)
	store := newTestStore(t)

	puller := NewPuller(store, nil, true, nil, nil)
	_, err := puller.Pull(context.Background(), parseRef(t, host+"/ci/absent:3.10"), nil, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch image")
	require.False(t, store.Contains(parseRef(t, host+"/ci/absent:3.10")))
}
