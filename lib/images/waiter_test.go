package images

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/stretchr/testify/require"
)

func testWaitPolicy() WaitPolicy {
	return WaitPolicy{
		Timeout:         10 * time.Second,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	}
}

func TestWaitForImmediatelyAvailable(t *testing.T) {
	host := newTestRegistry(t)
	img := randomImage(t)
	refStr := host + "/ci/base:3.10"
	pushImage(t, refStr, img)

	waiter := NewWaiter(testWaitPolicy(), true, nil, nil)
	avail, err := waiter.WaitFor(context.Background(), parseRef(t, refStr), nil)
	require.NoError(t, err)
	require.Equal(t, mustDigest(t, img), avail.Digest.String())
	require.Equal(t, 1, avail.Attempts)
	require.Greater(t, avail.SizeBytes, int64(0))
}

func TestWaitForRetriesUntilAvailable(t *testing.T) {
	// The registry 404s the first two manifest probes, so the waiter has
	// to retry before it sees the pushed image.
	var probes atomic.Int32
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead && strings.Contains(r.URL.Path, "/manifests/") && probes.Add(1) <= 2 {
				http.Error(w, "not yet", http.StatusNotFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	router.Mount("/", registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	img := randomImage(t)
	refStr := u.Host + "/ci/base:3.11"
	pushImage(t, refStr, img)

	waiter := NewWaiter(testWaitPolicy(), true, nil, nil)
	avail, err := waiter.WaitFor(context.Background(), parseRef(t, refStr), nil)
	require.NoError(t, err)
	require.Equal(t, 3, avail.Attempts)
	require.Equal(t, mustDigest(t, img), avail.Digest.String())
}

func TestWaitForMaxAttempts(t *testing.T) {
	host := newTestRegistry(t)

	policy := testWaitPolicy()
	policy.MaxAttempts = 3

	waiter := NewWaiter(policy, true, nil, nil)
	_, err := waiter.WaitFor(context.Background(), parseRef(t, host+"/ci/base:3.10"), nil)
	require.ErrorIs(t, err, ErrNotAvailable)
	require.Contains(t, err.Error(), "after 3 attempts")
}

func TestWaitForTimeout(t *testing.T) {
	host := newTestRegistry(t)

	policy := testWaitPolicy()
	policy.Timeout = 200 * time.Millisecond

	waiter := NewWaiter(policy, true, nil, nil)
	start := time.Now()
	_, err := waiter.WaitFor(context.Background(), parseRef(t, host+"/ci/base:3.10"), nil)
	require.ErrorIs(t, err, ErrNotAvailable)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForCancel(t *testing.T) {
	host := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	waiter := NewWaiter(testWaitPolicy(), true, nil, nil)
	_, err := waiter.WaitFor(ctx, parseRef(t, host+"/ci/base:3.10"), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrNotAvailable)
}

func TestWaitForUnauthorizedIsTerminal(t *testing.T) {
	// Polling cannot heal bad credentials, so a 401 must fail the wait
	// immediately instead of burning the whole budget.
	router := chi.NewRouter()
	router.Use(middleware.BasicAuth("registry", map[string]string{"ci": "secret"}))
	router.Mount("/", registry.New(registry.Logger(log.New(io.Discard, "", 0))))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	waiter := NewWaiter(testWaitPolicy(), true, nil, nil)
	start := time.Now()
	_, err = waiter.WaitFor(context.Background(), parseRef(t, u.Host+"/ci/base:3.10"), nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotAvailable)

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	require.Less(t, time.Since(start), 5*time.Second)
}
