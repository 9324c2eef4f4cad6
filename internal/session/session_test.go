package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cookieValue(hs HeaderSet, name string) (string, bool) {
	for _, c := range hs.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func TestHeadersWarmsUpOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "acw_tc", Value: "abc123"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(Config{
		PortalURL: srv.URL,
		Referer:   "https://we.51job.com/pc/search",
		UserAgent: "test-agent",
	}, srv.Client(), zap.NewNop())

	hs, err := m.Headers(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test-agent", hs.UserAgent)
	require.Equal(t, "https://we.51job.com/pc/search", hs.Referer)
	require.Equal(t, uint64(1), hs.Generation)

	got, ok := cookieValue(hs, "acw_tc")
	require.True(t, ok)
	require.Equal(t, "abc123", got)

	// Server-issued cookies are kept; missing ones are synthesized.
	_, ok = cookieValue(hs, "guid")
	require.True(t, ok)
	_, ok = cookieValue(hs, "privacy")
	require.True(t, ok)

	// Subsequent calls reuse the snapshot without another portal hit.
	again, err := m.Headers(context.Background())
	require.NoError(t, err)
	require.Equal(t, hs.Generation, again.Generation)
	require.Equal(t, int64(1), hits.Load())
}

func TestHeadersAccountIDPinsGUID(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{AccountID: "fixed-account"}, nil, zap.NewNop())
	hs, err := m.Headers(context.Background())
	require.NoError(t, err)

	guid, ok := cookieValue(hs, "guid")
	require.True(t, ok)
	require.Equal(t, "fixed-account", guid)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(Config{PortalURL: srv.URL, UserAgent: "ua"}, srv.Client(), zap.NewNop())

	hs, err := m.Headers(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), hs.Generation)

	m.Invalidate()
	require.Equal(t, uint64(0), m.Generation())

	hs, err = m.Headers(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), hs.Generation)
	require.Equal(t, int64(2), hits.Load())
}

func TestHeadersWarmUpFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewManager(Config{PortalURL: srv.URL}, srv.Client(), zap.NewNop())
	_, err := m.Headers(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "session warm-up")

	// Failure leaves no half-built session behind.
	require.Equal(t, uint64(0), m.Generation())
}

func TestApplyChallengeReplacesCookie(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{AccountID: "acct"}, nil, zap.NewNop())
	hs, err := m.Headers(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), hs.Generation)

	require.NoError(t, m.ApplyChallenge(strings.Repeat("f", 40)))
	require.Equal(t, uint64(2), m.Generation())

	hs, err = m.Headers(context.Background())
	require.NoError(t, err)
	v2, ok := cookieValue(hs, "acw_sc__v2")
	require.True(t, ok)
	require.Equal(t, "cfffe89fff7a9ff9f9eafeaccffc96ffd87ffc8a", v2)

	// A second challenge replaces the cookie rather than stacking it.
	require.NoError(t, m.ApplyChallenge(strings.Repeat("f", 40)))
	hs, err = m.Headers(context.Background())
	require.NoError(t, err)
	var count int
	for _, c := range hs.Cookies {
		if c.Name == "acw_sc__v2" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestApplyChallengeBadToken(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, nil, zap.NewNop())
	require.Error(t, m.ApplyChallenge("nope"))
}

func TestConcurrentHeadersSingleWarmUp(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewManager(Config{PortalURL: srv.URL}, srv.Client(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs, err := m.Headers(context.Background())
			require.NoError(t, err)
			require.Equal(t, uint64(1), hs.Generation)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), hits.Load())
}
