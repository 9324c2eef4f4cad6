// Package session owns the cookie lifecycle that keeps search requests
// authorized against the site's anti-automation layer.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderSet is an immutable per-request snapshot of the current session.
type HeaderSet struct {
	UserAgent  string
	Referer    string
	Accept     string
	Cookies    []*http.Cookie
	Generation uint64
}

// Config controls warm-up behavior.
type Config struct {
	// PortalURL is fetched once per refresh to collect baseline cookies.
	PortalURL string
	// Referer is attached to every search request.
	Referer string
	UserAgent string
	Timeout   time.Duration
	// AccountID optionally pins the guid cookie to a fixed identifier;
	// a random one is generated per refresh when empty.
	AccountID string
}

type snapshot struct {
	cookies    []*http.Cookie
	generation uint64
}

// Manager holds the mutable session state. Refresh is serialized by a mutex;
// readers of a valid session load an immutable snapshot without blocking.
type Manager struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu         sync.Mutex
	generation uint64
	current    atomic.Pointer[snapshot]
}

// NewManager builds a Manager. A nil client gets a default one bound to the
// configured timeout.
func NewManager(cfg Config, client *http.Client, logger *zap.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, client: client, logger: logger}
}

// Headers returns the current valid header set, warming up a fresh session
// on first use or after invalidation. Only one refresh runs at a time;
// waiters reuse its result.
func (m *Manager) Headers(ctx context.Context) (HeaderSet, error) {
	if snap := m.current.Load(); snap != nil {
		return m.headerSet(snap), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap := m.current.Load(); snap != nil {
		return m.headerSet(snap), nil
	}
	cookies, err := m.warmUp(ctx)
	if err != nil {
		return HeaderSet{}, fmt.Errorf("session warm-up: %w", err)
	}
	m.generation++
	snap := &snapshot{cookies: cookies, generation: m.generation}
	m.current.Store(snap)
	m.logger.Info("session refreshed",
		zap.Uint64("generation", snap.generation),
		zap.Int("cookies", len(cookies)))
	return m.headerSet(snap), nil
}

// Invalidate marks the session stale; the next Headers call re-warms.
func (m *Manager) Invalidate() {
	m.current.Store(nil)
}

// ApplyChallenge computes the verification cookie from the server challenge
// token and splices it into the current session. The session stays valid;
// only its generation advances so callers can observe the refresh.
func (m *Manager) ApplyChallenge(token string) error {
	value, err := SolveChallenge(token)
	if err != nil {
		return fmt.Errorf("solve challenge: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var cookies []*http.Cookie
	if snap := m.current.Load(); snap != nil {
		for _, c := range snap.cookies {
			if c.Name != "acw_sc__v2" {
				cookies = append(cookies, c)
			}
		}
	}
	cookies = append(cookies, &http.Cookie{Name: "acw_sc__v2", Value: value})
	m.generation++
	m.current.Store(&snapshot{cookies: cookies, generation: m.generation})
	m.logger.Info("verification cookie applied", zap.Uint64("generation", m.generation))
	return nil
}

// Generation reports the current session generation, zero before first use.
func (m *Manager) Generation() uint64 {
	if snap := m.current.Load(); snap != nil {
		return snap.generation
	}
	return 0
}

func (m *Manager) headerSet(snap *snapshot) HeaderSet {
	return HeaderSet{
		UserAgent:  m.cfg.UserAgent,
		Referer:    m.cfg.Referer,
		Accept:     "application/json, text/plain, */*",
		Cookies:    snap.cookies,
		Generation: snap.generation,
	}
}

// warmUp visits the portal page with browser-like headers and collects the
// issued cookies, synthesizing guid/privacy when the server omits them.
func (m *Manager) warmUp(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*http.Cookie
	if m.cfg.PortalURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.PortalURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build portal request: %w", err)
		}
		req.Header.Set("User-Agent", m.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("portal request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("portal responded %d", resp.StatusCode)
		}
		cookies = resp.Cookies()
	}
	if !hasCookie(cookies, "guid") {
		guid := m.cfg.AccountID
		if guid == "" {
			guid = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		cookies = append(cookies, &http.Cookie{Name: "guid", Value: guid})
	}
	if !hasCookie(cookies, "privacy") {
		cookies = append(cookies, &http.Cookie{
			Name:  "privacy",
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		})
	}
	return cookies, nil
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}
