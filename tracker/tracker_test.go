package tracker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/packages/sec-core/tracker"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(ip, user string, ts time.Time, success bool) tracker.AccessEvent {
	status := 200
	if !success {
		status = 401
	}
	return tracker.AccessEvent{
		IP:         ip,
		Timestamp:  ts,
		Endpoint:   "/login",
		Method:     "POST",
		StatusCode: status,
		UserID:     user,
		UserAgent:  "ua-1",
		Success:    success,
	}
}

func newTracker(t *testing.T, cfg tracker.Config) *tracker.Tracker {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	return tracker.New(cfg)
}

// ── statistics ────────────────────────────────────────────────────────────

func TestTrackAggregatesStats(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	tr.Track(event("10.0.0.1", "u-1", base, true))
	tr.Track(event("10.0.0.1", "u-2", base.Add(time.Second), false))

	stats, ok := tr.Stats("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, base, stats.FirstSeen)
	assert.Equal(t, base.Add(time.Second), stats.LastSeen)
	assert.Equal(t, []string{"/login"}, stats.Endpoints)
	assert.ElementsMatch(t, []string{"u-1", "u-2"}, stats.UserIDs)

	_, ok = tr.Stats("10.0.0.99")
	assert.False(t, ok)
}

func TestSuspicionScore(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	// all failures → +30; nothing else crosses a contribution threshold
	for i := 0; i < 4; i++ {
		tr.Track(event("10.0.0.2", "u-1", base.Add(time.Duration(i)*time.Hour), false))
	}
	stats, ok := tr.Stats("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, 30, stats.SuspiciousScore)
}

func TestSuspiciousListing(t *testing.T) {
	tr := newTracker(t, tracker.Config{BruteForceAlert: 1000, BruteForceBlock: 1000, RateLimitThreshold: 1000})

	// failure rate 1.0 (+30), >10 agents (+20), >5 users (+25) → 75
	for i := 0; i < 11; i++ {
		e := event("10.0.0.3", fmt.Sprintf("u-%d", i), base.Add(time.Duration(i)*time.Minute), false)
		e.UserAgent = fmt.Sprintf("ua-%d", i)
		tr.Track(e)
	}
	tr.Track(event("10.0.0.4", "u-1", base, true))

	sus := tr.Suspicious(70)
	require.Len(t, sus, 1)
	assert.Equal(t, "10.0.0.3", sus[0].IP)
	assert.Equal(t, 75, sus[0].SuspiciousScore)

	assert.Empty(t, tr.Suspicious(80))
}

// ── probes ────────────────────────────────────────────────────────────────

func TestBruteForceAlertAndAutoBlock(t *testing.T) {
	tr := newTracker(t, tracker.Config{
		BruteForceAlert:    3,
		BruteForceBlock:    5,
		BruteForceWindow:   5 * time.Minute,
		RateLimitThreshold: 1000,
	})
	ip := "10.0.0.5"

	var got []tracker.Alert
	for i := 1; i <= 5; i++ {
		got = tr.Track(event(ip, "u-1", base.Add(time.Duration(i)*time.Second), false))
	}

	// fifth failure crosses the block threshold
	require.Len(t, got, 1)
	assert.Equal(t, tracker.AlertBruteForce, got[0].Type)
	assert.Equal(t, tracker.SeverityHigh, got[0].Severity)
	assert.True(t, got[0].ShouldBlock)
	assert.Equal(t, 5, got[0].Metadata["failedAttempts"])
	assert.True(t, tr.IsBlocked(ip))

	// once blocked, further traffic short-circuits into a critical alert
	next := tr.Track(event(ip, "u-1", base.Add(10*time.Second), false))
	require.Len(t, next, 1)
	assert.Equal(t, tracker.AlertSuspiciousIP, next[0].Type)
	assert.Equal(t, tracker.SeverityCritical, next[0].Severity)
	assert.True(t, next[0].ShouldBlock)
	assert.Contains(t, next[0].Metadata["blockReason"], "Brute force")
}

func TestBruteForceWindowExcludesOldFailures(t *testing.T) {
	tr := newTracker(t, tracker.Config{
		BruteForceAlert:    3,
		BruteForceWindow:   time.Minute,
		RateLimitThreshold: 1000,
	})
	ip := "10.0.0.6"

	tr.Track(event(ip, "u-1", base, false))
	tr.Track(event(ip, "u-1", base.Add(time.Second), false))
	// third failure arrives after the first two left the window
	got := tr.Track(event(ip, "u-1", base.Add(2*time.Minute), false))
	assert.Empty(t, got)
}

func TestRateLimitAlert(t *testing.T) {
	tr := newTracker(t, tracker.Config{
		RateLimitThreshold: 5,
		RateLimitWindow:    time.Minute,
	})
	ip := "10.0.0.7"

	var got []tracker.Alert
	for i := 0; i < 5; i++ {
		got = tr.Track(event(ip, "", base.Add(time.Duration(i)*time.Second), true))
	}
	require.Len(t, got, 1)
	assert.Equal(t, tracker.AlertRateLimitExceeded, got[0].Type)
	assert.Equal(t, tracker.SeverityMedium, got[0].Severity)
	assert.Equal(t, 5, got[0].Metadata["requests"])
	assert.False(t, got[0].ShouldBlock)
}

func TestNewIPForUser(t *testing.T) {
	tr := newTracker(t, tracker.Config{RateLimitThreshold: 1000})

	// first IP establishes history, no alert
	got := tr.Track(event("10.0.0.8", "u-9", base, true))
	assert.Empty(t, got)

	got = tr.Track(event("10.0.0.9", "u-9", base.Add(time.Minute), true))
	require.Len(t, got, 1)
	assert.Equal(t, tracker.AlertNewIPForUser, got[0].Type)
	assert.Equal(t, tracker.SeverityLow, got[0].Severity)
	assert.Equal(t, []string{"10.0.0.8"}, got[0].Metadata["previousIPs"])

	// known IP again: quiet
	got = tr.Track(event("10.0.0.8", "u-9", base.Add(2*time.Minute), true))
	assert.Empty(t, got)
}

func TestNewIPForUserRequiresSuccess(t *testing.T) {
	tr := newTracker(t, tracker.Config{BruteForceAlert: 1000, RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.10", "u-9", base, true))
	got := tr.Track(event("10.0.0.11", "u-9", base.Add(time.Minute), false))
	assert.Empty(t, got)
}

func TestGeoAnomaly(t *testing.T) {
	countries := map[string]string{"10.0.0.12": "US", "10.0.0.13": "RU"}
	tr := newTracker(t, tracker.Config{
		RateLimitThreshold: 1000,
		GeoResolver: func(ip string) *tracker.GeoLocation {
			return &tracker.GeoLocation{Country: countries[ip], Region: "r"}
		},
	})

	got := tr.Track(event("10.0.0.12", "u-2", base, true))
	assert.Empty(t, got)

	// second IP is both new and in a new country
	got = tr.Track(event("10.0.0.13", "u-2", base.Add(time.Minute), true))
	require.Len(t, got, 2)
	assert.Equal(t, tracker.AlertNewIPForUser, got[0].Type)
	assert.Equal(t, tracker.AlertGeoAnomaly, got[1].Type)
	assert.Equal(t, "RU", got[1].Metadata["country"])
	assert.Equal(t, []string{"US"}, got[1].Metadata["previousCountries"])
}

func TestWhitelistSuppressesAlerts(t *testing.T) {
	tr := newTracker(t, tracker.Config{BruteForceAlert: 2, RateLimitThreshold: 2})
	ip := "10.0.0.14"
	require.NoError(t, tr.Whitelist(ip))

	for i := 0; i < 10; i++ {
		got := tr.Track(event(ip, "u-1", base.Add(time.Duration(i)*time.Second), false))
		assert.Empty(t, got)
	}
	// traffic is still recorded
	stats, ok := tr.Stats(ip)
	require.True(t, ok)
	assert.Equal(t, 10, stats.Total)
}

func TestOnAlertCallback(t *testing.T) {
	var seen []tracker.Alert
	cfg := tracker.Config{
		BruteForceAlert:    2,
		RateLimitThreshold: 1000,
		OnAlert:            func(a tracker.Alert) { seen = append(seen, a) },
	}
	tr := newTracker(t, cfg)

	tr.Track(event("10.0.0.15", "u-1", base, false))
	tr.Track(event("10.0.0.15", "u-1", base.Add(time.Second), false))

	require.Len(t, seen, 1)
	assert.Equal(t, tracker.AlertBruteForce, seen[0].Type)
}

// ── admin lists ───────────────────────────────────────────────────────────

func TestBlockUnblock(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	require.NoError(t, tr.Block("10.0.0.16", "abuse"))
	assert.True(t, tr.IsBlocked("10.0.0.16"))

	require.NoError(t, tr.Unblock("10.0.0.16"))
	assert.False(t, tr.IsBlocked("10.0.0.16"))
}

func TestWhitelistLiftsBlock(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	require.NoError(t, tr.Block("10.0.0.17", "abuse"))
	require.NoError(t, tr.Whitelist("10.0.0.17"))

	assert.False(t, tr.IsBlocked("10.0.0.17"))
	assert.True(t, tr.IsWhitelisted("10.0.0.17"))

	require.NoError(t, tr.Unwhitelist("10.0.0.17"))
	assert.False(t, tr.IsWhitelisted("10.0.0.17"))
}

func TestAdminRejectsInvalidIP(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	for _, fn := range []func(string) error{
		func(ip string) error { return tr.Block(ip, "r") },
		tr.Unblock,
		tr.Whitelist,
		tr.Unwhitelist,
	} {
		err := fn("not-an-ip")
		assert.ErrorIs(t, err, tracker.ErrInvalidInput)
	}

	require.NoError(t, tr.Block("2001:db8::1", "ipv6 works too"))
	assert.True(t, tr.IsBlocked("2001:db8::1"))
}

// ── event buffer ──────────────────────────────────────────────────────────

func TestRecentEventsNewestFirst(t *testing.T) {
	tr := newTracker(t, tracker.Config{RateLimitThreshold: 1000})

	for i := 0; i < 5; i++ {
		tr.Track(event("10.0.0.18", "u-1", base.Add(time.Duration(i)*time.Second), true))
	}

	got := tr.RecentEvents(3)
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(4*time.Second), got[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), got[2].Timestamp)
}

func TestEventRingOverflow(t *testing.T) {
	tr := newTracker(t, tracker.Config{MaxEvents: 3, RateLimitThreshold: 1000})

	for i := 0; i < 5; i++ {
		tr.Track(event("10.0.0.19", "u-1", base.Add(time.Duration(i)*time.Second), true))
	}

	got := tr.RecentEvents(0) // default limit
	require.Len(t, got, 3)
	// oldest two were overwritten
	assert.Equal(t, base.Add(4*time.Second), got[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), got[2].Timestamp)
}

func TestEventsByIPAndUser(t *testing.T) {
	tr := newTracker(t, tracker.Config{RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.20", "u-a", base, true))
	tr.Track(event("10.0.0.21", "u-b", base.Add(time.Second), true))
	tr.Track(event("10.0.0.20", "u-b", base.Add(2*time.Second), true))

	byIP := tr.EventsByIP("10.0.0.20", 0)
	require.Len(t, byIP, 2)
	assert.Equal(t, base.Add(2*time.Second), byIP[0].Timestamp)

	byUser := tr.EventsByUser("u-b", 0)
	require.Len(t, byUser, 2)

	assert.Empty(t, tr.EventsByIP("10.9.9.9", 0))
}

// ── compaction ────────────────────────────────────────────────────────────

func TestCompactExpiresIdleIPs(t *testing.T) {
	tr := newTracker(t, tracker.Config{TTL: time.Hour, RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.22", "u-1", base, true))
	tr.Track(event("10.0.0.23", "u-1", base.Add(90*time.Minute), true))

	tr.Compact(base.Add(2 * time.Hour))

	_, ok := tr.Stats("10.0.0.22")
	assert.False(t, ok, "idle entry past TTL must be evicted")
	_, ok = tr.Stats("10.0.0.23")
	assert.True(t, ok)

	// the user's IP history dropped the evicted address
	got := tr.Track(event("10.0.0.22", "u-1", base.Add(121*time.Minute), true))
	require.Len(t, got, 1)
	assert.Equal(t, tracker.AlertNewIPForUser, got[0].Type)
	assert.Equal(t, []string{"10.0.0.23"}, got[0].Metadata["previousIPs"])
}

func TestCompactEnforcesIPCap(t *testing.T) {
	tr := newTracker(t, tracker.Config{MaxIPs: 2, TTL: 24 * time.Hour, RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.24", "", base, true))
	tr.Track(event("10.0.0.25", "", base.Add(time.Minute), true))
	tr.Track(event("10.0.0.26", "", base.Add(2*time.Minute), true))

	tr.Compact(base.Add(3 * time.Minute))

	_, ok := tr.Stats("10.0.0.24")
	assert.False(t, ok, "least recently seen entry must be evicted")
	_, ok = tr.Stats("10.0.0.25")
	assert.True(t, ok)
	_, ok = tr.Stats("10.0.0.26")
	assert.True(t, ok)
}

func TestCompactDropsExpiredEvents(t *testing.T) {
	tr := newTracker(t, tracker.Config{TTL: time.Hour, RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.27", "", base, true))
	tr.Track(event("10.0.0.27", "", base.Add(90*time.Minute), true))

	tr.Compact(base.Add(2 * time.Hour))

	got := tr.RecentEvents(0)
	require.Len(t, got, 1)
	assert.Equal(t, base.Add(90*time.Minute), got[0].Timestamp)
}

func TestStartStopLifecycle(t *testing.T) {
	tr := newTracker(t, tracker.Config{CompactionInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Start(ctx)
	tr.Start(ctx) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	tr.Stop()
	tr.Stop() // idempotent
}

func TestStopWithoutStart(t *testing.T) {
	tr := newTracker(t, tracker.Config{})
	done := make(chan struct{})
	go func() {
		tr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start must not block")
	}
}

// ── summary ───────────────────────────────────────────────────────────────

func TestSummary(t *testing.T) {
	tr := newTracker(t, tracker.Config{RateLimitThreshold: 1000})

	tr.Track(event("10.0.0.28", "u-1", base, true))
	tr.Track(event("10.0.0.29", "u-1", base.Add(time.Second), false))
	require.NoError(t, tr.Block("10.0.0.30", "manual"))
	require.NoError(t, tr.Whitelist("10.0.0.31"))

	s := tr.Summary()
	assert.Equal(t, 2, s.TotalIPs)
	assert.Equal(t, 1, s.BlockedIPs)
	assert.Equal(t, 1, s.WhitelistedIPs)
	assert.Equal(t, 2, s.TotalRequests)
	assert.Equal(t, 2, s.TotalEvents)
	require.NotNil(t, s.OldestEvent)
	assert.Equal(t, base, *s.OldestEvent)
	assert.Greater(t, s.MemoryBytes, int64(0))
}
