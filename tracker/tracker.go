// Package tracker maintains per-IP access statistics under bounded memory,
// raises security alerts (brute force, rate-limit breach, new IP for user,
// blocklist hits), and manages block/allow lists. All state is in-memory by
// contract; Snapshot/Restore is the only persistence surface.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/packages/sec-core/telemetry"
)

// ErrInvalidInput is returned by admin operations on syntactically invalid
// IP text.
var ErrInvalidInput = errors.New("invalid input")

// Config tunes the tracker. The zero value is usable: every field falls
// back to the documented default.
type Config struct {
	MaxEvents          int           // recent-events ring capacity (default 10000)
	MaxIPs             int           // hard cap on live per-IP entries (default 100000)
	TTL                time.Duration // per-IP idle lifetime (default 24h)
	CompactionInterval time.Duration // background sweep period (default 1h)
	MaxSetEntries      int           // per-IP endpoint/agent/user set cap (default 256)
	MaxUserIPs         int           // per-user IP history cap (default 32)

	BruteForceWindow time.Duration // default 5m
	BruteForceAlert  int           // failures to alert (default 5)
	BruteForceBlock  int           // failures to auto-block (default 10)

	RateLimitWindow    time.Duration // default 60s
	RateLimitThreshold int           // default 100

	// GeoResolver, when set, enables the geo-anomaly probe. It must be
	// pure and non-blocking; a blocking resolver stalls ingestion.
	GeoResolver func(ip string) *GeoLocation

	// OnAlert, when set, is invoked synchronously for every alert in
	// addition to the Track return value.
	OnAlert func(Alert)

	Metrics *telemetry.TrackerMetrics
	Logger  *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxEvents <= 0 {
		c.MaxEvents = 10000
	}
	if c.MaxIPs <= 0 {
		c.MaxIPs = 100000
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.CompactionInterval <= 0 {
		c.CompactionInterval = time.Hour
	}
	if c.MaxSetEntries <= 0 {
		c.MaxSetEntries = 256
	}
	if c.MaxUserIPs <= 0 {
		c.MaxUserIPs = 32
	}
	if c.BruteForceWindow <= 0 {
		c.BruteForceWindow = 5 * time.Minute
	}
	if c.BruteForceAlert <= 0 {
		c.BruteForceAlert = 5
	}
	if c.BruteForceBlock <= 0 {
		c.BruteForceBlock = 10
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.RateLimitThreshold <= 0 {
		c.RateLimitThreshold = 100
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// ipStats is the internal mutable aggregate.
type ipStats struct {
	ip         string
	total      int
	failed     int
	success    int
	firstSeen  time.Time
	lastSeen   time.Time
	endpoints  *boundedSet
	userAgents *boundedSet
	userIDs    *boundedSet
	score      int
}

func (st *ipStats) view() IPStats {
	return IPStats{
		IP:              st.ip,
		Total:           st.total,
		Failed:          st.failed,
		Success:         st.success,
		FirstSeen:       st.firstSeen,
		LastSeen:        st.lastSeen,
		Endpoints:       st.endpoints.Values(),
		UserAgents:      st.userAgents.Values(),
		UserIDs:         st.userIDs.Values(),
		SuspiciousScore: st.score,
	}
}

// Tracker is safe for concurrent use. Per-IP state, admin lists and the
// event ring are guarded independently so a long statistics scan never
// blocks ingestion beyond a bounded critical section.
type Tracker struct {
	cfg Config
	log *zap.Logger

	mu            sync.Mutex // ipStats, userIPs, userCountries
	ipStats       map[string]*ipStats
	userIPs       map[string]*boundedSet
	userCountries map[string]*boundedSet

	adminMu     sync.Mutex // blocked, whitelisted
	blocked     map[string]string
	whitelisted map[string]struct{}

	ringMu sync.Mutex
	ring   *eventRing

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Tracker; the background compaction loop is not started
// until Start is called.
func New(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:           cfg,
		log:           cfg.Logger,
		ipStats:       make(map[string]*ipStats),
		userIPs:       make(map[string]*boundedSet),
		userCountries: make(map[string]*boundedSet),
		blocked:       make(map[string]string),
		whitelisted:   make(map[string]struct{}),
		ring:          newEventRing(cfg.MaxEvents),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Track ingests one access event, updates statistics, and returns the
// alerts it raised, in detection order. Windowing uses the event's own
// timestamp, so replayed history evaluates deterministically. Track never
// fails on valid input.
func (t *Tracker) Track(e AccessEvent) []Alert {
	t.ringMu.Lock()
	t.ring.Append(e)
	t.ringMu.Unlock()

	prevIPs, newIPForUser := t.updateStats(e)
	t.cfg.Metrics.RecordEvent(context.Background())

	var alerts []Alert

	// Blocked IPs are still recorded above, but short-circuit the probes.
	t.adminMu.Lock()
	reason, isBlocked := t.blocked[e.IP]
	_, isWhitelisted := t.whitelisted[e.IP]
	t.adminMu.Unlock()

	if isBlocked {
		alerts = append(alerts, Alert{
			Type:        AlertSuspiciousIP,
			Severity:    SeverityCritical,
			IP:          e.IP,
			UserID:      e.UserID,
			Description: fmt.Sprintf("Access attempt from blocked IP %s", e.IP),
			Timestamp:   e.Timestamp,
			Metadata:    map[string]any{"blockReason": reason},
			ShouldBlock: true,
		})
		t.dispatch(alerts)
		return alerts
	}
	if isWhitelisted {
		return nil
	}

	if !e.Success {
		if a := t.bruteForceProbe(e); a != nil {
			alerts = append(alerts, *a)
		}
	}
	if a := t.rateLimitProbe(e); a != nil {
		alerts = append(alerts, *a)
	}
	if e.Success && newIPForUser {
		alerts = append(alerts, Alert{
			Type:        AlertNewIPForUser,
			Severity:    SeverityLow,
			IP:          e.IP,
			UserID:      e.UserID,
			Description: fmt.Sprintf("User %s seen from new IP %s", e.UserID, e.IP),
			Timestamp:   e.Timestamp,
			Metadata:    map[string]any{"previousIPs": prevIPs, "newIP": e.IP},
		})
	}
	if a := t.geoProbe(e); a != nil {
		alerts = append(alerts, *a)
	}

	t.dispatch(alerts)
	return alerts
}

// updateStats applies step 2–3 of ingestion under the stats lock and
// reports the user's prior IP history for the new-IP probe.
func (t *Tracker) updateStats(e AccessEvent) (prevIPs []string, newIP bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.ipStats[e.IP]
	if !ok {
		st = &ipStats{
			ip:         e.IP,
			firstSeen:  e.Timestamp,
			endpoints:  newBoundedSet(t.cfg.MaxSetEntries),
			userAgents: newBoundedSet(t.cfg.MaxSetEntries),
			userIDs:    newBoundedSet(t.cfg.MaxSetEntries),
		}
		t.ipStats[e.IP] = st
	}
	st.lastSeen = e.Timestamp
	st.total++
	if e.Success {
		st.success++
	} else {
		st.failed++
	}
	st.endpoints.Add(e.Endpoint)
	st.userAgents.Add(e.UserAgent)
	st.userIDs.Add(e.UserID)
	st.score = suspicionScore(st)

	if e.UserID != "" {
		hist, ok := t.userIPs[e.UserID]
		if !ok {
			hist = newBoundedSet(t.cfg.MaxUserIPs)
			t.userIPs[e.UserID] = hist
		}
		// snapshot before insertion so the new-IP probe sees the prior set
		prevIPs = hist.Values()
		newIP = len(prevIPs) > 0 && !hist.Contains(e.IP)
		hist.Add(e.IP)
	}
	return prevIPs, newIP
}

// suspicionScore sums the fixed, bounded contributions and clamps to
// [0,100]. The score is recomputed, never accumulated.
func suspicionScore(st *ipStats) int {
	score := 0
	if st.total > 0 {
		rate := float64(st.failed) / float64(st.total)
		switch {
		case rate > 0.5:
			score += 30
		case rate > 0.3:
			score += 15
		}
	}
	if st.userAgents.Len() > 10 {
		score += 20
	}
	if st.userIDs.Len() > 5 {
		score += 25
	}
	if st.total > 1000 {
		score += 15
	}
	if st.endpoints.Len() > 50 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (t *Tracker) bruteForceProbe(e AccessEvent) *Alert {
	t.ringMu.Lock()
	failures := t.ring.Count(func(past AccessEvent) bool {
		return past.IP == e.IP && !past.Success &&
			e.Timestamp.Sub(past.Timestamp) >= 0 &&
			e.Timestamp.Sub(past.Timestamp) < t.cfg.BruteForceWindow
	})
	t.ringMu.Unlock()

	if failures < t.cfg.BruteForceAlert {
		return nil
	}
	a := &Alert{
		Type:        AlertBruteForce,
		Severity:    SeverityHigh,
		IP:          e.IP,
		UserID:      e.UserID,
		Description: fmt.Sprintf("%d failed attempts within %s from %s", failures, t.cfg.BruteForceWindow, e.IP),
		Timestamp:   e.Timestamp,
		Metadata: map[string]any{
			"failedAttempts": failures,
			"windowSeconds":  int(t.cfg.BruteForceWindow.Seconds()),
		},
	}
	if failures >= t.cfg.BruteForceBlock {
		a.ShouldBlock = true
		t.autoBlock(e.IP, fmt.Sprintf("Brute force: %d failed attempts", failures))
	}
	return a
}

func (t *Tracker) rateLimitProbe(e AccessEvent) *Alert {
	t.ringMu.Lock()
	requests := t.ring.Count(func(past AccessEvent) bool {
		return past.IP == e.IP &&
			e.Timestamp.Sub(past.Timestamp) >= 0 &&
			e.Timestamp.Sub(past.Timestamp) < t.cfg.RateLimitWindow
	})
	t.ringMu.Unlock()

	if requests < t.cfg.RateLimitThreshold {
		return nil
	}
	return &Alert{
		Type:        AlertRateLimitExceeded,
		Severity:    SeverityMedium,
		IP:          e.IP,
		UserID:      e.UserID,
		Description: fmt.Sprintf("%d requests within %s from %s", requests, t.cfg.RateLimitWindow, e.IP),
		Timestamp:   e.Timestamp,
		Metadata: map[string]any{
			"requests":      requests,
			"windowSeconds": int(t.cfg.RateLimitWindow.Seconds()),
		},
	}
}

// geoProbe compares the resolved country against the user's historical
// country set. Without a configured resolver no alert is ever produced.
func (t *Tracker) geoProbe(e AccessEvent) *Alert {
	if t.cfg.GeoResolver == nil || e.UserID == "" {
		return nil
	}
	loc := t.cfg.GeoResolver(e.IP)
	if loc == nil || loc.Country == "" {
		return nil
	}

	t.mu.Lock()
	countries, ok := t.userCountries[e.UserID]
	if !ok {
		countries = newBoundedSet(t.cfg.MaxSetEntries)
		t.userCountries[e.UserID] = countries
	}
	prev := countries.Values()
	anomaly := len(prev) > 0 && !countries.Contains(loc.Country)
	countries.Add(loc.Country)
	t.mu.Unlock()

	if !anomaly {
		return nil
	}
	return &Alert{
		Type:        AlertGeoAnomaly,
		Severity:    SeverityMedium,
		IP:          e.IP,
		UserID:      e.UserID,
		Description: fmt.Sprintf("User %s accessed from unexpected country %s", e.UserID, loc.Country),
		Timestamp:   e.Timestamp,
		Metadata: map[string]any{
			"country":           loc.Country,
			"region":            loc.Region,
			"previousCountries": prev,
		},
	}
}

// autoBlock enters the IP into the blocked set on behalf of the tracker
// itself. Whitelisted IPs never reach this path (the whitelist check
// short-circuits the probes).
func (t *Tracker) autoBlock(ip, reason string) {
	t.adminMu.Lock()
	if _, already := t.blocked[ip]; !already {
		t.blocked[ip] = reason
		t.log.Warn("IP auto-blocked", zap.String("ip", ip), zap.String("reason", reason))
	}
	t.adminMu.Unlock()
}

func (t *Tracker) dispatch(alerts []Alert) {
	for _, a := range alerts {
		t.cfg.Metrics.RecordAlert(context.Background(), string(a.Type))
		if t.cfg.OnAlert != nil {
			t.cfg.OnAlert(a)
		}
	}
}

// validIP rejects admin input that does not parse as an IPv4/IPv6 address.
func validIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q is not a valid IP address", ErrInvalidInput, ip)
	}
	return nil
}
