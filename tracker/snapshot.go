package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSnapshotVersion is returned by Restore for snapshots written by an
// incompatible version.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

const snapshotVersion = 1

// snapshotDoc is the versioned wire envelope. All cross-referenced state
// (stats, lists, user history, ring) travels together so a round-trip
// cannot drift between fields.
type snapshotDoc struct {
	Version       int                 `json:"version"`
	IPStats       []IPStats           `json:"ip_stats"`
	Blocked       map[string]string   `json:"blocked"`
	Whitelisted   []string            `json:"whitelisted"`
	UserIPHistory map[string][]string `json:"user_ip_history"`
	RecentEvents  []AccessEvent       `json:"recent_events"`
}

// Snapshot serializes the tracker state into a versioned byte buffer.
// The tracker stays live; the snapshot is a point-in-time copy.
func (t *Tracker) Snapshot() ([]byte, error) {
	doc := snapshotDoc{Version: snapshotVersion}

	t.mu.Lock()
	doc.IPStats = make([]IPStats, 0, len(t.ipStats))
	for _, st := range t.ipStats {
		doc.IPStats = append(doc.IPStats, st.view())
	}
	doc.UserIPHistory = make(map[string][]string, len(t.userIPs))
	for user, hist := range t.userIPs {
		doc.UserIPHistory[user] = hist.Values()
	}
	t.mu.Unlock()

	t.adminMu.Lock()
	doc.Blocked = make(map[string]string, len(t.blocked))
	for ip, reason := range t.blocked {
		doc.Blocked[ip] = reason
	}
	doc.Whitelisted = make([]string, 0, len(t.whitelisted))
	for ip := range t.whitelisted {
		doc.Whitelisted = append(doc.Whitelisted, ip)
	}
	t.adminMu.Unlock()

	t.ringMu.Lock()
	doc.RecentEvents = t.ring.Events()
	t.ringMu.Unlock()

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Restore replaces the tracker state from a snapshot produced by Snapshot.
// Capacity caps come from the live config, so restoring into a smaller
// configuration re-truncates the sets.
func (t *Tracker) Restore(data []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersion, doc.Version, snapshotVersion)
	}

	stats := make(map[string]*ipStats, len(doc.IPStats))
	for _, v := range doc.IPStats {
		st := &ipStats{
			ip:         v.IP,
			total:      v.Total,
			failed:     v.Failed,
			success:    v.Success,
			firstSeen:  v.FirstSeen,
			lastSeen:   v.LastSeen,
			endpoints:  newBoundedSet(t.cfg.MaxSetEntries),
			userAgents: newBoundedSet(t.cfg.MaxSetEntries),
			userIDs:    newBoundedSet(t.cfg.MaxSetEntries),
		}
		for _, e := range v.Endpoints {
			st.endpoints.Add(e)
		}
		for _, ua := range v.UserAgents {
			st.userAgents.Add(ua)
		}
		for _, u := range v.UserIDs {
			st.userIDs.Add(u)
		}
		st.score = suspicionScore(st)
		stats[v.IP] = st
	}

	userIPs := make(map[string]*boundedSet, len(doc.UserIPHistory))
	for user, ips := range doc.UserIPHistory {
		hist := newBoundedSet(t.cfg.MaxUserIPs)
		for _, ip := range ips {
			hist.Add(ip)
		}
		userIPs[user] = hist
	}

	ring := newEventRing(t.cfg.MaxEvents)
	for _, e := range doc.RecentEvents {
		ring.Append(e)
	}

	t.mu.Lock()
	t.ipStats = stats
	t.userIPs = userIPs
	t.userCountries = make(map[string]*boundedSet)
	t.mu.Unlock()

	t.adminMu.Lock()
	t.blocked = make(map[string]string, len(doc.Blocked))
	for ip, reason := range doc.Blocked {
		t.blocked[ip] = reason
	}
	t.whitelisted = make(map[string]struct{}, len(doc.Whitelisted))
	for _, ip := range doc.Whitelisted {
		t.whitelisted[ip] = struct{}{}
	}
	t.adminMu.Unlock()

	t.ringMu.Lock()
	t.ring = ring
	t.ringMu.Unlock()

	return nil
}
