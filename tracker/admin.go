package tracker

import (
	"sort"

	"go.uber.org/zap"
)

// Block adds ip to the blocklist with an operator-supplied reason.
func (t *Tracker) Block(ip, reason string) error {
	if err := validIP(ip); err != nil {
		return err
	}
	t.adminMu.Lock()
	t.blocked[ip] = reason
	t.adminMu.Unlock()
	t.log.Info("IP blocked", zap.String("ip", ip), zap.String("reason", reason))
	return nil
}

// Unblock removes ip from the blocklist.
func (t *Tracker) Unblock(ip string) error {
	if err := validIP(ip); err != nil {
		return err
	}
	t.adminMu.Lock()
	delete(t.blocked, ip)
	t.adminMu.Unlock()
	t.log.Info("IP unblocked", zap.String("ip", ip))
	return nil
}

// Whitelist adds ip to the allowlist and lifts any prior block.
func (t *Tracker) Whitelist(ip string) error {
	if err := validIP(ip); err != nil {
		return err
	}
	t.adminMu.Lock()
	delete(t.blocked, ip)
	t.whitelisted[ip] = struct{}{}
	t.adminMu.Unlock()
	t.log.Info("IP whitelisted", zap.String("ip", ip))
	return nil
}

// Unwhitelist removes ip from the allowlist.
func (t *Tracker) Unwhitelist(ip string) error {
	if err := validIP(ip); err != nil {
		return err
	}
	t.adminMu.Lock()
	delete(t.whitelisted, ip)
	t.adminMu.Unlock()
	return nil
}

// IsBlocked reports blocklist membership.
func (t *Tracker) IsBlocked(ip string) bool {
	t.adminMu.Lock()
	defer t.adminMu.Unlock()
	_, ok := t.blocked[ip]
	return ok
}

// IsWhitelisted reports allowlist membership.
func (t *Tracker) IsWhitelisted(ip string) bool {
	t.adminMu.Lock()
	defer t.adminMu.Unlock()
	_, ok := t.whitelisted[ip]
	return ok
}

// Stats returns a copy of the aggregate for ip, if tracked.
func (t *Tracker) Stats(ip string) (IPStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.ipStats[ip]
	if !ok {
		return IPStats{}, false
	}
	return st.view(), true
}

// DefaultSuspiciousThreshold is applied when Suspicious is called with a
// non-positive threshold.
const DefaultSuspiciousThreshold = 70

// Suspicious returns tracked IPs whose score meets the threshold, sorted
// by score descending. The copy is taken under the stats lock; sorting
// happens outside it.
func (t *Tracker) Suspicious(threshold int) []IPStats {
	if threshold <= 0 {
		threshold = DefaultSuspiciousThreshold
	}
	t.mu.Lock()
	out := make([]IPStats, 0)
	for _, st := range t.ipStats {
		if st.score >= threshold {
			out = append(out, st.view())
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SuspiciousScore > out[j].SuspiciousScore })
	return out
}

// RecentEvents returns up to limit buffered events, newest-first
// (default 100).
func (t *Tracker) RecentEvents(limit int) []AccessEvent {
	if limit <= 0 {
		limit = 100
	}
	t.ringMu.Lock()
	defer t.ringMu.Unlock()
	return t.ring.Filter(func(AccessEvent) bool { return true }, limit)
}

// EventsByIP returns up to limit buffered events for ip, newest-first.
func (t *Tracker) EventsByIP(ip string, limit int) []AccessEvent {
	if limit <= 0 {
		limit = 100
	}
	t.ringMu.Lock()
	defer t.ringMu.Unlock()
	return t.ring.Filter(func(e AccessEvent) bool { return e.IP == ip }, limit)
}

// EventsByUser returns up to limit buffered events for userID, newest-first.
func (t *Tracker) EventsByUser(userID string, limit int) []AccessEvent {
	if limit <= 0 {
		limit = 100
	}
	t.ringMu.Lock()
	defer t.ringMu.Unlock()
	return t.ring.Filter(func(e AccessEvent) bool { return e.UserID == userID }, limit)
}

// Summary aggregates tracker-wide counters plus a coarse memory estimate.
func (t *Tracker) Summary() Summary {
	var s Summary

	t.mu.Lock()
	s.TotalIPs = len(t.ipStats)
	var mem int64
	for _, st := range t.ipStats {
		s.TotalRequests += st.total
		if st.score >= DefaultSuspiciousThreshold {
			s.SuspiciousIPs++
		}
		mem += 96 // fixed fields
		mem += int64(16 * (st.endpoints.Len() + st.userAgents.Len() + st.userIDs.Len()))
	}
	for _, hist := range t.userIPs {
		mem += int64(16 * hist.Len())
	}
	t.mu.Unlock()

	t.adminMu.Lock()
	s.BlockedIPs = len(t.blocked)
	s.WhitelistedIPs = len(t.whitelisted)
	t.adminMu.Unlock()

	t.ringMu.Lock()
	s.TotalEvents = t.ring.Len()
	events := t.ring.Events()
	t.ringMu.Unlock()

	if len(events) > 0 {
		oldest := events[0].Timestamp
		s.OldestEvent = &oldest
	}
	mem += int64(len(events)) * 160
	s.MemoryBytes = mem
	return s
}
