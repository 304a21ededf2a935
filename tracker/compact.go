package tracker

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// compactChunk bounds how many entries one critical section processes so
// ingestion latency stays stable during a sweep.
const compactChunk = 512

// Compact removes idle per-IP entries, enforces the live-IP cap, and drops
// expired events from the ring. It is idempotent and best-effort: the
// background scheduler drives it, and operators may invoke it directly.
// Block and whitelist entries are never evicted.
func (t *Tracker) Compact(now time.Time) {
	cutoff := now.Add(-t.cfg.TTL)
	evicted := 0

	// TTL sweep, chunked so the stats lock is never held across the whole
	// table.
	t.mu.Lock()
	expired := make([]string, 0)
	for ip, st := range t.ipStats {
		if st.lastSeen.Before(cutoff) {
			expired = append(expired, ip)
		}
	}
	t.mu.Unlock()

	for start := 0; start < len(expired); start += compactChunk {
		end := start + compactChunk
		if end > len(expired) {
			end = len(expired)
		}
		t.mu.Lock()
		for _, ip := range expired[start:end] {
			st, ok := t.ipStats[ip]
			if !ok || !st.lastSeen.Before(cutoff) {
				continue // re-seen since the scan
			}
			delete(t.ipStats, ip)
			evicted++
			for user, hist := range t.userIPs {
				hist.Remove(ip)
				if hist.Len() == 0 {
					delete(t.userIPs, user)
				}
			}
		}
		t.mu.Unlock()
	}

	// Capacity eviction: least-recently-seen first until the cap holds.
	t.mu.Lock()
	if over := len(t.ipStats) - t.cfg.MaxIPs; over > 0 {
		type seen struct {
			ip string
			at time.Time
		}
		all := make([]seen, 0, len(t.ipStats))
		for ip, st := range t.ipStats {
			all = append(all, seen{ip, st.lastSeen})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
		for _, victim := range all[:over] {
			delete(t.ipStats, victim.ip)
			evicted++
			for user, hist := range t.userIPs {
				hist.Remove(victim.ip)
				if hist.Len() == 0 {
					delete(t.userIPs, user)
				}
			}
		}
	}
	t.mu.Unlock()

	t.ringMu.Lock()
	dropped := t.ring.DropBefore(func(e AccessEvent) bool { return e.Timestamp.Before(cutoff) })
	t.ringMu.Unlock()

	t.cfg.Metrics.RecordEvictions(context.Background(), evicted)
	if evicted > 0 || dropped > 0 {
		t.log.Debug("compaction complete",
			zap.Int("evicted_ips", evicted),
			zap.Int("dropped_events", dropped),
		)
	}
}

// Start launches the background compaction loop. Stop (or context
// cancellation) ends it. Starting twice is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	if t.started.Swap(true) {
		return
	}
	go t.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish. Safe to call
// without Start and safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	if t.started.Load() {
		<-t.doneCh
	}
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.CompactionInterval)
	defer func() {
		ticker.Stop()
		close(t.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			t.log.Info("tracker compaction stopped", zap.String("reason", "context_cancel"))
			return
		case <-t.stopCh:
			t.log.Info("tracker compaction stopped", zap.String("reason", "stop_signal"))
			return
		case <-ticker.C:
			t.Compact(time.Now())
		}
	}
}
