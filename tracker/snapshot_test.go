package tracker_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/packages/sec-core/tracker"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTracker(t, tracker.Config{RateLimitThreshold: 1000})

	src.Track(event("10.0.1.1", "u-1", base, true))
	src.Track(event("10.0.1.1", "u-1", base.Add(time.Second), false))
	src.Track(event("10.0.1.2", "u-1", base.Add(2*time.Second), true))
	require.NoError(t, src.Block("10.0.1.3", "abuse"))
	require.NoError(t, src.Whitelist("10.0.1.4"))

	data, err := src.Snapshot()
	require.NoError(t, err)

	dst := newTracker(t, tracker.Config{RateLimitThreshold: 1000})
	require.NoError(t, dst.Restore(data))

	stats, ok := dst.Stats("10.0.1.1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, base, stats.FirstSeen)

	assert.True(t, dst.IsBlocked("10.0.1.3"))
	assert.True(t, dst.IsWhitelisted("10.0.1.4"))

	events := dst.RecentEvents(0)
	assert.Len(t, events, 3)

	// restored history still drives the new-IP probe
	got := dst.Track(event("10.0.1.5", "u-1", base.Add(time.Minute), true))
	require.Len(t, got, 1)
	assert.Equal(t, tracker.AlertNewIPForUser, got[0].Type)
	assert.ElementsMatch(t, []string{"10.0.1.1", "10.0.1.2"}, got[0].Metadata["previousIPs"])
}

func TestSnapshotIsPointInTime(t *testing.T) {
	tr := newTracker(t, tracker.Config{RateLimitThreshold: 1000})
	tr.Track(event("10.0.1.6", "", base, true))

	data, err := tr.Snapshot()
	require.NoError(t, err)

	tr.Track(event("10.0.1.7", "", base.Add(time.Second), true))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc["ip_stats"], 1)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	tr := newTracker(t, tracker.Config{})

	err := tr.Restore([]byte(`{"version":99}`))
	require.ErrorIs(t, err, tracker.ErrSnapshotVersion)

	err = tr.Restore([]byte(`not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, tracker.ErrSnapshotVersion)
}

func TestRestoreRetruncatesToLiveCaps(t *testing.T) {
	src := newTracker(t, tracker.Config{RateLimitThreshold: 1000})
	for i := 0; i < 6; i++ {
		e := event("10.0.1.8", "", base.Add(time.Duration(i)*time.Second), true)
		e.Endpoint = "/e" + string(rune('a'+i))
		src.Track(e)
	}
	data, err := src.Snapshot()
	require.NoError(t, err)

	dst := newTracker(t, tracker.Config{MaxSetEntries: 3, RateLimitThreshold: 1000})
	require.NoError(t, dst.Restore(data))

	stats, ok := dst.Stats("10.0.1.8")
	require.True(t, ok)
	assert.Len(t, stats.Endpoints, 3)
}
