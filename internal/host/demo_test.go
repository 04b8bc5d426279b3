package host

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/goassist/internal/assist"
)

var _ assist.Host = (*Demo)(nil)

func TestNewAssignsSessionID(t *testing.T) {
	d := New(Options{ProjectKey: "demo", UserID: "u1"})
	_, err := uuid.Parse(d.SessionID())
	require.NoError(t, err)

	info := d.SessionInfo()
	assert.Equal(t, d.SessionID(), info["sessionID"])
	assert.Equal(t, "u1", info["userID"])

	fixed := New(Options{SessionID: "s1"})
	assert.Equal(t, "s1", fixed.SessionID())
}

func TestStartStopFireCallbacksOnce(t *testing.T) {
	d := New(Options{CommitEvery: time.Hour})
	var starts, stops int
	d.OnStart(func() { starts++ })
	d.OnStop(func() { stops++ })

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Running())
	assert.Equal(t, 1, starts)

	d.Stop()
	d.Stop()
	assert.False(t, d.Running())
	assert.Equal(t, 1, stops)

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, 2, starts)
	d.Stop()
}

func TestStartWithCancelledContext(t *testing.T) {
	d := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, d.Start(ctx))
	assert.False(t, d.Running())
}

func TestCommitAlternatesStatsOnlyBatches(t *testing.T) {
	d := New(Options{})
	var batches [][]json.RawMessage
	d.OnCommit(func(b []json.RawMessage) { batches = append(batches, b) })

	now := time.Unix(1700000000, 0)
	d.Commit(now)
	d.Commit(now)
	require.Len(t, batches, 2)

	statsOnly := assist.StatsOnly(RecTimestamp, RecPerformance)
	assert.False(t, statsOnly(batches[0]))
	assert.True(t, statsOnly(batches[1]))

	var first map[string]any
	require.NoError(t, json.Unmarshal(batches[0][0], &first))
	assert.EqualValues(t, now.UnixMilli(), first["timestamp"])
}

func TestProducesWhileRunning(t *testing.T) {
	d := New(Options{CommitEvery: 5 * time.Millisecond})
	got := make(chan struct{}, 16)
	d.OnCommit(func([]json.RawMessage) {
		select {
		case got <- struct{}{}:
		default:
		}
	})

	require.NoError(t, d.Start(context.Background()))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch produced")
	}
	d.Stop()
}

func TestUpdateSessionMergesInfo(t *testing.T) {
	d := New(Options{UserID: "u1"})
	var seen map[string]any
	var visible []bool
	d.OnSessionUpdate(func(info map[string]any) { seen = info })
	d.OnVisibility(func(v bool) { visible = append(visible, v) })

	d.UpdateSession(map[string]any{"userID": "u2", "plan": "pro"})
	assert.Equal(t, map[string]any{"userID": "u2", "plan": "pro"}, seen)
	assert.Equal(t, "u2", d.SessionInfo()["userID"])
	assert.Equal(t, d.SessionID(), d.SessionInfo()["sessionID"])

	d.SetVisible(false)
	d.SetVisible(true)
	assert.Equal(t, []bool{false, true}, visible)
}
