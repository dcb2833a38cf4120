package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/pitch-labs/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	stats session.SweepStats
}

func (f *fakeSweeper) Sweep(context.Context) session.SweepStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.stats
}

func (f *fakeSweeper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHistory struct {
	calls int
	ttl   time.Duration
	err   error
}

func (f *fakeHistory) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	f.calls++
	f.ttl = ttl
	return 3, f.err
}

func TestTickReportsChanges(t *testing.T) {
	sw := &fakeSweeper{stats: session.SweepStats{Ended: 1, Evicted: 2}}
	var got []session.SweepStats
	r := New(sw, nil, Config{OnSweep: func(s session.SweepStats) { got = append(got, s) }})

	r.Tick(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Evicted)

	sw.stats = session.SweepStats{}
	r.Tick(context.Background())
	assert.Len(t, got, 1, "quiet sweeps are not reported")
}

func TestHistoryCleanupCadence(t *testing.T) {
	sw := &fakeSweeper{}
	h := &fakeHistory{}
	r := New(sw, h, Config{Retention: 24 * time.Hour})

	for i := 0; i < historyEvery+1; i++ {
		r.Tick(context.Background())
	}
	assert.Equal(t, historyEvery+1, sw.Calls())
	assert.Equal(t, 2, h.calls)
	assert.Equal(t, 24*time.Hour, h.ttl)
}

func TestHistoryCleanupDisabledWithoutRetention(t *testing.T) {
	h := &fakeHistory{}
	r := New(&fakeSweeper{}, h, Config{})
	r.Tick(context.Background())
	assert.Zero(t, h.calls)
}

func TestHistoryCleanupErrorIsNotFatal(t *testing.T) {
	h := &fakeHistory{err: errors.New("database is locked")}
	sw := &fakeSweeper{}
	r := New(sw, h, Config{Retention: time.Hour})
	r.Tick(context.Background())
	r.Tick(context.Background())
	assert.Equal(t, 2, sw.Calls())
}

func TestStartStopsOnCancel(t *testing.T) {
	sw := &fakeSweeper{}
	r := New(sw, nil, Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx)
	require.Eventually(t, func() bool { return sw.Calls() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
