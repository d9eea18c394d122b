package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	errs    []error
	purged  int64
}

func (f *fakePurger) PurgeEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.purged, nil
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestSweepUsesRetentionCutoff(t *testing.T) {
	repo := &fakePurger{purged: 4}
	w := NewWorker(repo, 24*time.Hour, time.Minute, nil)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, fixed.Add(-24*time.Hour), repo.cutoffs[0])
}

func TestSweepRetriesBusyDatabase(t *testing.T) {
	repo := &fakePurger{purged: 1, errs: []error{errors.New("database is locked (5) (SQLITE_BUSY)")}}
	w := NewWorker(repo, time.Hour, time.Minute, nil)

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, repo.calls())
}

func TestSweepReturnsPermanentErrors(t *testing.T) {
	repo := &fakePurger{errs: []error{errors.New("no such table: analytics_events")}}
	w := NewWorker(repo, time.Hour, time.Minute, nil)

	_, err := w.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, repo.calls())
}

func TestSweepDisabledWithoutRetention(t *testing.T) {
	repo := &fakePurger{}
	w := NewWorker(repo, 0, time.Minute, nil)

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, repo.calls())
}

func TestStartSweepsImmediatelyAndStops(t *testing.T) {
	repo := &fakePurger{}
	w := NewWorker(repo, time.Hour, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := w.Start(ctx)

	require.Eventually(t, func() bool { return repo.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
