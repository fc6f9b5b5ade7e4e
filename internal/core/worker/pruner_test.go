package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeJobs struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeJobs) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

type fakeCache struct {
	calls int
	n     int64
}

func (f *fakeCache) Prune(context.Context, time.Time) (int64, error) {
	f.calls++
	return f.n, nil
}

func TestPruner_Interval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		want      time.Duration
	}{
		{time.Minute, time.Minute},
		{time.Hour, 6 * time.Minute},
		{30 * 24 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := NewPruner(tt.retention, nil, nil).Interval(); got != tt.want {
			t.Errorf("retention %v: expected %v, got %v", tt.retention, tt.want, got)
		}
	}
}

func TestPruner_PruneUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := &fakeJobs{n: 4}
	cache := &fakeCache{n: 2}
	p := NewPruner(24*time.Hour, jobs, cache)
	p.now = func() time.Time { return now }

	j, c := p.Prune(context.Background())
	if j != 4 || c != 2 {
		t.Fatalf("expected 4/2, got %d/%d", j, c)
	}
	if want := now.Add(-24 * time.Hour); !jobs.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, jobs.cutoff)
	}
}

func TestPruner_ErrorsDoNotStopOtherStore(t *testing.T) {
	cache := &fakeCache{n: 1}
	p := NewPruner(time.Hour, &fakeJobs{err: errors.New("db down")}, cache)

	j, c := p.Prune(context.Background())
	if j != 0 || c != 1 || cache.calls != 1 {
		t.Fatalf("unexpected result %d/%d calls=%d", j, c, cache.calls)
	}
}

func TestPruner_StartDisabledReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewPruner(0, &fakeJobs{}, nil).Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner did not return")
	}
}
