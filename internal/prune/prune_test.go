package prune_test

import (
	"sync"
	"testing"
	"time"

	"github.com/deskbotio/deskbot/internal/prune"
)

type recordingStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (s *recordingStore) PruneIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return 3
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	p := prune.New(nil, &recordingStore{}, "not a schedule", time.Hour)
	if err := p.Start(); err == nil {
		t.Fatal("Start() = nil, want error for invalid schedule")
	}
}

func TestScheduledRunPrunesWithIdleCutoff(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	p := prune.New(nil, store, "@every 1s", 2*time.Hour)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	deadline := time.After(3 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.cutoffs)
		store.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pruner never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	store.mu.Lock()
	cutoff := store.cutoffs[0]
	store.mu.Unlock()
	wantAround := time.Now().Add(-2 * time.Hour)
	if diff := cutoff.Sub(wantAround); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", cutoff, wantAround)
	}
}
