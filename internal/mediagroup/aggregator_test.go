package mediagroup_test

import (
	"sync"
	"testing"
	"time"

	"github.com/deskbotio/deskbot/internal/mediagroup"
)

type recorder struct {
	mu      sync.Mutex
	flushes map[string][]mediagroup.Entry
	calls   int
}

func newRecorder() *recorder {
	return &recorder{flushes: make(map[string][]mediagroup.Entry)}
}

func (r *recorder) flush(groupID string, entries []mediagroup.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes[groupID] = entries
	r.calls++
}

func TestGroupFlushedAfterSilenceOnly(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	agg := mediagroup.New(nil, 2*time.Second, rec.flush)

	base := time.Now()
	agg.Append("g1", mediagroup.Entry{FileID: "a", Caption: "first"})
	// Second entry arrives half a second later, refreshing the idle clock.
	time.Sleep(500 * time.Millisecond)
	agg.Append("g1", mediagroup.Entry{FileID: "b"})

	// 2s past the first entry is only 1.5s past the second, so the group
	// is not yet idle and must not flush.
	agg.Sweep(base.Add(2100 * time.Millisecond))
	if agg.Pending() != 1 {
		t.Fatalf("group flushed prematurely")
	}

	agg.Sweep(base.Add(5 * time.Second))
	if agg.Pending() != 0 {
		t.Fatalf("group not flushed after silence")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 1 {
		t.Fatalf("flush calls = %d, want 1", rec.calls)
	}
	entries := rec.flushes["g1"]
	if len(entries) != 2 {
		t.Fatalf("flushed entries = %d, want 2", len(entries))
	}
	if entries[0].FileID != "a" || entries[1].FileID != "b" {
		t.Fatalf("entry order not preserved: %q, %q", entries[0].FileID, entries[1].FileID)
	}
	if entries[0].Caption != "first" {
		t.Fatalf("first caption lost")
	}
}

func TestLateArrivalRecreatesGroup(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	agg := mediagroup.New(nil, time.Second, rec.flush)

	agg.Append("g2", mediagroup.Entry{FileID: "a"})
	agg.Sweep(time.Now().Add(5 * time.Second))
	if agg.Pending() != 0 {
		t.Fatalf("group not flushed")
	}

	// A straggler for the same id starts a fresh group, never silently lost.
	agg.Append("g2", mediagroup.Entry{FileID: "late"})
	if agg.Pending() != 1 {
		t.Fatalf("late arrival dropped")
	}
	agg.Sweep(time.Now().Add(5 * time.Second))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 2 {
		t.Fatalf("flush calls = %d, want 2", rec.calls)
	}
	if got := rec.flushes["g2"]; len(got) != 1 || got[0].FileID != "late" {
		t.Fatalf("second flush entries wrong: %+v", got)
	}
}

func TestSeparateGroupsFlushIndependently(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	agg := mediagroup.New(nil, time.Second, rec.flush)

	agg.Append("a", mediagroup.Entry{FileID: "1"})
	time.Sleep(10 * time.Millisecond)
	agg.Append("b", mediagroup.Entry{FileID: "2"})

	agg.Sweep(time.Now().Add(2 * time.Second))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 2 {
		t.Fatalf("flush calls = %d, want 2", rec.calls)
	}
	if len(rec.flushes["a"]) != 1 || len(rec.flushes["b"]) != 1 {
		t.Fatalf("each group should flush once with its own entry")
	}
}
