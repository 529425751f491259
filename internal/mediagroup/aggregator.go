// Package mediagroup collects the separate inbound messages of one media
// group into a single pending submission.
package mediagroup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one inbound message belonging to a media group. The first
// entry's caption and topic are authoritative for the flushed group.
type Entry struct {
	TelegramID  int64
	DisplayName string
	Email       string
	Topic       string
	Caption     string
	FileID      string
	FileName    string
	Kind        string
}

type pendingGroup struct {
	entries  []Entry
	lastSeen time.Time
}

// FlushFunc receives a completed group's entries in arrival order.
type FlushFunc func(groupID string, entries []Entry)

// Aggregator accumulates media-group entries and flushes each group after
// it has been quiet for the idle timeout. The timeout debounces on the
// most recent entry, so a slow burst of attachments is never split.
type Aggregator struct {
	idle   time.Duration
	flush  FlushFunc
	logger *slog.Logger

	mu     sync.Mutex
	groups map[string]*pendingGroup
}

// New creates an Aggregator flushing idle groups through fn. fn may be nil
// at construction and set later with SetFlush; the router and the
// aggregator reference each other, so one of them has to bind late.
func New(log *slog.Logger, idle time.Duration, fn FlushFunc) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		idle:   idle,
		flush:  fn,
		logger: log.With(slog.String("service", "mediagroup")),
		groups: make(map[string]*pendingGroup),
	}
}

// SetFlush binds the flush callback.
func (a *Aggregator) SetFlush(fn FlushFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flush = fn
}

// Append adds an entry to its group, creating the group on first sight,
// and refreshes the group's idle clock.
func (a *Aggregator) Append(groupID string, entry Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	group, ok := a.groups[groupID]
	if !ok {
		group = &pendingGroup{}
		a.groups[groupID] = group
	}
	group.entries = append(group.entries, entry)
	group.lastSeen = time.Now()
}

// Contains reports whether the group is currently accumulating.
func (a *Aggregator) Contains(groupID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.groups[groupID]
	return ok
}

// Pending returns the number of groups currently accumulating.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Sweep flushes every group idle longer than the timeout as of now.
// Groups are removed together with their entries under the lock, and the
// flush callback runs after the lock is released.
func (a *Aggregator) Sweep(now time.Time) {
	type flushed struct {
		id      string
		entries []Entry
	}
	var ready []flushed

	a.mu.Lock()
	flush := a.flush
	for id, group := range a.groups {
		if now.Sub(group.lastSeen) > a.idle {
			ready = append(ready, flushed{id: id, entries: group.entries})
			delete(a.groups, id)
		}
	}
	a.mu.Unlock()

	for _, group := range ready {
		a.logger.Debug("flushing media group",
			slog.String("group_id", group.id),
			slog.Int("entries", len(group.entries)))
		if flush != nil {
			flush(group.id, group.entries)
		}
	}
}

// Run sweeps once a second until ctx is done. Groups still pending at
// shutdown are dropped.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Sweep(now)
		}
	}
}
