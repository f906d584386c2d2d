package watcher

import (
	"context"
	"os"
	"sync"
	"time"
)

// PollingWatcher detects changes by comparing file stats on an interval.
type PollingWatcher struct {
	interval time.Duration
	paths    []string

	mu    sync.Mutex
	state map[string]fileSnapshot
}

type fileSnapshot struct {
	exists  bool
	modTime time.Time
	size    int64
}

// NewPollingWatcher watches the given absolute paths.
func NewPollingWatcher(paths []string, interval time.Duration) *PollingWatcher {
	p := &PollingWatcher{
		interval: interval,
		paths:    paths,
		state:    make(map[string]fileSnapshot, len(paths)),
	}
	for _, path := range paths {
		p.state[path] = stat(path)
	}
	return p
}

// Run polls until ctx is cancelled, passing each change to emit.
func (p *PollingWatcher) Run(ctx context.Context, emit func(FileEvent)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, e := range p.Poll() {
				emit(e)
			}
		}
	}
}

// Poll compares each path with its previous snapshot.
func (p *PollingWatcher) Poll() []FileEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []FileEvent
	now := time.Now()
	for _, path := range p.paths {
		prev, cur := p.state[path], stat(path)
		p.state[path] = cur

		var op Operation
		switch {
		case !prev.exists && cur.exists:
			op = OpCreate
		case prev.exists && !cur.exists:
			op = OpDelete
		case cur.exists && (!prev.modTime.Equal(cur.modTime) || prev.size != cur.size):
			op = OpModify
		default:
			continue
		}
		events = append(events, FileEvent{Path: path, Operation: op, Timestamp: now})
	}
	return events
}

func stat(path string) fileSnapshot {
	info, err := os.Stat(path)
	if err != nil {
		return fileSnapshot{}
	}
	return fileSnapshot{exists: true, modTime: info.ModTime(), size: info.Size()}
}
