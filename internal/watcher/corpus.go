package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc handles one debounced batch of events.
type ChangeFunc func(ctx context.Context, events []FileEvent) error

// CorpusWatcher watches a fixed set of corpus files.
type CorpusWatcher struct {
	opts      Options
	paths     map[string]struct{}
	dirs      []string
	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// NewCorpusWatcher prepares a watcher for files. Files need not exist yet,
// but their directories must.
func NewCorpusWatcher(files []string, opts Options) (*CorpusWatcher, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to watch")
	}
	opts = opts.WithDefaults()

	w := &CorpusWatcher{
		opts:      opts,
		paths:     make(map[string]struct{}, len(files)),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		stopCh:    make(chan struct{}),
	}

	var abs []string
	seenDir := make(map[string]bool)
	for _, f := range files {
		p, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		if _, dup := w.paths[p]; dup {
			continue
		}
		w.paths[p] = struct{}{}
		abs = append(abs, p)
		if dir := filepath.Dir(p); !seenDir[dir] {
			seenDir[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			for _, dir := range w.dirs {
				if err = fsw.Add(dir); err != nil {
					break
				}
			}
		}
		if err == nil {
			w.fsWatcher = fsw
			return w, nil
		}
		if fsw != nil {
			_ = fsw.Close()
		}
		slog.Warn("fsnotify unavailable, falling back to polling", slog.String("error", err.Error()))
	}

	w.poller = NewPollingWatcher(abs, opts.PollInterval)
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *CorpusWatcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Run blocks until ctx is cancelled or Stop is called, invoking onChange for
// each debounced batch. Callback errors are logged and do not stop the
// watcher; batches are handled one at a time.
func (w *CorpusWatcher) Run(ctx context.Context, onChange ChangeFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.dispatch(ctx, onChange)
	}()

	var err error
	if w.fsWatcher != nil {
		err = w.runFsnotify(ctx)
	} else {
		err = w.poller.Run(ctx, w.debouncer.Add)
	}
	cancel()
	wg.Wait()

	if w.isStopped() {
		return nil
	}
	return err
}

func (w *CorpusWatcher) dispatch(ctx context.Context, onChange ChangeFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			start := time.Now()
			if err := onChange(ctx, events); err != nil {
				slog.Error("corpus_change_failed",
					slog.Int("events", len(events)),
					slog.String("error", err.Error()))
				continue
			}
			slog.Info("corpus_change_handled",
				slog.Int("events", len(events)),
				slog.Duration("duration", time.Since(start)))
		}
	}
}

func (w *CorpusWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if fe, ok := w.translate(event); ok {
				w.debouncer.Add(fe)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// translate maps an fsnotify event on a watched file to a FileEvent.
// Events for other files in the same directories are dropped.
func (w *CorpusWatcher) translate(event fsnotify.Event) (FileEvent, bool) {
	path := filepath.Clean(event.Name)
	if _, ok := w.paths[path]; !ok {
		return FileEvent{}, false
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return FileEvent{}, false
	}
	return FileEvent{Path: path, Operation: op, Timestamp: time.Now()}, true
}

func (w *CorpusWatcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Stop releases resources and makes Run return. Safe to call multiple times.
func (w *CorpusWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}
