// Package watcher reports changes to corpus files so a running engine can
// refresh its indexes.
//
// fsnotify is the primary source. It watches the parent directory of every
// file, since editors and export jobs usually replace a file by renaming a
// temporary over it. When fsnotify cannot be initialised (some network
// mounts, containers) the watcher falls back to polling file stats.
//
// Events are debounced so that a burst of writes triggers one callback.
//
// Usage:
//
//	w, err := watcher.NewCorpusWatcher([]string{"data/articles.jsonl"}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	err = w.Run(ctx, func(ctx context.Context, events []watcher.FileEvent) error {
//	    return engine.Refresh(ctx)
//	})
package watcher
