package memory

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reindexDebounce coalesces bursts of filesystem events into one resync.
const reindexDebounce = 1200 * time.Millisecond

// watcher reindexes the store when the markdown tiers change on disk, so
// edits made outside the runtime (an editor, another process) become
// searchable without a restart.
type watcher struct {
	store *Store
	fsw   *fsnotify.Watcher
	stopC chan struct{}
	doneC chan struct{}
}

func newWatcher(s *Store) *watcher {
	return &watcher{
		store: s,
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
}

func (w *watcher) start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		close(w.doneC)
		return err
	}
	w.fsw = fsw

	dirs := []string{
		w.store.paths.WorkspaceDir(),
		w.store.paths.WorkspaceMemDir(),
		w.store.paths.SessionsDir(),
		w.store.paths.SoulJournalDir(),
		w.store.paths.CompactMdDir(),
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.store.logger.Warn("watch dir failed", "dir", dir, "error", err)
		}
	}

	go w.loop()
	return nil
}

func (w *watcher) loop() {
	defer close(w.doneC)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stopC:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reindexDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reindexDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("memory watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.store.MarkDirty()
			if err := w.store.SyncKnowledgeIndex(context.Background()); err != nil {
				w.store.logger.Warn("watch-triggered reindex failed", "error", err)
			}
		}
	}
}

// relevant filters to markdown writes; temp files and chmods are noise.
func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

func (w *watcher) stop() {
	close(w.stopC)
	if w.fsw != nil {
		w.fsw.Close() //nolint:errcheck
	}
	<-w.doneC
}
