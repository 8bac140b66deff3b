package backup

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// sourceGuard watches the directories holding backup sources and remembers
// which tracked files were written, renamed, or removed while it ran. It
// supplements the checksum comparison: events arrive asynchronously, so a
// change shortly before Close may go unseen, but one that is seen always
// fails the backup.
type sourceGuard struct {
	watcher *fsnotify.Watcher
	tracked map[string]string // absolute path -> home-relative path

	mu      sync.Mutex
	touched map[string]bool
	done    chan struct{}
}

// newSourceGuard starts watching. paths maps absolute paths to the
// home-relative names reported on a hit.
func newSourceGuard(paths map[string]string) (*sourceGuard, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	g := &sourceGuard{
		watcher: w,
		tracked: paths,
		touched: make(map[string]bool),
		done:    make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for abs := range paths {
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	go g.loop()
	return g, nil
}

func (g *sourceGuard) loop() {
	defer close(g.done)
	for {
		select {
		case ev, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Create) {
				continue
			}
			rel, ok := g.tracked[filepath.Clean(ev.Name)]
			if !ok {
				continue
			}
			g.mu.Lock()
			g.touched[rel] = true
			g.mu.Unlock()
			logger.Warn("backup source modified during backup", "path", rel, "op", ev.Op.String())
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("source guard error", "error", err)
		}
	}
}

// Touched reports whether rel was modified since the guard started.
func (g *sourceGuard) Touched(rel string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.touched[rel]
}

// First returns any touched path, or "".
func (g *sourceGuard) First() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for rel := range g.touched {
		return rel
	}
	return ""
}

// Close stops the watcher and waits for the event loop to drain.
func (g *sourceGuard) Close() {
	_ = g.watcher.Close()
	<-g.done
}
