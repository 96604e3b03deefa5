package main

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ignoredDirs are subtrees that generate noise without ever being what the
// browser wants to re-fetch: vcs metadata, dependency caches, build output.
var ignoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".next":        true,
	".venv":        true,
	".cache":       true,
}

// watchHub maintains at most one filesystem watcher per session directory
// and fans debounced change notifications out to every subscriber of that
// session. The notification is content-agnostic: it says the tree changed,
// never what changed.
type watchHub struct {
	mu       sync.Mutex
	watchers map[string]*dirWatcher

	debounce time.Duration
	maxDepth int
}

// dirWatcher is the shared watcher for one session directory.
type dirWatcher struct {
	sessionID string
	root      string
	fw        *fsnotify.Watcher
	subs      map[eventWriter]struct{}
	timer     *time.Timer // trailing debounce, reset on every raw event
}

func newWatchHub(debounce time.Duration, maxDepth int) *watchHub {
	return &watchHub{
		watchers: make(map[string]*dirWatcher),
		debounce: debounce,
		maxDepth: maxDepth,
	}
}

// Subscribe adds conn to the session's subscriber set, creating the
// underlying watcher if this is the first subscriber. Idempotent: a
// connection subscribes to a session at most once.
func (h *watchHub) Subscribe(conn eventWriter, sessionID, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w, ok := h.watchers[sessionID]; ok {
		w.subs[conn] = struct{}{}
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w := &dirWatcher{
		sessionID: sessionID,
		root:      dir,
		fw:        fw,
		subs:      map[eventWriter]struct{}{conn: {}},
	}
	if err := h.watchTree(fw, dir); err != nil {
		fw.Close()
		return err
	}
	h.watchers[sessionID] = w
	go h.run(w)
	log.Printf("[WATCH] Watching %s for session %s", dir, sessionID)
	return nil
}

// Unsubscribe removes conn from the session's subscriber set; the last
// unsubscribe closes the OS watch handle. Safe to call for connections
// that never subscribed.
func (h *watchHub) Unsubscribe(conn eventWriter, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.watchers[sessionID]
	if !ok {
		return
	}
	delete(w.subs, conn)
	if len(w.subs) > 0 {
		return
	}
	delete(h.watchers, sessionID)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.fw.Close()
	log.Printf("[WATCH] Last subscriber gone, closed watcher for session %s", sessionID)
}

// watcherCount reports how many live watchers exist.
func (h *watchHub) watcherCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// closeAll tears down every watcher. Used only at shutdown.
func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, w := range h.watchers {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.fw.Close()
		delete(h.watchers, id)
	}
}

// watchTree registers dir and its subdirectories up to maxDepth, skipping
// ignored subtrees. Unreadable directories are skipped, not fatal.
func (h *watchHub) watchTree(fw *fsnotify.Watcher, root string) error {
	if err := fw.Add(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if ignoredDirs[d.Name()] || strings.HasPrefix(d.Name(), ".git") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if strings.Count(rel, string(filepath.Separator))+1 > h.maxDepth {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			log.Printf("[WATCH] Cannot watch %s: %v", path, err)
			return filepath.SkipDir
		}
		return nil
	})
}

// run consumes raw filesystem events for one watcher until its handle is
// closed. Every raw event restarts the trailing debounce timer; only when
// the window elapses quietly does one files-changed event go out.
func (h *watchHub) run(w *dirWatcher) {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			// The ignore list names directories; a plain file that
			// happens to be called "build" or "vendor" still counts.
			if ignoredDirs[filepath.Base(ev.Name)] {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					continue
				}
			}
			// Newly created directories join the watch so changes
			// underneath them keep arriving.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					h.addSubdir(w, ev.Name)
				}
			}
			h.restartDebounce(w)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			// Watcher failed (e.g. inotify limits): drop the entry,
			// subscribers go quiet until they resubscribe.
			log.Printf("[WATCH] Session %s watcher error, removing: %v", w.sessionID, err)
			h.drop(w)
			return
		}
	}
}

// addSubdir brings a newly created directory under the watch, depth and
// ignore rules applying as at setup.
func (h *watchHub) addSubdir(w *dirWatcher, path string) {
	if ignoredDirs[filepath.Base(path)] {
		return
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if strings.Count(rel, string(filepath.Separator))+1 > h.maxDepth {
		return
	}
	if err := w.fw.Add(path); err != nil {
		log.Printf("[WATCH] Cannot watch new dir %s: %v", path, err)
	}
}

// restartDebounce (re)arms the trailing debounce timer for w.
func (h *watchHub) restartDebounce(w *dirWatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[w.sessionID] != w {
		return // torn down between event and here
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(h.debounce, func() { h.broadcast(w) })
}

// broadcast delivers one files-changed event to the watcher's current
// subscriber set.
func (h *watchHub) broadcast(w *dirWatcher) {
	h.mu.Lock()
	if h.watchers[w.sessionID] != w {
		h.mu.Unlock()
		return
	}
	subs := make([]eventWriter, 0, len(w.subs))
	for c := range w.subs {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		if err := c.writeEvent(map[string]any{"type": "files-changed"}); err != nil {
			log.Printf("[WATCH] Session %s broadcast write error: %v", w.sessionID, err)
		}
	}
}

// drop removes a failed watcher without notifying subscribers.
func (h *watchHub) drop(w *dirWatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[w.sessionID] != w {
		return
	}
	delete(h.watchers, w.sessionID)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.fw.Close()
}
