// Package watch tracks a project's source tree with fsnotify,
// adapted from google-navc's file watcher (files.go's
// watcher/handleFileChange/handleDirChange/traversePath), generalized
// from the teacher's single global watcher and hardcoded .c/.h
// extension regexes into a per-root, multi-callback watcher driven by
// source.DetectLanguage.
package watch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"navc/internal/source"
)

// Callbacks receives the three file-level events files.go's
// handleFileChange/exploreIndexDir dispatch to the indexing pipeline.
type Callbacks struct {
	// OnSourceChanged fires for a created or modified source file.
	OnSourceChanged func(path string)
	// OnHeaderChanged fires for a created or modified file that
	// source.DetectLanguage does not classify as a source (headers,
	// and any other non-source file); the
	// caller is responsible for finding and requeuing dependents
	// (project.Dirty / project.Reindex cover that, spec §4.B).
	OnHeaderChanged func(path string)
	// OnRemoved fires for any deleted or renamed-away file.
	OnRemoved func(path string)
}

// Watcher recursively watches one or more root directories, skipping
// hidden entries the way traversePath's "name[0] == '.'" check does.
type Watcher struct {
	fsw  *fsnotify.Watcher
	cb   Callbacks
	stop chan struct{}
}

// New creates a Watcher and adds every directory under each root.
func New(roots []string, cb Callbacks) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, cb: cb, stop: make(chan struct{})}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if isHidden(path) && path != root {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".")
}

// Run processes fsnotify events until Close is called, dispatching to
// Callbacks the way handleFiles' select loop does in the teacher.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case <-w.fsw.Errors:
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if isHidden(event.Name) {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		w.handleDir(event)
		return
	}

	lang := source.DetectLanguage(event.Name)
	path := filepath.Clean(event.Name)

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if w.cb.OnRemoved != nil {
			w.cb.OnRemoved(path)
		}
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		switch lang {
		case source.LangC, source.LangCPlusPlus, source.LangCPlusPlus11, source.LangObjC:
			if w.cb.OnSourceChanged != nil {
				w.cb.OnSourceChanged(path)
			}
		default:
			if w.cb.OnHeaderChanged != nil {
				w.cb.OnHeaderChanged(path)
			}
		}
	}
}

func (w *Watcher) handleDir(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		w.addTree(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.fsw.Remove(event.Name)
	}
}

// Close stops Run and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}

// WatchedPaths returns every directory currently registered with the
// underlying fsnotify watcher, the supplemented "WatchedPaths" surface
// SPEC_FULL.md wires into the DumpFile query (spec §6).
func (w *Watcher) WatchedPaths() []string {
	return w.fsw.WatchList()
}
