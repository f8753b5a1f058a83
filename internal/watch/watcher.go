package watch

import (
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher is a source of raw filesystem events. fsnotify backs the real
// implementation.
type Watcher interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// WatcherFactory creates an empty Watcher.
type WatcherFactory func() (Watcher, error)

type fsWatcher struct {
	w *fsnotify.Watcher
}

// NewFSWatcher returns a Watcher backed by fsnotify.
func NewFSWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(path string) error { return f.w.Add(path) }
func (f *fsWatcher) Close() error { return f.w.Close() }
func (f *fsWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsWatcher) Errors() <-chan error { return f.w.Errors }

// addRecursive watches dir and every directory below it that is not
// ignored. fsnotify is not recursive, so each directory is added
// individually.
func addRecursive(w Watcher, root, dir string, extra []string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// The root itself must be watchable; anything below it may
			// vanish while walking.
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && IsIgnored(root, p, extra) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
