// Package watch adapts the teacher's cmd/govim/internal/fswatcher
// (fsnotify wrapped in a tomb.Tomb-supervised goroutine) to a different
// purpose: watching a control file so an operator can trigger a graceful
// drain of every open connection on the reference server without sending
// a signal to the whole process.
package watch

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/tomb.v2"
)

// ControlWatcher sends a file's path on Touched whenever any file in the
// watched directory is created, written, removed, or renamed -- any of
// those is treated as "the operator touched a control file" so `touch`,
// `echo > file`, and `rm file` all work as a trigger.
type ControlWatcher struct {
	mw      *fsnotify.Watcher
	Touched chan string
}

// New starts watching dir, which must already exist, and supervises its
// goroutine with t. Events are not filtered by file name: every file in
// dir counts as a control file.
func New(t *tomb.Tomb, dir string) (*ControlWatcher, error) {
	mw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: failed to create watcher: %w", err)
	}
	if err := mw.Add(dir); err != nil {
		mw.Close()
		return nil, fmt.Errorf("watch: failed to watch %s: %w", dir, err)
	}

	touched := make(chan string)
	t.Go(func() error {
		defer close(touched)
		for {
			select {
			case e, ok := <-mw.Events:
				if !ok {
					return nil
				}
				switch e.Op {
				case fsnotify.Create, fsnotify.Write, fsnotify.Remove, fsnotify.Rename:
					select {
					case touched <- e.Name:
					case <-t.Dying():
						return nil
					}
				}
			case err, ok := <-mw.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch: %w", err)
			case <-t.Dying():
				return nil
			}
		}
	})

	return &ControlWatcher{mw: mw, Touched: touched}, nil
}

// Close stops the watcher.
func (w *ControlWatcher) Close() error {
	return w.mw.Close()
}
