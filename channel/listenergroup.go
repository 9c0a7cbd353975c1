package channel

import "golang.org/x/sync/errgroup"

// listenerGroup is the process-wide wait-group from spec.md §2: RunForever
// blocks on it until every accept loop registered with it has exited.
// errgroup.Group already is exactly this shape (Go to add a task, Wait to
// block for all of them), and it has the bonus of surfacing the first
// non-nil error returned by any accept loop.
type listenerGroup struct {
	g errgroup.Group
}

func (l *listenerGroup) Go(f func() error) { l.g.Go(f) }

func (l *listenerGroup) Wait() error { return l.g.Wait() }

// globalListeners is the single process-wide listener group that
// RunForever waits on. Individual Server values also expose their own
// Wait, for callers that manage a single server outside of the registry.
var globalListeners listenerGroup
