package channel

import (
	"os"
	"os/signal"
	"sync"

	"gopkg.in/tomb.v2"
)

// LifecycleManager holds the three ordered callback lists described in
// spec.md §4.7 (startup, shutdown, failure) plus a table of active signal
// handlers. Server holds one in its Lifecycle field, but it is also usable standalone by a
// stream Channel that wants signal-driven shutdown without an accept loop.
//
// Registering a callback after the corresponding phase has already been
// reached fires it immediately, on the calling goroutine (the "invokeNow"
// policy from §4.6).
type LifecycleManager struct {
	startup  callbackList
	shutdown callbackList
	failure  failureList

	mu       sync.Mutex
	signals  map[Signal]*signalHandler
	started  bool
	t        tomb.Tomb
}

type signalHandler struct {
	ch   chan os.Signal
	done chan struct{}
}

// NewLifecycleManager returns a ready-to-use LifecycleManager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		signals: make(map[Signal]*signalHandler),
	}
}

// OnStartup registers f to run once the owner transitions to started.
func (l *LifecycleManager) OnStartup(f func()) { l.startup.register(f) }

// OnShutdown registers f to run once the owner transitions to stopped.
func (l *LifecycleManager) OnShutdown(f func()) { l.shutdown.register(f) }

// OnFailure registers f to run if the owner transitions to failed. f
// receives the error that caused the failure.
func (l *LifecycleManager) OnFailure(f func(error)) { l.failure.register(f) }

// MarkStarted fires every startup callback exactly once, in registration
// order.
func (l *LifecycleManager) MarkStarted() { l.startup.fire() }

// MarkStopped fires every shutdown callback exactly once, in registration
// order.
func (l *LifecycleManager) MarkStopped() { l.shutdown.fire() }

// MarkFailed fires every failure callback exactly once, in registration
// order, passing err to each.
func (l *LifecycleManager) MarkFailed(err error) { l.failure.fire(err) }

// HandleSignal ignores the OS default disposition for sig and arranges for
// f to run on a background goroutine each time the process receives it.
// Installing the same Signal twice replaces the previous handler.
func (l *LifecycleManager) HandleSignal(sig Signal, f func()) {
	l.mu.Lock()
	existing := l.signals[sig]
	if existing != nil {
		signal.Stop(existing.ch)
	}
	h := &signalHandler{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	l.signals[sig] = h
	l.started = true
	l.mu.Unlock()

	signal.Notify(h.ch, sig.os())
	l.t.Go(func() error {
		for {
			select {
			case <-h.ch:
				f()
			case <-h.done:
				return nil
			case <-l.t.Dying():
				return nil
			}
		}
	})
	// The replaced handler's goroutine is released only once the new one
	// is tracked, so the tomb never drops to zero live goroutines here.
	if existing != nil {
		close(existing.done)
	}
}

// RemoveSignal restores the default disposition for sig and stops running
// its handler. It is a no-op if sig has no installed handler.
func (l *LifecycleManager) RemoveSignal(sig Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.signals[sig]
	if !ok {
		return
	}
	signal.Stop(h.ch)
	close(h.done)
	delete(l.signals, sig)
}

// Close removes every installed signal handler and waits for their
// goroutines to exit.
func (l *LifecycleManager) Close() {
	l.mu.Lock()
	sigs := make([]Signal, 0, len(l.signals))
	for s := range l.signals {
		sigs = append(sigs, s)
	}
	started := l.started
	l.mu.Unlock()
	for _, s := range sigs {
		l.RemoveSignal(s)
	}
	l.t.Kill(nil)
	if started {
		l.t.Wait()
	}
}

// callbackList is a "fire once, in order" list of no-argument callbacks
// that invokes late registrants immediately (the invokeNow policy).
type callbackList struct {
	mu      sync.Mutex
	reached bool
	cbs     []func()
}

func (c *callbackList) register(f func()) {
	c.mu.Lock()
	if c.reached {
		c.mu.Unlock()
		f()
		return
	}
	c.cbs = append(c.cbs, f)
	c.mu.Unlock()
}

func (c *callbackList) fire() {
	c.mu.Lock()
	if c.reached {
		c.mu.Unlock()
		return
	}
	c.reached = true
	cbs := c.cbs
	c.mu.Unlock()
	for _, f := range cbs {
		f()
	}
}

// failureList is callbackList's sibling for the one callback list that
// carries a payload (the error that caused the failure).
type failureList struct {
	mu      sync.Mutex
	reached bool
	err     error
	cbs     []func(error)
}

func (c *failureList) register(f func(error)) {
	c.mu.Lock()
	if c.reached {
		err := c.err
		c.mu.Unlock()
		f(err)
		return
	}
	c.cbs = append(c.cbs, f)
	c.mu.Unlock()
}

func (c *failureList) fire(err error) {
	c.mu.Lock()
	if c.reached {
		c.mu.Unlock()
		return
	}
	c.reached = true
	c.err = err
	cbs := c.cbs
	c.mu.Unlock()
	for _, f := range cbs {
		f(err)
	}
}
