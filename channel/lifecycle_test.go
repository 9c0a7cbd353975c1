package channel

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestLifecycleFiresOncePerPhase(t *testing.T) {
	l := NewLifecycleManager()
	defer l.Close()

	var startupCount, shutdownCount, failureCount int32
	l.OnStartup(func() { atomic.AddInt32(&startupCount, 1) })
	l.OnShutdown(func() { atomic.AddInt32(&shutdownCount, 1) })
	l.OnFailure(func(error) { atomic.AddInt32(&failureCount, 1) })

	l.MarkStarted()
	l.MarkStarted() // second call must be a no-op

	l.MarkStopped()
	l.MarkStopped()

	l.MarkFailed(errors.New("boom"))
	l.MarkFailed(errors.New("boom again"))

	if got := atomic.LoadInt32(&startupCount); got != 1 {
		t.Errorf("startupCount = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&shutdownCount); got != 1 {
		t.Errorf("shutdownCount = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&failureCount); got != 1 {
		t.Errorf("failureCount = %d, want 1", got)
	}
}

func TestLifecycleInvokeNowPolicy(t *testing.T) {
	l := NewLifecycleManager()
	defer l.Close()

	l.MarkStarted()
	l.MarkStopped()

	var startupFired, shutdownFired bool
	var failureErr error
	var failureFired bool

	l.OnStartup(func() { startupFired = true })
	l.OnShutdown(func() { shutdownFired = true })

	if !startupFired {
		t.Error("OnStartup registered after MarkStarted should fire immediately")
	}
	if !shutdownFired {
		t.Error("OnShutdown registered after MarkStopped should fire immediately")
	}

	want := errors.New("already failed")
	l2 := NewLifecycleManager()
	defer l2.Close()
	l2.MarkFailed(want)
	l2.OnFailure(func(err error) {
		failureFired = true
		failureErr = err
	})
	if !failureFired {
		t.Error("OnFailure registered after MarkFailed should fire immediately")
	}
	if failureErr != want {
		t.Errorf("failureErr = %v, want %v", failureErr, want)
	}
}

func TestLifecycleCallbacksFireInOrder(t *testing.T) {
	l := NewLifecycleManager()
	defer l.Close()

	var order []int
	l.OnStartup(func() { order = append(order, 1) })
	l.OnStartup(func() { order = append(order, 2) })
	l.OnStartup(func() { order = append(order, 3) })
	l.MarkStarted()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestLifecycleHandleSignal(t *testing.T) {
	l := NewLifecycleManager()
	defer l.Close()

	fired := make(chan struct{}, 1)
	l.HandleSignal(SignalInterrupt, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Re-installing the same signal should replace the handler, not panic
	// or leak the previous goroutine.
	l.HandleSignal(SignalInterrupt, func() {})
	l.RemoveSignal(SignalInterrupt)
	// RemoveSignal on an already-removed signal is a no-op.
	l.RemoveSignal(SignalInterrupt)
}
