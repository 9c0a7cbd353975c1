package channel

import (
	"os"

	"golang.org/x/sys/unix"
)

// Signal enumerates the POSIX signals the lifecycle manager knows how to
// install handlers for. It exists so callers of LifecycleManager.HandleSignal
// don't have to reach for os/signal and golang.org/x/sys/unix themselves.
type Signal int

const (
	SignalInterrupt Signal = iota
	SignalTerminate
	SignalHangup
	SignalQuit
)

// os returns the standard library representation of s, for use with
// signal.Notify.
func (s Signal) os() os.Signal {
	switch s {
	case SignalInterrupt:
		return os.Interrupt
	case SignalTerminate:
		return unix.SIGTERM
	case SignalHangup:
		return unix.SIGHUP
	case SignalQuit:
		return unix.SIGQUIT
	default:
		panic("channel: unknown Signal")
	}
}

// Raw returns the raw POSIX signal number, as govim-style logging tends to
// want to report alongside the symbolic name.
func (s Signal) Raw() int {
	switch s {
	case SignalInterrupt:
		return int(unix.SIGINT)
	case SignalTerminate:
		return int(unix.SIGTERM)
	case SignalHangup:
		return int(unix.SIGHUP)
	case SignalQuit:
		return int(unix.SIGQUIT)
	default:
		panic("channel: unknown Signal")
	}
}

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "SIGINT"
	case SignalTerminate:
		return "SIGTERM"
	case SignalHangup:
		return "SIGHUP"
	case SignalQuit:
		return "SIGQUIT"
	default:
		return "SIGUNKNOWN"
	}
}
