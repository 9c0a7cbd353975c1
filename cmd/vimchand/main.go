// Command vimchand is the reference server from spec.md §6: it hosts a
// Vim JSON channel either over a TCP socket (--socket) or over its own
// standard input and output streams, and replies to whatever requests its
// Delegate understands.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/baberthal/vimchannelkit/channel"
	"github.com/baberthal/vimchannelkit/internal/clog"
	"github.com/baberthal/vimchannelkit/internal/watch"
	"gopkg.in/tomb.v2"
)

var (
	fSocket  = flag.Bool("socket", false, "listen on a TCP socket instead of using stdio")
	fPort    = flag.Int("port", 1337, "TCP port to listen on, when -socket is set")
	fVerbose = flag.Bool("v", false, "verbose (trace-level) logging")
	fControl = flag.String("control-dir", "", "directory to watch for a touched control file that triggers a graceful drain of open connections (socket mode only)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	logger := clog.New(os.Stderr, nil, *fVerbose)
	delegate := newEchoDelegate(logger)

	var t tomb.Tomb
	watching := false
	lifecycle := channel.NewLifecycleManager()
	defer lifecycle.Close()

	done := make(chan struct{})
	var closeDone sync.Once
	stop := func() { closeDone.Do(func() { close(done) }) }

	lifecycle.HandleSignal(channel.SignalInterrupt, func() {
		logger.Logf("received SIGINT, shutting down")
		stop()
	})
	lifecycle.HandleSignal(channel.SignalTerminate, func() {
		logger.Logf("received SIGTERM, shutting down")
		stop()
	})

	var srv *channel.Server
	if *fSocket {
		srv = channel.NewServer(*fPort, delegate, logger)
		srv.OnStartup(func() {
			logger.Logf("listening on transport socket:%d", *fPort)
		})
		srv.OnShutdown(func() {
			logger.Logf("server stopped cleanly")
			stop()
		})
		srv.OnFailure(func(err error) {
			logger.Logf("server failed: %v", err)
			stop()
		})
		channel.RegisterServer(srv)

		if *fControl != "" {
			if err := os.MkdirAll(*fControl, 0o755); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			w, err := watch.New(&t, *fControl)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			defer w.Close()
			watching = true
			t.Go(func() error {
				for name := range w.Touched {
					logger.Logf("control file touched (%s): draining open connections", filepath.Base(name))
					srv.Manager.PrepareToCloseAll()
				}
				return nil
			})
		}
	} else {
		sb := channel.NewStreamBackend(os.Stdin, os.Stdout, logger)
		ch := channel.NewChannel(sb, delegate, logger)
		channel.RegisterStreamChannel(ch)
		go func() {
			<-sb.Done()
			logger.Logf("stdio channel closed")
			stop()
		}()
	}

	if err := channel.StartAll(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if srv == nil {
		logger.Logf("started on transport stdio")
	}

	<-done
	channel.StopAll()
	if watching {
		t.Kill(nil)
		t.Wait()
	}

	if srv != nil {
		if err := srv.Wait(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}
