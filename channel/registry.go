package channel

import "sync"

// registry holds the process-wide, append-mostly lists of servers and
// stream channels described in spec.md §4.8, which StartAll, StopAll and
// RunForever iterate. The lists hold ordinary pointers, so a registered
// Channel or Server stays reachable (and is not garbage collected) until
// it is Unregistered.
var registry struct {
	mu      sync.Mutex
	servers []*Server
	streams []*Channel
}

// RegisterServer adds s to the process-wide server registry that
// RunForever drives.
func RegisterServer(s *Server) {
	registry.mu.Lock()
	registry.servers = append(registry.servers, s)
	registry.mu.Unlock()
}

// UnregisterServer removes s from the registry, if present.
func UnregisterServer(s *Server) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for i, r := range registry.servers {
		if r == s {
			registry.servers = append(registry.servers[:i], registry.servers[i+1:]...)
			return
		}
	}
}

// RegisterStreamChannel adds ch to the process-wide stream-channel
// registry that RunForever drives.
func RegisterStreamChannel(ch *Channel) {
	registry.mu.Lock()
	registry.streams = append(registry.streams, ch)
	registry.mu.Unlock()
}

// UnregisterStreamChannel removes ch from the registry, if present.
func UnregisterStreamChannel(ch *Channel) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for i, r := range registry.streams {
		if r == ch {
			registry.streams = append(registry.streams[:i], registry.streams[i+1:]...)
			return
		}
	}
}

// StartAll starts every registered server and stream channel. Servers are
// started via Listen (so a listen failure surfaces here); stream channels
// via Start.
func StartAll() error {
	registry.mu.Lock()
	servers := append([]*Server(nil), registry.servers...)
	streams := append([]*Channel(nil), registry.streams...)
	registry.mu.Unlock()

	for _, s := range servers {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	for _, ch := range streams {
		if err := ch.Start(); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every registered server and stream channel.
func StopAll() {
	registry.mu.Lock()
	servers := append([]*Server(nil), registry.servers...)
	streams := append([]*Channel(nil), registry.streams...)
	registry.mu.Unlock()

	for _, s := range servers {
		s.Stop()
	}
	for _, ch := range streams {
		ch.Stop()
	}
}

// RunForever starts every registered server and stream channel, blocks on
// the process-wide listener group until every accept loop has exited (the
// §2 Listener group), and then enters an indefinite wait — matching
// spec.md §4.8's "never returns" contract for a process whose only job is
// to host channels. A process embedding only stream channels (no
// listening sockets) returns immediately from the listener-group wait and
// simply blocks forever afterward, since its work continues on the
// stream backend's own goroutines.
func RunForever() error {
	if err := StartAll(); err != nil {
		return err
	}
	if err := globalListeners.Wait(); err != nil {
		return err
	}
	select {}
}
