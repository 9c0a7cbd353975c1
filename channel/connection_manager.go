package channel

import (
	"net"
	"sync"
)

// ConnectionManager owns the table mapping a live socket to its
// connection, guarded by one coordination lock, per spec.md §4.5.
//
// ConnectionManager holds strong references to its connections;
// connections hold only an unexported pointer back to their manager
// (used solely to call forget on close), which is the explicit-ownership
// redesign of the weak back-reference called for in spec.md §9.
type ConnectionManager struct {
	logger Logger

	mu          sync.Mutex
	connections map[*connection]*Channel

	maxWriteBuf int
}

// NewConnectionManager returns a ConnectionManager with the default
// write-buffer high-water mark.
func NewConnectionManager(logger Logger) *ConnectionManager {
	return &ConnectionManager{
		logger:      logOrNop(logger),
		connections: make(map[*connection]*Channel),
		maxWriteBuf: DefaultMaxWriteBufferBytes,
	}
}

// SetMaxWriteBufferBytes overrides the per-connection write-buffer
// high-water mark for connections opened after this call.
func (m *ConnectionManager) SetMaxWriteBufferBytes(n int) {
	m.mu.Lock()
	m.maxWriteBuf = n
	m.mu.Unlock()
}

func (m *ConnectionManager) maxWriteBufferBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxWriteBuf
}

// Open wraps conn in a new Channel backed by a per-connection socket
// backend, delegating to delegate, and starts it. On success it is
// tracked under the coordination lock until the connection closes or
// Remove is called.
//
// If conn does not support deadlines (so it cannot be driven without
// blocking the read goroutine indefinitely on a dead peer) Open still
// proceeds; spec.md §4.5's "non-blocking setup failure" case does not
// arise for Go's net.Conn, which is always usable from a dedicated
// goroutine without an explicit non-blocking flag.
func (m *ConnectionManager) Open(conn net.Conn, delegate Delegate) (*Channel, error) {
	c := newConnection(conn, m, m.logger)
	ch := NewChannel(c, delegate, m.logger)

	m.mu.Lock()
	m.connections[c] = ch
	m.mu.Unlock()

	if err := ch.Start(); err != nil {
		m.mu.Lock()
		delete(m.connections, c)
		m.mu.Unlock()
		m.logger.Logf("connection manager: failed to start connection: %v", err)
		return nil, err
	}
	return ch, nil
}

// Remove gracefully closes the connection backing ch, if it is still
// tracked, and erases its table entry.
func (m *ConnectionManager) Remove(ch *Channel) {
	m.mu.Lock()
	var target *connection
	for c, tracked := range m.connections {
		if tracked == ch {
			target = c
			break
		}
	}
	if target != nil {
		delete(m.connections, target)
	}
	m.mu.Unlock()
	if target != nil {
		target.PrepareToClose()
	}
}

// PrepareToCloseAll gracefully drains every currently tracked connection,
// without affecting whether the owning Server keeps accepting new ones.
func (m *ConnectionManager) PrepareToCloseAll() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.connections))
	for c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.PrepareToClose()
	}
}

// Count reports how many connections are currently tracked.
func (m *ConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// forget is called by a connection as it closes, to erase its own table
// entry without going through the public Remove lookup.
func (m *ConnectionManager) forget(c *connection) {
	m.mu.Lock()
	delete(m.connections, c)
	m.mu.Unlock()
}
