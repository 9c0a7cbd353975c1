package channel

import (
	"net"
	"sync"
)

// DefaultMaxWriteBufferBytes bounds how much unflushed outbound data a
// single connection's write buffer may hold before Write starts returning
// ErrWriteBufferFull. See SPEC_FULL.md's resolution of the "unbounded
// writeBuffer" open question in spec.md §9.
const DefaultMaxWriteBufferBytes = 4 << 20 // 4 MiB

// connection is the socket backend from spec.md §4.3: the per-connection
// implementation of Backend over a net.Conn.
//
// spec.md describes this component in terms of GCD dispatch sources: a
// read source and a lazily-created write source. This is the redesign
// called for by §9 ("model ownership explicitly ... a simple
// per-connection worker suffices"): one reader goroutine, and one writer
// goroutine that only exists (and only owns the socket's write half)
// while there is unflushed data: Write starts it when bytes are first
// buffered, and it exits as soon as the buffer is empty.
type connection struct {
	conn    net.Conn
	manager *ConnectionManager
	logger  Logger

	channelMu sync.Mutex
	channel   *Channel

	readBuf []byte

	mu               sync.Mutex
	writeBuf         []byte
	writePos         int
	preparingToClose bool
	closed           bool
	writerRunning    bool
	writeSignal      chan struct{}
	maxWriteBuffer   int

	closeOnce sync.Once
}

func newConnection(conn net.Conn, manager *ConnectionManager, logger Logger) *connection {
	return &connection{
		conn:           conn,
		manager:        manager,
		logger:         logOrNop(logger),
		writeSignal:    make(chan struct{}, 1),
		maxWriteBuffer: manager.maxWriteBufferBytes(),
	}
}

func (c *connection) setChannel(ch *Channel) {
	c.channelMu.Lock()
	c.channel = ch
	c.channelMu.Unlock()
}

func (c *connection) getChannel() *Channel {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	return c.channel
}

// Start begins the connection's read loop on a background goroutine.
func (c *connection) Start() error {
	go c.readLoop()
	return nil
}

// Stop unconditionally closes the connection.
func (c *connection) Stop() error {
	c.close()
	return nil
}

// PrepareToClose implements the graceful-close primitive from spec.md
// §4.3: if the write buffer is already empty, close immediately;
// otherwise mark preparingToClose and let the writer goroutine's
// write-complete path perform the close once the buffer drains.
func (c *connection) PrepareToClose() {
	c.mu.Lock()
	empty := len(c.writeBuf) == c.writePos
	if empty {
		c.mu.Unlock()
		c.close()
		return
	}
	c.preparingToClose = true
	c.mu.Unlock()
}

// Write appends p to the outbound path. Per spec.md §4.3, an optimistic
// synchronous write is attempted only when the write buffer is currently
// empty; a partial write (or any write while the buffer is non-empty)
// enqueues the remainder, preserving byte order.
//
// c.mu is held across the synchronous write attempt itself, not just the
// bookkeeping around it: every decoded message is dispatched to the
// delegate on its own goroutine, so two goroutines can call Write on the
// same connection concurrently (e.g. two RespondTo/Send calls racing).
// Releasing the lock before issuing the syscall write would let both see
// an empty buffer, both proceed, and then interleave their bytes on the
// wire in whatever order the OS happens to schedule the two writes --
// breaking per-connection byte ordering. Holding c.mu through the write
// serializes them in lock-acquisition order instead.
func (c *connection) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if len(c.writeBuf) == c.writePos {
		// Buffer empty: try a synchronous write first, still under c.mu.
		n, err := c.conn.Write(p)
		if err != nil {
			c.mu.Unlock()
			c.logger.Logf("connection: write error: %v", err)
			return n, err
		}
		if n == len(p) {
			c.mu.Unlock()
			return n, nil
		}
		p = p[n:]
	}

	if len(c.writeBuf)+len(p) > c.maxWriteBuffer {
		c.mu.Unlock()
		c.logger.Logf("connection: %v", ErrWriteBufferFull)
		return 0, ErrWriteBufferFull
	}
	c.writeBuf = append(c.writeBuf, p...)
	needWriter := !c.writerRunning
	c.writerRunning = true
	c.mu.Unlock()

	if needWriter {
		go c.writeLoop()
	} else {
		select {
		case c.writeSignal <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// readLoop drains the socket, feeding accumulated bytes to the processor
// one JSON value at a time (spec.md §4.3's read path).
func (c *connection) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.readBuf = append(c.readBuf, buf[:n]...)
			c.drainReadBuf()
		}
		if err != nil {
			if n == 0 {
				c.logger.Logf("connection: peer closed or read error: %v", err)
			}
			c.PrepareToClose()
			return
		}
	}
}

func (c *connection) drainReadBuf() {
	ch := c.getChannel()
	if ch == nil {
		return
	}
	proc := ch.processor
	for len(c.readBuf) > 0 {
		n, status := proc.Process(c.readBuf)
		if status == ProcessNeedsRetry {
			// The processor is still dispatching an earlier value from
			// this same chunk asynchronously; that dispatch resets its
			// state as soon as the delegate callback returns, which for
			// well-behaved delegates is fast. Give it a brief chance to
			// catch up before falling back to waiting for the next read,
			// so several JSON values in one packet each get framed
			// without needing a newline between them.
			if !retryProcess(proc, &c.readBuf) {
				return
			}
			continue
		}
		// ProcessOK or ProcessMalformed: either way n bytes are done
		// with, whether framed or dropped as unparseable.
		c.readBuf = c.readBuf[n:]
	}
}

// writeLoop is the write-source analogue: it flushes writeBuf from
// writePos to the end until the buffer is empty, then exits. Whenever a
// flush empties the buffer while preparingToClose is set, it closes the
// connection.
func (c *connection) writeLoop() {
	for {
		c.mu.Lock()
		if c.writePos >= len(c.writeBuf) {
			c.writerRunning = false
			c.mu.Unlock()
			return
		}
		pending := c.writeBuf[c.writePos:]
		c.mu.Unlock()

		n, err := c.conn.Write(pending)
		if err != nil {
			c.logger.Logf("connection: write error: %v", err)
			c.mu.Lock()
			c.writerRunning = false
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.writePos += n
		if c.writePos >= len(c.writeBuf) {
			c.writeBuf = c.writeBuf[:0]
			c.writePos = 0
			shouldClose := c.preparingToClose
			c.writerRunning = false
			c.mu.Unlock()
			if shouldClose {
				c.close()
			}
			return
		}
		c.mu.Unlock()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
		if c.manager != nil {
			c.manager.forget(c)
		}
	})
}
