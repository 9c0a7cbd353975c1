package channel

import (
	"fmt"
	"sync"
)

// Channel is the facade from spec.md §4.8: it pairs a Backend with a
// Delegate and tracks outstanding outgoing commands by their negative
// correlation id.
type Channel struct {
	backend   Backend
	delegate  Delegate
	logger    Logger
	processor *Processor

	pendingMu sync.Mutex
	pending   map[int]Command
}

// NewChannel pairs backend with delegate and wires the backend's
// back-reference. It does not start the backend; call Start (or register
// the channel with RunForever via RegisterStreamChannel) to begin
// processing.
func NewChannel(backend Backend, delegate Delegate, logger Logger) *Channel {
	logger = logOrNop(logger)
	ch := &Channel{
		backend:  backend,
		delegate: delegate,
		logger:   logger,
		pending:  make(map[int]Command),
	}
	ch.processor = NewProcessor(delegate, logger)
	ch.processor.setChannel(ch)
	backend.setChannel(ch)
	return ch
}

// Start begins consuming bytes on the underlying backend.
func (c *Channel) Start() error { return c.backend.Start() }

// Stop unconditionally tears down the underlying backend.
func (c *Channel) Stop() error { return c.backend.Stop() }

// PrepareToClose lets any queued outbound bytes drain before the
// underlying backend closes.
func (c *Channel) PrepareToClose() { c.backend.PrepareToClose() }

// RespondTo builds {id: msg.ID, body} and writes it via the backend, per
// spec.md §4.8. A serialization failure is logged and the reply is
// dropped, matching the §7 error taxonomy entry for command/reply
// serialization failures.
func (c *Channel) RespondTo(msg Message, body interface{}) error {
	b, err := encodeReply(msg, body)
	if err != nil {
		c.logger.Logf("channel: failed to encode reply to id=%d: %v", msg.ID, err)
		return err
	}
	if _, err := c.backend.Write(b); err != nil {
		c.logger.Logf("channel: failed to write reply to id=%d: %v", msg.ID, err)
		return err
	}
	return nil
}

// Send serializes cmd and writes it via the backend. If cmd carries a
// correlation id, the pending-replies table receives {id -> cmd} strictly
// before the write is issued, so a fast reply from Vim can never race the
// insert (spec.md §5, ordering guarantee 3).
func (c *Channel) Send(cmd Command) error {
	b, err := cmd.encode()
	if err != nil {
		c.logger.Logf("channel: failed to encode command %v: %v", cmd.Kind, err)
		return err
	}

	if cmd.HasID() {
		c.pendingMu.Lock()
		c.pending[cmd.ID()] = cmd
		c.pendingMu.Unlock()
	}

	if _, err := c.backend.Write(b); err != nil {
		if cmd.HasID() {
			c.pendingMu.Lock()
			delete(c.pending, cmd.ID())
			c.pendingMu.Unlock()
		}
		c.logger.Logf("channel: failed to write command %v: %v", cmd.Kind, err)
		return err
	}
	return nil
}

// takePending removes and returns the command pending under id, if any.
// It is called by the Processor when a response arrives.
func (c *Channel) takePending(id int) (Command, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	cmd, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return cmd, ok
}

// PendingCount reports how many commands are awaiting a response. It
// exists mainly for tests and diagnostics.
func (c *Channel) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Channel) String() string {
	return fmt.Sprintf("Channel{pending=%d}", c.PendingCount())
}
