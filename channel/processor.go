package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Delegate is the application-supplied receiver of decoded messages,
// following the redesign note in spec.md §9: dynamic ObjC-style delegate
// dispatch becomes a two-method interface.
type Delegate interface {
	// OnMessage is called for a Vim-originated request (id > 0) or an
	// unstructured message (id == 0). A typical implementation replies via
	// Channel.RespondTo.
	OnMessage(ch *Channel, msg Message)

	// OnResponseToCommand is called when Vim replies to a command we sent
	// with a negative id. cmd is the original Command that requested the
	// response.
	OnResponseToCommand(ch *Channel, resp Message, cmd Command)
}

type processorState int

const (
	stateReset processorState = iota
	stateInitial
	stateComplete
)

// ProcessStatus reports the outcome of a single Process call.
type ProcessStatus int

const (
	// ProcessNeedsRetry means Process made no progress this call, either
	// because an earlier value's dispatch is still in flight or because
	// buf is empty. The caller should retry once that dispatch's deferred
	// state reset has run, or once more bytes have arrived.
	ProcessNeedsRetry ProcessStatus = iota
	// ProcessOK means a complete JSON value was framed and dispatch to the
	// delegate has been scheduled asynchronously. consumed reports the
	// value's length; the caller drops that many bytes from the front of
	// its buffer.
	ProcessOK
	// ProcessMalformed means the bytes at the front of buf are not valid
	// JSON. Process cannot know where a fresh value might begin after
	// corrupt bytes, so consumed reports the entire buffer: the caller
	// must discard it and resume framing fresh on the next read, per
	// spec.md §7's framing-error handling.
	ProcessMalformed
)

// Processor is the per-connection state machine described in spec.md
// §4.4: it frames complete JSON values off a byte buffer and hands each
// one to a Delegate on a background goroutine.
//
// Process implements the strict, whitespace-permissive, value-by-value
// JSON streaming framer chosen to resolve §9's open question about
// back-to-back values arriving without a newline: it decodes exactly one
// top-level JSON value from the front of buf and reports how many bytes
// it consumed, so a caller with multiple values in one read simply calls
// Process again on the remainder.
type Processor struct {
	logger Logger

	mu      sync.Mutex
	state   processorState
	channel *Channel

	delegateMu sync.Mutex
	delegate   Delegate
}

// NewProcessor returns a Processor that dispatches to delegate.
func NewProcessor(delegate Delegate, logger Logger) *Processor {
	return &Processor{
		delegate: delegate,
		logger:   logOrNop(logger),
		state:    stateReset,
	}
}

// setChannel updates the back-reference used when invoking the delegate,
// per the weak-backreference redesign note in spec.md §9: the processor
// only ever borrows the channel identity, it does not own it.
func (p *Processor) setChannel(ch *Channel) {
	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()
}

// Process attempts to decode one complete JSON value from the front of
// buf. On success it returns the number of bytes the value occupied and
// ProcessOK, having scheduled dispatch to the delegate asynchronously.
//
// If the processor is still dispatching an earlier value, or buf is
// empty, it returns (0, ProcessNeedsRetry): no bytes were examined, and
// the caller should call Process again once that condition has cleared.
//
// If the bytes at the front of buf are not valid JSON, it returns
// (len(buf), ProcessMalformed): the whole buffer is reported consumed,
// since there is no reliable way to find where a subsequent value might
// start after corrupt input, and the caller must drop those bytes rather
// than keep retrying against them.
func (p *Processor) Process(buf []byte) (consumed int, status ProcessStatus) {
	p.mu.Lock()
	if p.state == stateReset {
		p.state = stateInitial
	}
	if p.state != stateInitial {
		p.mu.Unlock()
		return 0, ProcessNeedsRetry
	}
	if len(buf) == 0 {
		p.mu.Unlock()
		p.logger.Logf("processor: framing error: unexpected empty buffer")
		return 0, ProcessNeedsRetry
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		p.mu.Unlock()
		p.logger.Logf("processor: framing error: dropping %d malformed byte(s): %v", len(buf), err)
		return len(buf), ProcessMalformed
	}
	n := int(dec.InputOffset())
	ch := p.channel
	p.state = stateComplete
	p.mu.Unlock()

	msg := decodeMessage(raw)
	go p.dispatch(ch, msg)
	return n, ProcessOK
}

func (p *Processor) dispatch(ch *Channel, msg Message) {
	defer func() {
		p.mu.Lock()
		p.state = stateReset
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 16*1024)
			n := runtime.Stack(buf, false)
			p.logger.Logf("processor: recovered panic in delegate: %v\n%s", r, buf[:n])
		}
	}()

	p.delegateMu.Lock()
	delegate := p.delegate
	p.delegateMu.Unlock()
	if delegate == nil || ch == nil {
		p.logger.Logf("processor: dropping message id=%d: no delegate/channel wired yet", msg.ID)
		return
	}

	switch {
	case msg.ID > 0:
		delegate.OnMessage(ch, msg)
	case msg.ID < 0:
		cmd, ok := ch.takePending(msg.ID)
		if !ok {
			p.logger.Logf("processor: %v: id=%d", ErrUnknownResponse, msg.ID)
			return
		}
		delegate.OnResponseToCommand(ch, msg, cmd)
	default:
		delegate.OnMessage(ch, msg)
	}
}

// retryProcess polls Process for a brief window while an earlier
// asynchronous dispatch on the same processor finishes, so that a caller
// draining several JSON values out of one read gets to frame each of them
// promptly instead of stalling until the next byte arrives. It returns
// true once it has advanced *buf, whether by framing a complete value
// (ProcessOK) or by dropping a malformed prefix Process could not parse
// (ProcessMalformed); it returns false only if the processor is still
// busy dispatching an earlier value when the window expires, in which
// case the caller should wait for the next read.
func retryProcess(p *Processor, buf *[]byte) bool {
	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		n, status := p.Process(*buf)
		if status == ProcessOK || status == ProcessMalformed {
			*buf = (*buf)[n:]
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(200 * time.Microsecond)
	}
}

var _ fmt.Stringer = processorState(0)

func (s processorState) String() string {
	switch s {
	case stateReset:
		return "reset"
	case stateInitial:
		return "initial"
	case stateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

var _ fmt.Stringer = ProcessStatus(0)

func (s ProcessStatus) String() string {
	switch s {
	case ProcessNeedsRetry:
		return "needs-retry"
	case ProcessOK:
		return "ok"
	case ProcessMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}
