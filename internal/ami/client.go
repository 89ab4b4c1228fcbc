// Package ami implements the message-framing and request/response
// correlation engine for a client of the Asterisk Management Interface.
package ami

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stream is the minimal transport the Client requires: a readable/writable
// byte stream with EOF detection on Read. A TCP connection satisfies it.
// The Client never closes stream; the caller owns its lifetime.
type Stream interface {
	io.Reader
	io.Writer
}

const (
	stateUnstarted int32 = iota
	stateStarting
	stateRunning
	stateStopped
)

// Client owns a single long-lived duplex AMI connection: the stream, the
// worker loop, the pending-request table, and the subscriber set. The zero
// value is not usable; construct with NewClient.
type Client struct {
	state int32

	stream  Stream
	writeMu sync.Mutex

	pending *PendingTable
	subs    *SubscriberSet

	logger          zerolog.Logger
	mailboxCapacity int

	terminateOnce sync.Once
	done          chan struct{}

	// DataSent fires synchronously within Publish, immediately after the
	// write lock is released, with the exact bytes written.
	DataSent func([]byte)
	// DataReceived fires from the worker loop once per parsed inbound frame,
	// with that frame re-serialized by ToBytes (not the raw bytes read).
	DataReceived func([]byte)
	// Stopped fires exactly once, when the client transitions to Stopped.
	// cause is nil for a voluntary Stop.
	Stopped func(cause error)
	// Dropped fires whenever an event is dropped because a subscriber's
	// mailbox was full.
	Dropped func(sub Subscriber)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger attaches a structured logger. The zero zerolog.Logger value
// (the default) discards all output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMailboxCapacity overrides the bounded per-subscriber mailbox size
// used by the client's SubscriberSet.
func WithMailboxCapacity(n int) Option {
	return func(c *Client) { c.mailboxCapacity = n }
}

// NewClient returns an unstarted Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		pending:         NewPendingTable(),
		mailboxCapacity: DefaultMailboxCapacity,
		done:            make(chan struct{}),
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subs = NewSubscriberSet(c.mailboxCapacity)
	c.subs.OnDrop = func(sub Subscriber) {
		c.logger.Warn().Msg("ami: dropped event, subscriber mailbox full")
		if c.Dropped != nil {
			c.Dropped(sub)
		}
	}
	return c
}

// Start stores stream, synchronously reads and validates the AMI banner,
// then launches the worker loop. It returns once the banner has been
// consumed. Requires Unstarted; on banner failure the client transitions to
// Stopped and the error is returned without spawning a worker.
func (c *Client) Start(stream Stream) error {
	if !atomic.CompareAndSwapInt32(&c.state, stateUnstarted, stateStarting) {
		return ErrAlreadyStarted
	}

	c.stream = stream
	lr := NewLineReader(stream)

	bannerLine, err := lr.NextLine()
	if err != nil {
		var startErr error = &IOError{Cause: err}
		if err == ErrEOF {
			startErr = &HandshakeError{Line: ""}
		}
		c.terminate(startErr)
		return startErr
	}
	banner := strings.TrimRight(string(bannerLine), "\r\n")
	if banner == "" || !strings.HasPrefix(strings.ToLower(banner), "asterisk call manager") {
		hsErr := &HandshakeError{Line: banner}
		c.terminate(hsErr)
		return hsErr
	}

	fa := NewFrameAssembler(lr)
	atomic.StoreInt32(&c.state, stateRunning)
	go c.workerLoop(fa)
	return nil
}

// Publish requires Running and that msg carries an ActionID unique among
// currently pending requests (one is auto-assigned if msg has none). It
// registers a pending slot before writing, so no response for msg's
// ActionID can be observed by the worker before the slot exists, then
// writes the serialized message to the stream under the write lock and
// awaits the response.
func (c *Client) Publish(msg *Message) (*Message, error) {
	if atomic.LoadInt32(&c.state) != stateRunning {
		return nil, ErrNotStarted
	}

	id := msg.ActionID()
	if id == "" {
		id = uuid.NewString()
		msg.Set("ActionID", id)
	}

	s := newSlot()
	if !c.pending.TryInsert(id, s) {
		return nil, &DuplicateActionIDError{ActionID: id}
	}
	// A concurrent terminate may already have drained the table, in which
	// case nothing would ever complete this slot.
	if atomic.LoadInt32(&c.state) != stateRunning {
		c.pending.TryTake(id)
		return nil, ErrNotStarted
	}

	payload := msg.ToBytes()
	c.writeMu.Lock()
	if c.stream == nil {
		c.writeMu.Unlock()
		c.pending.TryTake(id)
		return nil, ErrNotStarted
	}
	err := writeFull(c.stream, payload)
	c.writeMu.Unlock()

	if err != nil {
		c.pending.TryTake(id)
		ioErr := &IOError{Cause: err}
		c.terminate(ioErr)
		return nil, ioErr
	}
	if c.DataSent != nil {
		c.DataSent(payload)
	}

	res := <-s.ch
	c.pending.TryTake(id)

	if res.fulfilled {
		return res.msg, nil
	}
	if res.outcome == OutcomeCancelled {
		return nil, &CancelledError{}
	}
	return nil, res.cause
}

// Subscribe adds observer to the set of subscribers receiving unsolicited
// events. Requires Running. Duplicate Subscribe of the same observer is
// idempotent.
func (c *Client) Subscribe(observer Subscriber) (*Handle, error) {
	if atomic.LoadInt32(&c.state) != stateRunning {
		return nil, ErrNotStarted
	}
	return c.subs.Subscribe(observer), nil
}

// Unsubscribe removes observer, if present. Safe to call at any time.
func (c *Client) Unsubscribe(observer Subscriber) {
	_, _ = c.subs.Remove(observer)
}

// Stop transitions the client to Stopped, draining the pending table with
// Cancelled and delivering OnCompleted to every subscriber. Idempotent: a
// concurrent worker fault or a second Stop call is a no-op. Does not close
// the underlying stream.
func (c *Client) Stop() {
	c.terminate(nil)
}

// Done returns a channel closed once the client has fully transitioned to
// Stopped (pending table drained, subscribers signalled).
func (c *Client) Done() <-chan struct{} { return c.done }

// PendingCount reports the number of Publish calls currently awaiting a
// response, for periodic metrics sampling.
func (c *Client) PendingCount() int { return c.pending.Len() }

// SubscriberCount reports the number of currently registered subscribers,
// for periodic metrics sampling.
func (c *Client) SubscriberCount() int { return c.subs.Len() }

func (c *Client) terminate(cause error) {
	c.terminateOnce.Do(func() {
		atomic.StoreInt32(&c.state, stateStopped)

		outcome := OutcomeCancelled
		if cause != nil {
			outcome = OutcomeFailed
		}
		c.pending.DrainWith(outcome, cause)
		c.subs.DispatchTerminal(cause)

		c.writeMu.Lock()
		c.stream = nil
		c.writeMu.Unlock()

		if c.Stopped != nil {
			c.Stopped(cause)
		}
		close(c.done)
	})
}

// workerLoop is the single logical task driving the connection: pull
// frames, correlate responses, fan out events, until EOF or a fault.
func (c *Client) workerLoop(fa *FrameAssembler) {
	for {
		msg, err := fa.Next()
		if err != nil {
			if err == ErrEOF {
				c.logger.Debug().Msg("ami: worker observed clean EOF")
				c.terminate(nil)
			} else {
				c.logger.Error().Err(err).Msg("ami: worker stopping on fault")
				c.terminate(err)
			}
			return
		}

		if c.DataReceived != nil {
			c.DataReceived(msg.ToBytes())
		}

		handled := false
		if msg.IsResponse() {
			if id := msg.ActionID(); id != "" {
				if s, ok := c.pending.TryTake(id); ok {
					s.fulfill(msg)
					handled = true
				}
			}
		}
		if !handled {
			c.subs.DispatchNext(msg)
		}
	}
}

// writeFull writes p to w in full, looping over partial writes, matching
// the "written as one indivisible operation" contract under writeMu.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
