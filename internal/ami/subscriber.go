package ami

import "sync"

// Subscriber receives unsolicited events and the terminal lifecycle signal
// from a Client. Implementations must not block indefinitely in any of the
// three methods: a mailbox goroutine invokes them serially, in wire order.
// During DispatchNext a blocked subscriber only stalls its own mailbox, never
// the worker or other subscribers; DispatchTerminal, however, waits for every
// mailbox to drain, so a blocked subscriber delays termination.
type Subscriber interface {
	OnNext(msg *Message)
	OnError(err error)
	OnCompleted()
}

// DefaultMailboxCapacity is the default bound on a subscriber's queued
// event backlog. DispatchNext drops the newest event for a subscriber whose
// mailbox is full rather than blocking the worker loop.
const DefaultMailboxCapacity = 256

type eventKind int

const (
	eventNext eventKind = iota
	eventError
	eventCompleted
)

type mailboxEvent struct {
	kind eventKind
	msg  *Message
	err  error
}

type subscriberEntry struct {
	sub     Subscriber
	mailbox chan mailboxEvent
	done    chan struct{}
}

// SubscriberSet is a concurrent set of Subscribers. New subscribers may miss
// a message being dispatched concurrently with their Subscribe call
// (dispatch sees only the subscribers registered when it takes the lock).
type SubscriberSet struct {
	mu       sync.Mutex
	entries  map[Subscriber]*subscriberEntry
	capacity int
	// OnDrop, if set, is invoked (outside any lock) whenever an event is
	// dropped because a subscriber's mailbox was full.
	OnDrop func(Subscriber)
}

// NewSubscriberSet returns an empty set whose per-subscriber mailboxes hold
// up to capacity undelivered events. capacity <= 0 uses
// DefaultMailboxCapacity.
func NewSubscriberSet(capacity int) *SubscriberSet {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &SubscriberSet{
		entries:  make(map[Subscriber]*subscriberEntry),
		capacity: capacity,
	}
}

// Handle is returned by Subscribe; disposing it removes the subscriber.
type Handle struct {
	set *SubscriberSet
	sub Subscriber
}

// Unsubscribe removes the subscriber this handle was issued for and blocks
// until its mailbox goroutine has fully drained, so the caller can safely
// tear down anything OnNext might still be using the instant Unsubscribe
// returns. Idempotent.
func (h *Handle) Unsubscribe() {
	done, ok := h.set.Remove(h.sub)
	if ok {
		<-done
	}
}

// Subscribe adds sub to the set, spawning its mailbox goroutine. Subscribing
// the same observer twice is idempotent and returns a handle for the
// existing registration.
func (s *SubscriberSet) Subscribe(sub Subscriber) *Handle {
	s.mu.Lock()
	if _, exists := s.entries[sub]; !exists {
		entry := &subscriberEntry{
			sub:     sub,
			mailbox: make(chan mailboxEvent, s.capacity),
			done:    make(chan struct{}),
		}
		s.entries[sub] = entry
		go entry.run()
	}
	s.mu.Unlock()
	return &Handle{set: s, sub: sub}
}

// Remove unsubscribes sub, if present, without delivering a terminal signal.
// It returns the subscriber's done channel, closed once its mailbox
// goroutine has drained and exited, and whether sub was registered.
func (s *SubscriberSet) Remove(sub Subscriber) (done <-chan struct{}, ok bool) {
	s.mu.Lock()
	entry, ok := s.entries[sub]
	if ok {
		delete(s.entries, sub)
	}
	s.mu.Unlock()
	if ok {
		close(entry.mailbox)
		return entry.done, true
	}
	return nil, false
}

// Len reports the current subscriber count, for metrics.
func (s *SubscriberSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// DispatchNext delivers msg to every subscriber present at the moment of the
// call. Delivery is a non-blocking enqueue onto the subscriber's mailbox; if
// the mailbox is full the event is dropped and OnDrop (if set) is invoked.
func (s *SubscriberSet) DispatchNext(msg *Message) {
	// The enqueue happens under mu so Remove and DispatchTerminal cannot
	// close a mailbox between lookup and send.
	var dropped []Subscriber
	s.mu.Lock()
	for _, entry := range s.entries {
		select {
		case entry.mailbox <- mailboxEvent{kind: eventNext, msg: msg}:
		default:
			dropped = append(dropped, entry.sub)
		}
	}
	s.mu.Unlock()
	if s.OnDrop != nil {
		for _, sub := range dropped {
			s.OnDrop(sub)
		}
	}
}

// DispatchTerminal delivers OnError(err) if err is non-nil, else
// OnCompleted(), to every current subscriber, then empties the set. It
// blocks until every subscriber's mailbox goroutine has processed the
// terminal event, satisfying the guarantee that every subscriber receives
// exactly one terminal signal before Stop returns.
func (s *SubscriberSet) DispatchTerminal(err error) {
	s.mu.Lock()
	snapshot := s.entries
	s.entries = make(map[Subscriber]*subscriberEntry)
	s.mu.Unlock()

	kind := eventCompleted
	if err != nil {
		kind = eventError
	}
	for _, entry := range snapshot {
		entry.mailbox <- mailboxEvent{kind: kind, err: err}
		close(entry.mailbox)
	}
	for _, entry := range snapshot {
		<-entry.done
	}
}

func (s *SubscriberSet) snapshot() []*subscriberEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscriberEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

// run drains the mailbox until it is closed, either by Remove (no terminal
// event, mailbox simply empties) or by DispatchTerminal (one terminal event
// followed by a close). done is always closed on exit, so callers can block
// until this subscriber's mailbox has fully drained regardless of which path
// closed it.
func (e *subscriberEntry) run() {
	defer close(e.done)
	for ev := range e.mailbox {
		switch ev.kind {
		case eventNext:
			e.sub.OnNext(ev.msg)
		case eventError:
			e.sub.OnError(ev.err)
			return
		case eventCompleted:
			e.sub.OnCompleted()
			return
		}
	}
}
