package ami

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	mu        sync.Mutex
	events    []string
	completed bool
	err       error
}

func (r *recordingSubscriber) OnNext(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Get("Event"))
}

func (r *recordingSubscriber) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recordingSubscriber) OnCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *recordingSubscriber) snapshot() ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.completed, r.err
}

func TestSubscriberSet_DispatchOrderAndTerminal(t *testing.T) {
	set := NewSubscriberSet(8)
	sub := &recordingSubscriber{}
	set.Subscribe(sub)

	set.DispatchNext(NewMessage("x", "Event", "One"))
	set.DispatchNext(NewMessage("x", "Event", "Two"))
	set.DispatchTerminal(nil)

	events, completed, err := sub.snapshot()
	require.Equal(t, []string{"One", "Two"}, events)
	require.True(t, completed)
	require.NoError(t, err)
	require.Equal(t, 0, set.Len())
}

func TestSubscriberSet_DispatchTerminalWithError(t *testing.T) {
	set := NewSubscriberSet(8)
	sub := &recordingSubscriber{}
	set.Subscribe(sub)

	cause := errors.New("boom")
	set.DispatchTerminal(cause)

	_, completed, err := sub.snapshot()
	require.False(t, completed)
	require.Equal(t, cause, err)
}

func TestSubscriberSet_SubscribeIdempotent(t *testing.T) {
	set := NewSubscriberSet(8)
	sub := &recordingSubscriber{}
	set.Subscribe(sub)
	set.Subscribe(sub)
	require.Equal(t, 1, set.Len())
}

func TestSubscriberSet_UnsubscribeStopsDelivery(t *testing.T) {
	set := NewSubscriberSet(8)
	sub := &recordingSubscriber{}
	h := set.Subscribe(sub)
	h.Unsubscribe()

	set.DispatchNext(NewMessage("x", "Event", "Ignored"))
	events, _, _ := sub.snapshot()
	require.Empty(t, events)
}

func TestSubscriberSet_DropsOnFullMailbox(t *testing.T) {
	set := NewSubscriberSet(1)
	var dropped int
	var mu sync.Mutex
	set.OnDrop = func(Subscriber) {
		mu.Lock()
		dropped++
		mu.Unlock()
	}

	block := make(chan struct{})
	sub := &blockingSubscriber{release: block}
	set.Subscribe(sub)

	// First event occupies the worker goroutine (blocked on release).
	set.DispatchNext(NewMessage("x", "Event", "One"))
	// Second fills the size-1 mailbox.
	set.DispatchNext(NewMessage("x", "Event", "Two"))
	// Third has nowhere to go and must be dropped.
	set.DispatchNext(NewMessage("x", "Event", "Three"))

	close(block)
	set.DispatchTerminal(nil)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, dropped, 1)
}

type blockingSubscriber struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingSubscriber) OnNext(msg *Message) {
	b.once.Do(func() { <-b.release })
}
func (b *blockingSubscriber) OnError(error) {}
func (b *blockingSubscriber) OnCompleted()  {}
