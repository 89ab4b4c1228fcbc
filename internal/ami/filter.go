package ami

import "strings"

// FilterSubscriber wraps another Subscriber, forwarding only events whose
// Event field satisfies Predicate. Responses routed to subscribers (e.g.
// list-completion responses carrying EventList: start) and terminal signals
// always pass through unchanged; only OnNext is filtered.
//
// Generalizes the notion of per-channel subscription filtering to AMI event
// names: it adds no second delivery path, it is just a Subscriber.
type FilterSubscriber struct {
	Next      Subscriber
	Predicate func(event string) bool
}

// NewEventNameFilter returns a FilterSubscriber that only forwards events
// whose Event field is in names (case-insensitive).
func NewEventNameFilter(next Subscriber, names ...string) *FilterSubscriber {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return &FilterSubscriber{
		Next: next,
		Predicate: func(event string) bool {
			_, ok := set[strings.ToLower(event)]
			return ok
		},
	}
}

func (f *FilterSubscriber) OnNext(msg *Message) {
	if f.Predicate == nil || msg.IsResponse() || f.Predicate(msg.Get("Event")) {
		f.Next.OnNext(msg)
	}
}

func (f *FilterSubscriber) OnError(err error) { f.Next.OnError(err) }
func (f *FilterSubscriber) OnCompleted()      { f.Next.OnCompleted() }
