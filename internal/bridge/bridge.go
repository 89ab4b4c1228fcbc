// Package bridge republishes AMI events onto a NATS subject space so other
// services can consume them without holding an AMI connection of their own.
package bridge

import (
	"context"
	"regexp"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/alexforster/goami/internal/ami"
	"github.com/alexforster/goami/internal/metrics"
)

// subjectToken matches the characters NATS allows in a subject token.
var subjectToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	subjectPrefix    = "ami.event."
	orphanSubject    = "ami.response.orphan"
	defaultQueueSize = 1024
	defaultWorkers   = 4
)

// eventSubject derives the NATS subject for an AMI event. Event names are
// alphanumeric by protocol convention; anything that fails the token check
// falls back to orphanSubject rather than publishing an invalid subject.
func eventSubject(eventName string) string {
	if eventName == "" || !subjectToken.MatchString(eventName) {
		return orphanSubject
	}
	return subjectPrefix + strings.ToLower(eventName)
}

// Bridge subscribes to an ami.Client and republishes every dispatched event
// onto NATS, one subject per event name. Publishes run through a bounded
// worker pool so a stalled NATS connection drops bridge traffic instead of
// blocking the AMI client's dispatch path.
type Bridge struct {
	nc      *nats.Conn
	pool    *workerPool
	workers int
	metrics *metrics.Metrics
	logger  zerolog.Logger
	handle  *ami.Handle
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the Bridge's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithWorkers overrides the default worker pool size and queue depth.
func WithWorkers(workers, queueSize int) Option {
	return func(b *Bridge) {
		b.pool = newWorkerPool(queueSize)
		b.workers = workers
	}
}

// New constructs a Bridge publishing through nc. Call Start to begin
// forwarding events from client.
func New(nc *nats.Conn, m *metrics.Metrics, opts ...Option) *Bridge {
	b := &Bridge{
		nc:      nc,
		pool:    newWorkerPool(defaultQueueSize),
		workers: defaultWorkers,
		metrics: m,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start begins draining events from client until ctx is cancelled or Stop is
// called.
func (b *Bridge) Start(ctx context.Context, client *ami.Client) error {
	handle, err := client.Subscribe(b)
	if err != nil {
		return err
	}
	b.pool.start(ctx, b.workers)
	b.handle = handle
	return nil
}

// Stop unsubscribes from the client, waiting for any in-flight OnNext to
// finish submitting to the worker pool before draining and closing it. This
// ordering matters: closing the pool's queue while OnNext could still be
// submitting to it would panic.
func (b *Bridge) Stop() {
	if b.handle != nil {
		b.handle.Unsubscribe()
	}
	b.pool.stop()
}

// OnNext implements ami.Subscriber by republishing msg onto NATS.
func (b *Bridge) OnNext(msg *ami.Message) {
	subject := eventSubject(msg.Get("Event"))
	payload := msg.ToBytes()

	ok := b.pool.submit(func() {
		if err := b.nc.Publish(subject, payload); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("bridge: publish failed")
			return
		}
		b.metrics.BridgePublished.Inc()
	})
	if !ok {
		b.metrics.BridgeDropped.Inc()
		b.logger.Warn().Str("subject", subject).Msg("bridge: worker pool full, dropping event")
	}
}

// OnError implements ami.Subscriber. The bridge logs and relies on Stop for
// cleanup; it does not attempt to reconnect the underlying AMI client.
func (b *Bridge) OnError(err error) {
	b.logger.Error().Err(err).Msg("bridge: ami client terminated with error")
}

// OnCompleted implements ami.Subscriber.
func (b *Bridge) OnCompleted() {
	b.logger.Info().Msg("bridge: ami client stopped")
}
