// Package pool manages multiple AMI connections and routes actions to one of
// them by a caller-supplied routing key, so a single process can originate
// calls or query state across more than one Asterisk server.
package pool

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/alexforster/goami/internal/ami"
)

// Dialer opens a Stream to an Asterisk server given its address.
type Dialer func(ctx context.Context, addr string) (ami.Stream, error)

// shard is one AMI connection within the pool, identified by its dial
// address. Unlike a WebSocket shard, a shard here owns no goroutine of its
// own: ami.Client already runs its own worker loop, so the shard is just a
// named handle on a client plus an optional rate limiter.
type shard struct {
	addr    string
	client  *ami.Client
	limiter *rate.Limiter
}

// ClientPool is a fixed set of AMI connections, load-balanced by an explicit
// routing key (e.g. a channel or queue name) rather than a central
// supervisor goroutine. AssignKey and Publish pick a shard by an FNV-1a hash
// of the key modulo the shard count; changing the shard count remaps keys.
type ClientPool struct {
	mu     sync.RWMutex
	shards []*shard

	dialer Dialer
	opts   []ami.Option
}

// Option configures a ClientPool.
type Option func(*ClientPool)

// WithRateLimit attaches a token-bucket limiter to every shard, bounding the
// rate of Publish calls issued to each Asterisk server independently.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *ClientPool) {
		for _, s := range p.shards {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithClientOptions forwards ami.Option values to every shard's Client.
func WithClientOptions(opts ...ami.Option) Option {
	return func(p *ClientPool) { p.opts = append(p.opts, opts...) }
}

// New constructs a pool with one shard per address. Call Start to dial and
// handshake every shard.
func New(dialer Dialer, addrs []string, opts ...Option) (*ClientPool, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("pool: at least one address is required")
	}
	p := &ClientPool{dialer: dialer}
	for _, addr := range addrs {
		p.shards = append(p.shards, &shard{addr: addr})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start dials and handshakes every shard. If any shard fails, Start returns
// the first error after attempting every shard, so a caller can see which
// servers are unreachable rather than aborting at the first failure.
func (p *ClientPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, s := range p.shards {
		stream, err := p.dialer(ctx, s.addr)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pool: dial %s: %w", s.addr, err)
			}
			continue
		}
		s.client = ami.NewClient(p.opts...)
		if err := s.client.Start(stream); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("pool: start %s: %w", s.addr, err)
			}
			continue
		}
	}
	return firstErr
}

// Stop stops every shard's client.
func (p *ClientPool) Stop() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.shards {
		if s.client != nil {
			s.client.Stop()
		}
	}
}

// Len reports the number of shards in the pool.
func (p *ClientPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.shards)
}

// AssignKey returns the shard index key is routed to. The mapping is stable
// for a given pool size: the same key always lands on the same shard as
// long as the address list doesn't change.
func (p *ClientPool) AssignKey(key string) int {
	p.mu.RLock()
	n := len(p.shards)
	p.mu.RUnlock()
	if n == 0 {
		return -1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Publish routes msg to the shard assigned to key and publishes it there,
// blocking on that shard's rate limiter first if one is configured.
func (p *ClientPool) Publish(ctx context.Context, key string, msg *ami.Message) (*ami.Message, error) {
	idx := p.AssignKey(key)
	if idx < 0 {
		return nil, fmt.Errorf("pool: no shards configured")
	}

	p.mu.RLock()
	s := p.shards[idx]
	p.mu.RUnlock()

	if s.client == nil {
		return nil, fmt.Errorf("pool: shard %s not started", s.addr)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pool: rate limit wait on %s: %w", s.addr, err)
		}
	}
	return s.client.Publish(msg)
}

// Broadcast publishes msg to every shard and returns the results in shard
// order. A nil error for an index means that shard's Publish succeeded.
func (p *ClientPool) Broadcast(msg *ami.Message) ([]*ami.Message, []error) {
	p.mu.RLock()
	shards := make([]*shard, len(p.shards))
	copy(shards, p.shards)
	p.mu.RUnlock()

	results := make([]*ami.Message, len(shards))
	errs := make([]error, len(shards))

	var wg sync.WaitGroup
	for i, s := range shards {
		if s.client == nil {
			errs[i] = fmt.Errorf("pool: shard %s not started", s.addr)
			continue
		}
		wg.Add(1)
		go func(i int, s *shard) {
			defer wg.Done()
			// NewMessage mutates nothing shared; each shard gets its own copy
			// of the action so ActionID correlation doesn't cross shards.
			results[i], errs[i] = s.client.Publish(cloneMessage(msg))
		}(i, s)
	}
	wg.Wait()
	return results, errs
}

// cloneMessage rebuilds msg under a fresh ActionID so concurrent Broadcast
// sends to different shards never collide in any one shard's pending table.
func cloneMessage(msg *ami.Message) *ami.Message {
	return ami.NewMessage(msg.Action(), msg.KV()...)
}
