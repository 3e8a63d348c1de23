package peering

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Stub is an outbound RPC handle the pool deduplicates by endpoint. It is
// typically a grpc.ClientConn wrapped by internal/grpctransport.
type Stub interface {
	Close() error
}

// StubDialer creates a Stub for an endpoint. Swappable in tests.
type StubDialer func(endpoint string) (Stub, error)

type entry struct {
	stub     Stub
	refs     int
	teardown clockwork.Timer // non-nil while a grace-period teardown is scheduled
}

// Pool deduplicates outbound RPC stubs by endpoint, reference counting
// acquires and releases and tearing an idle stub down only after a grace
// period, per spec §4.4. Grounded on the dial-once, reuse-by-key shape of
// client/doublezerod's dzclient connection handling, generalized to
// arbitrary endpoints with explicit ref counting.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	dial    StubDialer
	clock   clockwork.Clock
	grace   time.Duration
}

// NewPool builds a Pool. grace defaults to 30s when <= 0.
func NewPool(dial StubDialer, clock clockwork.Clock, grace time.Duration) *Pool {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Pool{
		entries: make(map[string]*entry),
		dial:    dial,
		clock:   clock,
		grace:   grace,
	}
}

// Acquire returns the shared Stub for endpoint, dialing on first acquire and
// incrementing the reference count on every call thereafter. A pending
// teardown is cancelled if one was scheduled.
func (p *Pool) Acquire(endpoint string) (Stub, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[endpoint]; ok {
		if e.teardown != nil {
			e.teardown.Stop()
			e.teardown = nil
		}
		e.refs++
		return e.stub, nil
	}

	stub, err := p.dial(endpoint)
	if err != nil {
		return nil, err
	}
	p.entries[endpoint] = &entry{stub: stub, refs: 1}
	return stub, nil
}

// Release decrements endpoint's reference count. At zero, teardown is
// scheduled after the grace period rather than run immediately, so a
// flapping caller that re-acquires within the window reuses the same stub.
func (p *Pool) Release(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[endpoint]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	e.teardown = p.clock.AfterFunc(p.grace, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		cur, ok := p.entries[endpoint]
		if !ok || cur.refs > 0 {
			return // re-acquired before the grace period elapsed
		}
		cur.stub.Close()
		delete(p.entries, endpoint)
	})
}

// RefCount returns the current reference count for endpoint, or 0 if it has
// no entry. Exposed for tests.
func (p *Pool) RefCount(endpoint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[endpoint]
	if !ok {
		return 0
	}
	return e.refs
}

// Size returns the number of endpoints currently tracked, including those
// pending grace-period teardown.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// PooledDialer adapts a Pool to the Dialer interface, so the Engine shares
// one Transport per endpoint across connect/reconnect cycles instead of
// dialing fresh every time, per spec §4.4.
type PooledDialer struct {
	pool   *Pool
	dialer Dialer
}

// NewPooledDialer wraps dialer in a Pool with the given grace period. grace
// <= 0 uses Pool's 30s default.
func NewPooledDialer(dialer Dialer, clock clockwork.Clock, grace time.Duration) *PooledDialer {
	d := &PooledDialer{dialer: dialer}
	d.pool = NewPool(d.dial, clock, grace)
	return d
}

func (d *PooledDialer) dial(endpoint string) (Stub, error) {
	transport, err := d.dialer.Dial(context.Background(), endpoint)
	if err != nil {
		return nil, err
	}
	return transport, nil
}

// Dial implements Dialer, acquiring the shared Transport for endpoint and
// wrapping it so Close releases the Pool's reference (scheduling
// grace-period teardown) instead of tearing the connection down directly.
func (d *PooledDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	stub, err := d.pool.Acquire(endpoint)
	if err != nil {
		return nil, err
	}
	return &pooledTransport{Transport: stub.(Transport), release: func() { d.pool.Release(endpoint) }}, nil
}

// RefCount exposes the underlying Pool's reference count for endpoint.
func (d *PooledDialer) RefCount(endpoint string) int { return d.pool.RefCount(endpoint) }

// pooledTransport wraps a pooled Transport so a Session closing it returns
// the reference to the Pool rather than closing the shared connection out
// from under any other session still using it.
type pooledTransport struct {
	Transport
	release func()
}

func (t *pooledTransport) Close() error {
	t.release()
	return nil
}
