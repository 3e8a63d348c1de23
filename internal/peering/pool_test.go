package peering

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeStub struct {
	endpoint string
	closed   bool
}

func (s *fakeStub) Close() error {
	s.closed = true
	return nil
}

func dialCounting(dials *int) StubDialer {
	return func(endpoint string) (Stub, error) {
		*dials++
		return &fakeStub{endpoint: endpoint}, nil
	}
}

func TestPoolDedupesByEndpoint(t *testing.T) {
	var dials int
	pool := NewPool(dialCounting(&dials), clockwork.NewFakeClock(), time.Second)

	s1, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)
	s2, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)

	require.Same(t, s1, s2)
	require.Equal(t, 1, dials)
	require.Equal(t, 2, pool.RefCount("a.internal:9000"))
}

func TestPoolTeardownAfterGracePeriod(t *testing.T) {
	var dials int
	clock := clockwork.NewFakeClock()
	pool := NewPool(dialCounting(&dials), clock, 30*time.Second)

	s, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)
	stub := s.(*fakeStub)

	pool.Release("a.internal:9000")
	require.Equal(t, 0, pool.RefCount("a.internal:9000"))
	require.False(t, stub.closed, "teardown deferred by grace period")

	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool { return stub.closed }, time.Second, time.Millisecond)
	require.Equal(t, 0, pool.Size())
}

func TestPoolReacquireWithinGraceReusesStub(t *testing.T) {
	var dials int
	clock := clockwork.NewFakeClock()
	pool := NewPool(dialCounting(&dials), clock, 30*time.Second)

	s1, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)
	pool.Release("a.internal:9000")

	clock.Advance(1 * time.Second)
	s2, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)

	require.Same(t, s1, s2)
	require.Equal(t, 1, dials, "grace-period reacquire should not redial")
}

func TestPoolIndependentEndpoints(t *testing.T) {
	var dials int
	pool := NewPool(dialCounting(&dials), clockwork.NewFakeClock(), time.Second)

	_, err := pool.Acquire("a.internal:9000")
	require.NoError(t, err)
	_, err = pool.Acquire("b.internal:9000")
	require.NoError(t, err)

	require.Equal(t, 2, dials)
	require.Equal(t, 2, pool.Size())
}
