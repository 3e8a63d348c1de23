package portalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRehydrationDropsOutOfPoolEntries(t *testing.T) {
	pool, err := NewPool(nil, []Range{{Start: 8000, End: 8002}})
	require.NoError(t, err)

	a := New(pool, map[string]int{"svc-a": 8001, "svc-rogue": 9999})

	port, ok := a.GetPort("svc-a")
	require.True(t, ok)
	require.Equal(t, 8001, port)

	_, ok = a.GetPort("svc-rogue")
	require.False(t, ok)

	port, err = a.Allocate("svc-b")
	require.NoError(t, err)
	require.Equal(t, 8000, port)
}

func TestAllocateIsIdempotent(t *testing.T) {
	pool, err := NewPool([]int{5000, 5001}, nil)
	require.NoError(t, err)
	a := New(pool, nil)

	p1, err := a.Allocate("svc")
	require.NoError(t, err)
	p2, err := a.Allocate("svc")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestAllocateExhausted(t *testing.T) {
	pool, err := NewPool([]int{1}, nil)
	require.NoError(t, err)
	a := New(pool, nil)

	_, err = a.Allocate("a")
	require.NoError(t, err)
	_, err = a.Allocate("b")
	require.ErrorIs(t, err, ErrExhausted)
}

func TestReleaseThenReallocate(t *testing.T) {
	pool, err := NewPool([]int{1, 2}, nil)
	require.NoError(t, err)
	a := New(pool, nil)

	p1, _ := a.Allocate("a")
	a.Release("a")
	a.Release("unknown-key") // no-op

	_, ok := a.GetPort("a")
	require.False(t, ok)

	p2, err := a.Allocate("b")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestGetAllocationsIsDefensiveCopy(t *testing.T) {
	pool, err := NewPool([]int{1, 2}, nil)
	require.NoError(t, err)
	a := New(pool, nil)
	_, _ = a.Allocate("a")

	snap := a.GetAllocations()
	snap["b"] = 2

	_, ok := a.GetPort("b")
	require.False(t, ok)
}
