// Package portalloc allocates stable ports for routes out of a configured
// pool, first-fit, with rehydration support. It generalizes the fixed
// tunnel-slot model in controlplane/controller/internal/controller/models.go
// (Device.Tunnels, a pre-sized slab of numbered slots handed out by
// findTunnel) into an open pool described by single ports and ranges.
package portalloc

import "fmt"

// Range is an inclusive [Start, End] span of ports.
type Range struct {
	Start int
	End   int
}

// Pool is the configured sequence of allocatable ports: a mix of single
// ports and inclusive ranges, expanded and de-duplicated in insertion order.
type Pool struct {
	ports []int
	index map[int]bool
}

// NewPool expands singles and ranges into an ordered, de-duplicated pool:
// every single port, in the order given, comes before the ports of the
// ranges, in the order given; a port listed more than once keeps its first
// position.
func NewPool(singles []int, ranges []Range) (*Pool, error) {
	p := &Pool{index: map[int]bool{}}
	add := func(port int) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("portalloc: port %d out of range", port)
		}
		if p.index[port] {
			return nil
		}
		p.index[port] = true
		p.ports = append(p.ports, port)
		return nil
	}
	for _, s := range singles {
		if err := add(s); err != nil {
			return nil, err
		}
	}
	for _, rg := range ranges {
		if rg.Start > rg.End {
			return nil, fmt.Errorf("portalloc: invalid range [%d,%d]", rg.Start, rg.End)
		}
		for port := rg.Start; port <= rg.End; port++ {
			if err := add(port); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Pool) contains(port int) bool { return p.index[port] }

// Size returns the number of distinct ports in the pool.
func (p *Pool) Size() int { return len(p.ports) }
