package config

import (
	"fmt"

	"github.com/catalystmesh/catalyst/internal/portalloc"
	"gopkg.in/yaml.v3"
)

// PortPoolSpec parses a port pool from YAML as a sequence of scalar ports
// and two-element `[start, end]` inclusive ranges, per spec §4.5. YAML
// gives no native sum type, so each element is unmarshaled generically and
// classified by shape. Singles and ranges are kept in separate lists, so the
// expanded pool places every single port before any range port, whatever
// their relative order in the YAML sequence.
type PortPoolSpec struct {
	singles []int
	ranges  []portalloc.Range
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting a sequence whose
// elements are either a scalar integer or a two-element sequence.
func (p *PortPoolSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("port pool must be a YAML sequence")
	}
	for i, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			var port int
			if err := item.Decode(&port); err != nil {
				return fmt.Errorf("port pool entry %d: %w", i, err)
			}
			p.singles = append(p.singles, port)
		case yaml.SequenceNode:
			if len(item.Content) != 2 {
				return fmt.Errorf("port pool entry %d: range must have exactly 2 elements", i)
			}
			var bounds [2]int
			if err := item.Decode(&bounds); err != nil {
				return fmt.Errorf("port pool entry %d: %w", i, err)
			}
			p.ranges = append(p.ranges, portalloc.Range{Start: bounds[0], End: bounds[1]})
		default:
			return fmt.Errorf("port pool entry %d: unsupported shape", i)
		}
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler, re-emitting singles and ranges in
// their original shapes.
func (p PortPoolSpec) MarshalYAML() (any, error) {
	var out []any
	for _, s := range p.singles {
		out = append(out, s)
	}
	for _, r := range p.ranges {
		out = append(out, []int{r.Start, r.End})
	}
	return out, nil
}

// Expand builds a portalloc.Pool from this spec.
func (p PortPoolSpec) Expand() (*portalloc.Pool, error) {
	return portalloc.NewPool(p.singles, p.ranges)
}
