// Package wire defines the peer-to-peer payload shapes from spec §6. Their
// byte-level framing is an explicit non-goal (spec §1: "any framing that
// preserves message ordering per connection will do"), so these are plain
// Go values; internal/grpctransport is the one concrete adapter that puts
// them on a wire.
package wire

import "github.com/catalystmesh/catalyst/internal/rib"

// Open is presented at handshake.
type Open struct {
	PeerInfo rib.PeerInfo
}

// Update carries a batch of route add/remove entries: used for routes in,
// routes out, and full-table sync alike (same schema).
type Update struct {
	Updates []rib.UpdateEntry
}

// Close ends a session with a numeric reason.
type Close struct {
	Code int
}

// Envelope is the outer type multiplexing the three payload kinds over a
// single bidirectional session.
type Envelope struct {
	Open   *Open
	Update *Update
	Close  *Close
}
