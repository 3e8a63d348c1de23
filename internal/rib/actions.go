package rib

// Action is the sealed set of operations the reducer accepts. Concrete
// action types are plain structs; the marker method keeps the set closed to
// this package so every case is handled explicitly in Plan's switch.
type Action interface {
	actionMarker()
}

type baseAction struct{}

func (baseAction) actionMarker() {}

// LocalPeerCreate adds a peer this node will dial out to (or accept an
// inbound handshake from).
type LocalPeerCreate struct {
	baseAction
	Peer PeerInfo
}

// LocalPeerUpdate replaces a known peer's fields without touching its
// connection status.
type LocalPeerUpdate struct {
	baseAction
	Peer PeerInfo
}

// LocalPeerDelete removes a peer and cascades to its internal routes.
type LocalPeerDelete struct {
	baseAction
	Name string
}

// InternalProtocolOpen marks a peer connected and triggers a full-table
// sync to it. Treated as an alias of InternalProtocolConnected per spec §9.
type InternalProtocolOpen struct {
	baseAction
	PeerInfo PeerInfo
}

// InternalProtocolConnected is an alias of InternalProtocolOpen.
type InternalProtocolConnected struct {
	baseAction
	PeerInfo PeerInfo
}

// InternalProtocolClose tears a peer session down, removing it and its
// routes and withdrawing them from remaining connected peers.
type InternalProtocolClose struct {
	baseAction
	PeerInfo PeerInfo
	Code     int
}

// InternalProtocolUpdate applies an inbound batch of route add/remove
// entries from a peer and re-advertises the accepted subset.
type InternalProtocolUpdate struct {
	baseAction
	PeerInfo PeerInfo
	Update   UpdatePayload
}

// LocalRouteCreate adds a route originated by this node.
type LocalRouteCreate struct {
	baseAction
	Route LocalRoute
}

// LocalRouteDelete removes a locally-originated route by name. Protocol and
// Endpoint are informational only, matching spec §4.1.
type LocalRouteDelete struct {
	baseAction
	Name     string
	Protocol Protocol
	Endpoint string
}
