// Package rib implements the Routing Information Base: an in-memory state
// machine over local and learned routes and peers. It mirrors the
// cache/commit discipline of controlplane/controller's stateCache (single
// writer, RWMutex-guarded reads) but replaces the mutable in-place cache with
// an immutable RouteTable value so that plan() can hand back two distinct
// snapshots without aliasing.
package rib

import "fmt"

// Protocol identifies the application protocol a route speaks.
type Protocol string

const (
	ProtocolHTTP        Protocol = "http"
	ProtocolHTTPGraphQL Protocol = "http:graphql"
	ProtocolHTTPGQL     Protocol = "http:gql"
	ProtocolHTTPGRPC    Protocol = "http:grpc"
	ProtocolTCP         Protocol = "tcp"
)

// IsGraphQL reports whether the protocol is either graphql alias.
func (p Protocol) IsGraphQL() bool {
	return p == ProtocolHTTPGraphQL || p == ProtocolHTTPGQL
}

// ConnectionStatus is the lifecycle state of a Peer as tracked by the RIB.
// It is updated only by reducer actions; the Peering Engine's own Session
// state machine (internal/peering) is richer and reports into the RIB via
// these four coarse values.
type ConnectionStatus string

const (
	StatusInitializing ConnectionStatus = "initializing"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusFailed       ConnectionStatus = "failed"
)

// NodeIdentity is immutable for the lifetime of the process.
type NodeIdentity struct {
	Name     string
	Endpoint string
	Domains  []string
}

func (n NodeIdentity) clone() NodeIdentity {
	c := n
	c.Domains = append([]string(nil), n.Domains...)
	return c
}

// PeerInfo is the identity presented to create or describe a peer.
type PeerInfo struct {
	NodeIdentity
	PeerToken string
}

// LocalRoute is a route whose backend is served by this node.
type LocalRoute struct {
	Name     string
	Protocol Protocol
	Endpoint string
}

// InternalRoute is a route learned from a peer.
type InternalRoute struct {
	LocalRoute
	PeerName string
	NodePath []string
}

func (r InternalRoute) clone() InternalRoute {
	c := r
	c.NodePath = append([]string(nil), r.NodePath...)
	return c
}

// containsNode reports whether name appears anywhere in the nodePath.
func containsNode(path []string, name string) bool {
	for _, n := range path {
		if n == name {
			return true
		}
	}
	return false
}

// Peer is a remote node this node has a (possibly not-yet-connected)
// relationship with.
type Peer struct {
	PeerInfo
	ConnectionStatus ConnectionStatus
}

// LocalTable holds routes originated by this node.
type LocalTable struct {
	Routes []LocalRoute
}

// InternalTable holds routes and peers learned/managed via the mesh.
type InternalTable struct {
	Routes []InternalRoute
	Peers  []Peer
}

// RouteTable is the single source of truth for the RIB. It is treated as an
// immutable value: every mutation produces a new RouteTable rather than
// editing slices in place, so plan() can return prevState and newState as
// two independently readable snapshots.
type RouteTable struct {
	Local    LocalTable
	Internal InternalTable

	// version is bumped by every successful Commit and used for the
	// optimistic-concurrency check: Commit(plan) rejects if the reducer's
	// current version has moved past the version the plan was computed
	// against. It is not part of the route-equality comparison.
	version uint64
}

func emptyRouteTable() RouteTable {
	return RouteTable{
		Local:    LocalTable{Routes: []LocalRoute{}},
		Internal: InternalTable{Routes: []InternalRoute{}, Peers: []Peer{}},
	}
}

// clone returns a deep copy suitable for building a newState without
// aliasing the receiver's slices.
func (t RouteTable) clone() RouteTable {
	c := RouteTable{version: t.version}
	c.Local.Routes = append([]LocalRoute(nil), t.Local.Routes...)
	c.Internal.Routes = make([]InternalRoute, len(t.Internal.Routes))
	for i, r := range t.Internal.Routes {
		c.Internal.Routes[i] = r.clone()
	}
	c.Internal.Peers = append([]Peer(nil), t.Internal.Peers...)
	return c
}

func (t RouteTable) findLocalIndex(name string) int {
	for i, r := range t.Local.Routes {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func (t RouteTable) findPeerIndex(name string) int {
	for i, p := range t.Internal.Peers {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (t RouteTable) findInternalIndex(name, peerName string) int {
	for i, r := range t.Internal.Routes {
		if r.Name == name && r.PeerName == peerName {
			return i
		}
	}
	return -1
}

// routesEqual compares two RouteTables ignoring version, per the
// routesChanged contract in CommitResult.
func routesEqual(a, b RouteTable) bool {
	if len(a.Local.Routes) != len(b.Local.Routes) || len(a.Internal.Routes) != len(b.Internal.Routes) {
		return false
	}
	for i := range a.Local.Routes {
		if a.Local.Routes[i] != b.Local.Routes[i] {
			return false
		}
	}
	for i := range a.Internal.Routes {
		ar, br := a.Internal.Routes[i], b.Internal.Routes[i]
		if ar.LocalRoute != br.LocalRoute || ar.PeerName != br.PeerName {
			return false
		}
		if len(ar.NodePath) != len(br.NodePath) {
			return false
		}
		for j := range ar.NodePath {
			if ar.NodePath[j] != br.NodePath[j] {
				return false
			}
		}
	}
	return true
}

// RouteMetadata is derived on every commit for each route name present in
// internal.routes; it is never persisted.
type RouteMetadata struct {
	BestPath        InternalRoute
	Alternatives    []InternalRoute
	SelectionReason string
}

func (m RouteMetadata) String() string {
	return fmt.Sprintf("best=%s/%s alts=%d reason=%q", m.BestPath.Name, m.BestPath.PeerName, len(m.Alternatives), m.SelectionReason)
}
