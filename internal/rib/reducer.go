package rib

import (
	"fmt"
	"sync"
)

// Plan is the pure result of planning an action: prevState and newState are
// independent snapshots (prevState is never mutated), plus the propagations
// the transition produces. Per spec §8's quantified invariant, a successful
// plan's newState never equals prevState by reference, and prevState is left
// untouched by the call.
type Plan struct {
	prevVersion  uint64
	PrevState    RouteTable
	NewState     RouteTable
	Propagations []Propagation
	Metadata     map[string]RouteMetadata
}

// CommitResult is returned by a successful Commit.
type CommitResult struct {
	NewState      RouteTable
	RoutesChanged bool
	Propagations  []Propagation
	Metadata      map[string]RouteMetadata
}

// Reducer owns the RouteTable. Per spec §5 it is intended to be driven by a
// single writer (the Dispatcher); Plan is safe to call concurrently with
// itself and with State() since it only reads, but Commit must be
// serialized by the caller; it takes an internal mutex only to make the
// optimistic-concurrency check atomic, not to allow concurrent commits to
// interleave usefully.
type Reducer struct {
	thisNode NodeIdentity

	mu    sync.RWMutex
	state RouteTable
}

// New creates a Reducer with an empty RouteTable for the given node
// identity, matching spec §3's "RouteTable is created empty at node boot".
func New(identity NodeIdentity) *Reducer {
	return &Reducer{
		thisNode: identity.clone(),
		state:    emptyRouteTable(),
	}
}

// State returns a consistent snapshot of the current RouteTable.
func (r *Reducer) State() RouteTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Metadata returns the route metadata derived from the current state.
func (r *Reducer) Metadata() map[string]RouteMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return computeRouteMetadata(r.state.Internal.Routes)
}

// Plan computes, without mutating the reducer, the state transition and
// propagations for action. It returns a *ValidationError (never a generic
// error) when the action's contract is violated.
func (r *Reducer) Plan(action Action) (*Plan, error) {
	r.mu.RLock()
	prev := r.state.clone()
	prevVersion := r.state.version
	r.mu.RUnlock()

	next := prev.clone()
	var propagations []Propagation
	var err error

	switch a := action.(type) {
	case LocalPeerCreate:
		propagations, err = r.planLocalPeerCreate(&next, a)
	case LocalPeerUpdate:
		propagations, err = r.planLocalPeerUpdate(&next, a)
	case LocalPeerDelete:
		propagations, err = r.planLocalPeerDelete(&next, a)
	case InternalProtocolOpen:
		propagations, err = r.planInternalProtocolOpen(&next, a.PeerInfo)
	case InternalProtocolConnected:
		propagations, err = r.planInternalProtocolOpen(&next, a.PeerInfo)
	case InternalProtocolClose:
		propagations, err = r.planInternalProtocolClose(&next, a)
	case InternalProtocolUpdate:
		propagations, err = r.planInternalProtocolUpdate(&next, a)
	case LocalRouteCreate:
		propagations, err = r.planLocalRouteCreate(&next, a)
	case LocalRouteDelete:
		propagations, err = r.planLocalRouteDelete(&next, a)
	default:
		return nil, newValidationError("unknown action type %T", action)
	}
	if err != nil {
		return nil, err
	}

	next.version = prevVersion + 1

	return &Plan{
		prevVersion:  prevVersion,
		PrevState:    prev,
		NewState:     next,
		Propagations: propagations,
		Metadata:     computeRouteMetadata(next.Internal.Routes),
	}, nil
}

// Commit atomically replaces the current state with plan.NewState,
// rejecting with ErrStalePlan if the reducer has moved on since the plan was
// computed (optimistic concurrency, per spec §4.1).
func (r *Reducer) Commit(plan *Plan) (*CommitResult, error) {
	r.mu.Lock()
	if r.state.version != plan.prevVersion {
		r.mu.Unlock()
		return nil, ErrStalePlan
	}
	r.state = plan.NewState
	r.mu.Unlock()

	return &CommitResult{
		NewState:      plan.NewState,
		RoutesChanged: !routesEqual(plan.PrevState, plan.NewState),
		Propagations:  plan.Propagations,
		Metadata:      plan.Metadata,
	}, nil
}

func (r *Reducer) planLocalPeerCreate(next *RouteTable, a LocalPeerCreate) ([]Propagation, error) {
	if a.Peer.PeerToken == "" {
		return nil, ErrPeerTokenRequired
	}
	if next.findPeerIndex(a.Peer.Name) >= 0 {
		return nil, newValidationError("peer %q already exists", a.Peer.Name)
	}
	peer := Peer{PeerInfo: a.Peer, ConnectionStatus: StatusInitializing}
	next.Internal.Peers = append(next.Internal.Peers, peer)
	return []Propagation{{Type: PropagationOpen, Peer: peer}}, nil
}

func (r *Reducer) planLocalPeerUpdate(next *RouteTable, a LocalPeerUpdate) ([]Propagation, error) {
	idx := next.findPeerIndex(a.Peer.Name)
	if idx < 0 {
		return nil, newValidationError("peer %q is unknown", a.Peer.Name)
	}
	next.Internal.Peers[idx].PeerInfo = a.Peer
	return nil, nil
}

func (r *Reducer) planLocalPeerDelete(next *RouteTable, a LocalPeerDelete) ([]Propagation, error) {
	idx := next.findPeerIndex(a.Name)
	if idx < 0 {
		return nil, newValidationError("peer %q is unknown", a.Name)
	}
	removed := next.Internal.Peers[idx]

	var withdrawn []InternalRoute
	kept := next.Internal.Routes[:0:0]
	for _, route := range next.Internal.Routes {
		if route.PeerName == a.Name {
			withdrawn = append(withdrawn, route)
			continue
		}
		kept = append(kept, route)
	}
	next.Internal.Routes = kept
	next.Internal.Peers = append(next.Internal.Peers[:idx:idx], next.Internal.Peers[idx+1:]...)

	propagations := []Propagation{{Type: PropagationClose, Peer: removed, Code: CodeAdminRemoved}}
	if len(withdrawn) == 0 {
		return propagations, nil
	}
	removalEntries := make([]UpdateEntry, len(withdrawn))
	for i, w := range withdrawn {
		removalEntries[i] = UpdateEntry{Action: UpdateRemove, Route: w.LocalRoute, NodePath: w.NodePath}
	}
	for _, peer := range connectedPeers(*next) {
		propagations = append(propagations, Propagation{
			Type:   PropagationUpdate,
			Peer:   peer,
			Update: UpdatePayload{Updates: removalEntries},
		})
	}
	return propagations, nil
}

func (r *Reducer) planInternalProtocolOpen(next *RouteTable, info PeerInfo) ([]Propagation, error) {
	idx := next.findPeerIndex(info.Name)
	if idx < 0 {
		return nil, newValidationError("peer %q is unknown", info.Name)
	}
	next.Internal.Peers[idx].ConnectionStatus = StatusConnected
	peer := next.Internal.Peers[idx]
	sync := fullTableSync(*next, r.thisNode.Name, peer.Name)
	return []Propagation{{Type: PropagationUpdate, Peer: peer, Update: sync}}, nil
}

func (r *Reducer) planInternalProtocolClose(next *RouteTable, a InternalProtocolClose) ([]Propagation, error) {
	idx := next.findPeerIndex(a.PeerInfo.Name)
	if idx < 0 {
		return nil, newValidationError("peer %q is unknown", a.PeerInfo.Name)
	}
	removed := next.Internal.Peers[idx]

	var withdrawn []InternalRoute
	kept := next.Internal.Routes[:0:0]
	for _, route := range next.Internal.Routes {
		if route.PeerName == a.PeerInfo.Name {
			withdrawn = append(withdrawn, route)
			continue
		}
		kept = append(kept, route)
	}
	next.Internal.Routes = kept
	next.Internal.Peers = append(next.Internal.Peers[:idx:idx], next.Internal.Peers[idx+1:]...)
	removed.ConnectionStatus = StatusDisconnected

	code := a.Code
	if code == 0 {
		code = CodeNormal
	}
	propagations := []Propagation{{Type: PropagationClose, Peer: removed, Code: code}}
	if len(withdrawn) == 0 {
		return propagations, nil
	}
	removalEntries := make([]UpdateEntry, len(withdrawn))
	for i, w := range withdrawn {
		removalEntries[i] = UpdateEntry{Action: UpdateRemove, Route: w.LocalRoute, NodePath: w.NodePath}
	}
	for _, peer := range connectedPeers(*next) {
		propagations = append(propagations, Propagation{
			Type:   PropagationUpdate,
			Peer:   peer,
			Update: UpdatePayload{Updates: removalEntries},
		})
	}
	return propagations, nil
}

func (r *Reducer) planInternalProtocolUpdate(next *RouteTable, a InternalProtocolUpdate) ([]Propagation, error) {
	srcIdx := next.findPeerIndex(a.PeerInfo.Name)
	if srcIdx < 0 {
		return nil, newValidationError("peer %q is unknown", a.PeerInfo.Name)
	}
	srcName := a.PeerInfo.Name

	var accepted []UpdateEntry
	for _, entry := range a.Update.Updates {
		switch entry.Action {
		case UpdateAdd:
			if containsNode(entry.NodePath, r.thisNode.Name) {
				continue // loop prevention: drop silently, not an error
			}
			route := InternalRoute{LocalRoute: entry.Route, PeerName: srcName, NodePath: append([]string(nil), entry.NodePath...)}
			if idx := next.findInternalIndex(route.Name, srcName); idx >= 0 {
				next.Internal.Routes[idx] = route
			} else {
				next.Internal.Routes = append(next.Internal.Routes, route)
			}
			accepted = append(accepted, entry)
		case UpdateRemove:
			if idx := next.findInternalIndex(entry.Route.Name, srcName); idx >= 0 {
				next.Internal.Routes = append(next.Internal.Routes[:idx:idx], next.Internal.Routes[idx+1:]...)
			}
			accepted = append(accepted, entry)
		default:
			return nil, newValidationError("unknown update action %q", entry.Action)
		}
	}

	if len(accepted) == 0 {
		return nil, nil
	}

	var propagations []Propagation
	for _, peer := range connectedPeers(*next) {
		if peer.Name == srcName {
			continue // never re-advertise back to the source peer
		}
		forwarded := reAdvertisement(accepted, r.thisNode.Name, peer.Name)
		if len(forwarded.Updates) == 0 {
			continue
		}
		propagations = append(propagations, Propagation{Type: PropagationUpdate, Peer: peer, Update: forwarded})
	}
	return propagations, nil
}

func (r *Reducer) planLocalRouteCreate(next *RouteTable, a LocalRouteCreate) ([]Propagation, error) {
	if next.findLocalIndex(a.Route.Name) >= 0 {
		return nil, newValidationError("local route %q already exists", a.Route.Name)
	}
	next.Local.Routes = append(next.Local.Routes, a.Route)

	var propagations []Propagation
	for _, peer := range connectedPeers(*next) {
		propagations = append(propagations, Propagation{
			Type: PropagationUpdate,
			Peer: peer,
			Update: UpdatePayload{Updates: []UpdateEntry{
				{Action: UpdateAdd, Route: a.Route, NodePath: []string{r.thisNode.Name}},
			}},
		})
	}
	return propagations, nil
}

func (r *Reducer) planLocalRouteDelete(next *RouteTable, a LocalRouteDelete) ([]Propagation, error) {
	idx := next.findLocalIndex(a.Name)
	if idx < 0 {
		return nil, newValidationError("local route %q does not exist", a.Name)
	}
	route := next.Local.Routes[idx]
	next.Local.Routes = append(next.Local.Routes[:idx:idx], next.Local.Routes[idx+1:]...)

	var propagations []Propagation
	for _, peer := range connectedPeers(*next) {
		propagations = append(propagations, Propagation{
			Type: PropagationUpdate,
			Peer: peer,
			Update: UpdatePayload{Updates: []UpdateEntry{
				{Action: UpdateRemove, Route: route, NodePath: []string{r.thisNode.Name}},
			}},
		})
	}
	return propagations, nil
}

// MustRetryOrFatal is a helper for callers that retry a stale commit a
// bounded number of times before treating exhaustion as a fatal condition.
// It does not panic or abort: it returns a *FatalError naming the action
// type and the attempt count, and acting on it is left to the caller.
func MustRetryOrFatal(action Action, attempts int) error {
	return &FatalError{Reason: fmt.Sprintf("commit for %T did not converge after %d attempts", action, attempts)}
}
