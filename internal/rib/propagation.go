package rib

// Close codes distinguish why a session ended, giving the Peering Engine
// enough information to decide reconnect vs. give-up without re-deriving
// the reason from context.
const (
	CodeNormal          = 1000
	CodeAuthFailure     = 4001
	CodeHeartbeatExpiry = 4002
	CodeAdminRemoved    = 4003
)

// UpdateAction is the verb carried by a single UpdateEntry.
type UpdateAction string

const (
	UpdateAdd    UpdateAction = "add"
	UpdateRemove UpdateAction = "remove"
)

// UpdateEntry is one route add/remove instruction inside an Update payload.
type UpdateEntry struct {
	Action   UpdateAction
	Route    LocalRoute
	NodePath []string
}

// UpdatePayload is the body of an Update propagation / wire message.
type UpdatePayload struct {
	Updates []UpdateEntry
}

// PropagationType discriminates the three propagation shapes the Peering
// Engine understands.
type PropagationType string

const (
	PropagationOpen   PropagationType = "open"
	PropagationClose  PropagationType = "close"
	PropagationUpdate PropagationType = "update"
)

// Propagation is one instruction for the Peering Engine, emitted by a
// successful plan(). The reducer computes these synchronously and
// side-effect free; the Dispatcher is the one that turns them into I/O.
type Propagation struct {
	Type   PropagationType
	Peer   Peer
	Code   int           // meaningful only when Type == PropagationClose
	Update UpdatePayload // meaningful only when Type == PropagationUpdate
}

// fullTableSync builds the Update propagation sent to peer on
// InternalProtocolOpen/Connected: every local route, plus every internal
// route whose nodePath does not already contain the target peer
// (split horizon), with thisNode prepended to each forwarded nodePath.
func fullTableSync(state RouteTable, thisNode, peerName string) UpdatePayload {
	var entries []UpdateEntry
	for _, r := range state.Local.Routes {
		entries = append(entries, UpdateEntry{
			Action:   UpdateAdd,
			Route:    r,
			NodePath: []string{thisNode},
		})
	}
	for _, r := range state.Internal.Routes {
		if containsNode(r.NodePath, peerName) {
			continue // split horizon: don't advertise a route back to the peer it traversed
		}
		entries = append(entries, UpdateEntry{
			Action:   UpdateAdd,
			Route:    r.LocalRoute,
			NodePath: prepend(thisNode, r.NodePath),
		})
	}
	return UpdatePayload{Updates: entries}
}

// reAdvertisement builds, for one target peer, the forwarded Update for a
// batch of entries already accepted from a source peer. The source peer is
// never a target; for every other connected peer an entry is dropped if the
// target already appears in the (as-received) nodePath (second-level split
// horizon). thisNode is prepended to forwarded nodePaths.
func reAdvertisement(accepted []UpdateEntry, thisNode, targetPeer string) UpdatePayload {
	var entries []UpdateEntry
	for _, e := range accepted {
		if containsNode(e.NodePath, targetPeer) {
			continue
		}
		entries = append(entries, UpdateEntry{
			Action:   e.Action,
			Route:    e.Route,
			NodePath: prepend(thisNode, e.NodePath),
		})
	}
	return UpdatePayload{Updates: entries}
}

func prepend(name string, path []string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, name)
	out = append(out, path...)
	return out
}

func connectedPeers(state RouteTable) []Peer {
	var out []Peer
	for _, p := range state.Internal.Peers {
		if p.ConnectionStatus == StatusConnected {
			out = append(out, p)
		}
	}
	return out
}
