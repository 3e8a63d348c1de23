package rib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPlanCommit(t *testing.T, r *Reducer, a Action) *CommitResult {
	t.Helper()
	plan, err := r.Plan(a)
	require.NoError(t, err)
	res, err := r.Commit(plan)
	require.NoError(t, err)
	return res
}

func TestPlanDoesNotMutatePrevState(t *testing.T) {
	r := New(NodeIdentity{Name: "A"})
	plan, err := r.Plan(LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "tok"}})
	require.NoError(t, err)

	require.Empty(t, plan.PrevState.Internal.Peers)
	require.Len(t, plan.NewState.Internal.Peers, 1)
}

func TestLocalPeerCreateRequiresToken(t *testing.T) {
	r := New(NodeIdentity{Name: "A"})
	_, err := r.Plan(LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	require.ErrorIs(t, err, ErrPeerTokenRequired)
}

func TestLocalPeerCreateEmitsOpenPropagation(t *testing.T) {
	r := New(NodeIdentity{Name: "A"})
	res := mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "tok"}})
	require.Len(t, res.Propagations, 1)
	require.Equal(t, PropagationOpen, res.Propagations[0].Type)
	require.Equal(t, "B", res.Propagations[0].Peer.Name)
}

func TestLocalPeerCreateDuplicateRejected(t *testing.T) {
	r := New(NodeIdentity{Name: "A"})
	mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "tok"}})
	_, err := r.Plan(LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "tok2"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLinearTransit(t *testing.T) {
	// Nodes A, B, C; A peered with B; B peered with C.
	a := New(NodeIdentity{Name: "A"})
	b := New(NodeIdentity{Name: "B"})
	c := New(NodeIdentity{Name: "C"})

	mustPlanCommit(t, a, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	mustPlanCommit(t, b, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "A"}, PeerToken: "t"}})
	mustPlanCommit(t, b, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}, PeerToken: "t"}})
	mustPlanCommit(t, c, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})

	mustPlanCommit(t, a, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	mustPlanCommit(t, b, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "A"}}})
	mustPlanCommit(t, b, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}}})
	cRes := mustPlanCommit(t, c, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	_ = cRes

	// A adds local route svc-a.
	route := LocalRoute{Name: "svc-a", Protocol: ProtocolHTTP, Endpoint: "http://a:8080"}
	aRes := mustPlanCommit(t, a, LocalRouteCreate{Route: route})
	require.Len(t, aRes.Propagations, 1)
	require.Equal(t, "B", aRes.Propagations[0].Peer.Name)

	// Feed that propagation into B as an InternalProtocolUpdate.
	bRes := mustPlanCommit(t, b, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "A"}},
		Update:   aRes.Propagations[0].Update,
	})
	require.Len(t, bRes.Propagations, 1)
	require.Equal(t, "C", bRes.Propagations[0].Peer.Name)

	// Feed B's re-advertisement into C.
	mustPlanCommit(t, c, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}},
		Update:   bRes.Propagations[0].Update,
	})

	state := c.State()
	require.Len(t, state.Internal.Routes, 1)
	got := state.Internal.Routes[0]
	require.Equal(t, "svc-a", got.Name)
	require.Equal(t, "B", got.PeerName)
	require.Equal(t, []string{"B", "A"}, got.NodePath)
}

func TestLoopDrop(t *testing.T) {
	thisNode := New(NodeIdentity{Name: "thisNode"})
	mustPlanCommit(t, thisNode, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	mustPlanCommit(t, thisNode, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}, PeerToken: "t"}})
	mustPlanCommit(t, thisNode, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	mustPlanCommit(t, thisNode, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}}})

	res := mustPlanCommit(t, thisNode, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}},
		Update: UpdatePayload{Updates: []UpdateEntry{
			{Action: UpdateAdd, Route: LocalRoute{Name: "svc-loop"}, NodePath: []string{"B", "thisNode"}},
		}},
	})

	require.Empty(t, res.Propagations)
	require.Empty(t, thisNode.State().Internal.Routes)
}

func TestBestPathSelection(t *testing.T) {
	r := New(NodeIdentity{Name: "self"})
	mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}, PeerToken: "t"}})
	mustPlanCommit(t, r, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	mustPlanCommit(t, r, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}}})

	mustPlanCommit(t, r, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}},
		Update: UpdatePayload{Updates: []UpdateEntry{
			{Action: UpdateAdd, Route: LocalRoute{Name: "svc-x"}, NodePath: []string{"B"}},
		}},
	})
	res := mustPlanCommit(t, r, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}},
		Update: UpdatePayload{Updates: []UpdateEntry{
			{Action: UpdateAdd, Route: LocalRoute{Name: "svc-x"}, NodePath: []string{"C", "D"}},
		}},
	})

	meta := res.Metadata["svc-x"]
	require.Equal(t, "B", meta.BestPath.PeerName)
	require.Equal(t, "shortest nodePath", meta.SelectionReason)
	require.Len(t, meta.Alternatives, 1)
}

func TestWithdrawalOnPeerClose(t *testing.T) {
	// A-B-C linear, A's route already reached C via B.
	c := New(NodeIdentity{Name: "C"})
	mustPlanCommit(t, c, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	mustPlanCommit(t, c, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "D"}, PeerToken: "t"}})
	mustPlanCommit(t, c, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	mustPlanCommit(t, c, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "D"}}})
	mustPlanCommit(t, c, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}},
		Update: UpdatePayload{Updates: []UpdateEntry{
			{Action: UpdateAdd, Route: LocalRoute{Name: "svc-a"}, NodePath: []string{"B", "A"}},
		}},
	})
	require.Len(t, c.State().Internal.Routes, 1)

	// B goes down from C's perspective (e.g. detected failure).
	res := mustPlanCommit(t, c, InternalProtocolClose{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}, Code: CodeHeartbeatExpiry})
	require.Empty(t, c.State().Internal.Routes)

	// The remaining connected peer D receives a withdrawal.
	var sawWithdrawalToD bool
	for _, p := range res.Propagations {
		if p.Type == PropagationUpdate && p.Peer.Name == "D" {
			sawWithdrawalToD = true
			require.Equal(t, UpdateRemove, p.Update.Updates[0].Action)
		}
	}
	require.True(t, sawWithdrawalToD)
}

func TestStaleCommitRejected(t *testing.T) {
	r := New(NodeIdentity{Name: "A"})
	plan, err := r.Plan(LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	require.NoError(t, err)

	// Advance the reducer past the plan's basis version.
	mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "C"}, PeerToken: "t"}})

	_, err = r.Commit(plan)
	require.ErrorIs(t, err, ErrStalePlan)
}

func TestNodeNeverAppearsInOwnNodePath(t *testing.T) {
	r := New(NodeIdentity{Name: "self"})
	mustPlanCommit(t, r, LocalPeerCreate{Peer: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}, PeerToken: "t"}})
	mustPlanCommit(t, r, InternalProtocolOpen{PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}}})
	mustPlanCommit(t, r, InternalProtocolUpdate{
		PeerInfo: PeerInfo{NodeIdentity: NodeIdentity{Name: "B"}},
		Update: UpdatePayload{Updates: []UpdateEntry{
			{Action: UpdateAdd, Route: LocalRoute{Name: "svc"}, NodePath: []string{"B"}},
		}},
	})
	for _, route := range r.State().Internal.Routes {
		require.False(t, containsNode(route.NodePath, "self"))
	}
}
