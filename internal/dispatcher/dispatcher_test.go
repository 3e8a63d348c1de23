package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/xds"
	"github.com/stretchr/testify/require"
)

type recordingPeering struct {
	mu      sync.Mutex
	updates []string
	closes  []string
}

func (p *recordingPeering) SendUpdate(ctx context.Context, peerName string, payload rib.UpdatePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, peerName)
	return nil
}

func (p *recordingPeering) Disconnect(ctx context.Context, peerName string, code int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes = append(p.closes, peerName)
	return nil
}

type fixedPorts struct{}

func (fixedPorts) AllocateIngress(routeName string) (int, error)          { return 8000, nil }
func (fixedPorts) AllocateEgress(routeName, peerName string) (int, error) { return 9000, nil }
func (fixedPorts) ReleaseIngress(routeName string)                       {}
func (fixedPorts) ReleaseEgress(routeName, peerName string)              {}

type recordingDataPlane struct {
	mu    sync.Mutex
	snaps []*xds.Snapshot
}

func (d *recordingDataPlane) Apply(ctx context.Context, snap *xds.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snaps = append(d.snaps, snap)
	return nil
}

func (d *recordingDataPlane) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.snaps)
}

func newTestDispatcher(t *testing.T, peering *recordingPeering, dp *recordingDataPlane) *Dispatcher {
	reducer := rib.New(rib.NodeIdentity{Name: "A"})
	return New(Config{
		Reducer:          reducer,
		Peering:          peering,
		Ports:            fixedPorts{},
		DataPlane:        dp,
		EnvoyBindAddress: "0.0.0.0",
	})
}

func TestSubmitCreatesPeerAndTriggersOpenPropagation(t *testing.T) {
	peering := &recordingPeering{}
	dp := &recordingDataPlane{}
	d := newTestDispatcher(t, peering, dp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	err := d.Submit(context.Background(), rib.LocalPeerCreate{
		Peer: rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: "B"}, PeerToken: "tok"},
	})
	require.NoError(t, err)

	<-d.LastNotificationPromise()
}

func TestSubmitRoutesChangedTriggersSnapshotRebuild(t *testing.T) {
	peering := &recordingPeering{}
	dp := &recordingDataPlane{}
	d := newTestDispatcher(t, peering, dp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	err := d.Submit(context.Background(), rib.LocalRouteCreate{
		Route: rib.LocalRoute{Name: "svc-a", Protocol: rib.ProtocolHTTP, Endpoint: "http://10.0.0.1:80"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dp.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubmitValidationErrorDoesNotTriggerFanOut(t *testing.T) {
	peering := &recordingPeering{}
	dp := &recordingDataPlane{}
	d := newTestDispatcher(t, peering, dp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	err := d.Submit(context.Background(), rib.LocalPeerCreate{
		Peer: rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: "B"}}, // no token
	})
	require.Error(t, err)
	require.Equal(t, 0, dp.count())
}

func TestDeletePeerEmitsCloseAndIsDelivered(t *testing.T) {
	peering := &recordingPeering{}
	dp := &recordingDataPlane{}
	d := newTestDispatcher(t, peering, dp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Submit(context.Background(), rib.LocalPeerCreate{
		Peer: rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: "B"}, PeerToken: "tok"},
	}))
	<-d.LastNotificationPromise()

	require.NoError(t, d.Submit(context.Background(), rib.LocalPeerDelete{Name: "B"}))
	<-d.LastNotificationPromise()

	peering.mu.Lock()
	defer peering.mu.Unlock()
	require.Contains(t, peering.closes, "B")
}
