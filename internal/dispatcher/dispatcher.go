// Package dispatcher is the single-writer serialization point between the
// Public RPC Surface, the Peering Engine, and the Reducer. It owns the
// RouteTable exclusively; every other component only ever reads snapshots
// off it (spec §4.7, §5). Its Run loop is grounded on the
// controlplane/telemetry/internal/telemetry Collector's errCh+WaitGroup
// component-supervision shape, narrowed to the single worker goroutine the
// spec requires for reducer serialization.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/catalystmesh/catalyst/internal/peering"
	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/xds"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DataPlaneAdapter receives a freshly built xDS Snapshot whenever a commit
// changes the RouteTable.
type DataPlaneAdapter interface {
	Apply(ctx context.Context, snap *xds.Snapshot) error
}

// GatewaySink receives the GraphQL service aggregation whenever the set of
// GraphQL-protocol local routes changes (spec §4.7).
type GatewaySink interface {
	UpdateConfig(ctx context.Context, cfg GatewayConfig) error
}

// GatewayConfig is the `{services:[{name,url}]}` aggregation pushed to the
// optional gateway endpoint.
type GatewayConfig struct {
	Services []GatewayService
}

// GatewayService is one GraphQL-protocol service entry.
type GatewayService struct {
	Name string
	URL  string
}

// PortAllocation resolves the stable ports that feed the xDS builder; the
// Dispatcher is the only caller per spec §5. Peer envoy addresses come from
// Config.PeerEnvoyAddress instead.
type PortAllocation interface {
	AllocateIngress(routeName string) (int, error)
	AllocateEgress(routeName, peerName string) (int, error)
	ReleaseIngress(routeName string)
	ReleaseEgress(routeName, peerName string)
}

// PeeringSink is the subset of peering.Engine the Dispatcher drives:
// fanning propagations out, and tearing a session down on delete.
type PeeringSink interface {
	SendUpdate(ctx context.Context, peerName string, payload rib.UpdatePayload) error
	Disconnect(ctx context.Context, peerName string, code int) error
}

// Config configures a Dispatcher.
type Config struct {
	Reducer    *rib.Reducer
	Peering    PeeringSink
	Ports      PortAllocation
	DataPlane  DataPlaneAdapter
	Gateway    GatewaySink // optional
	Logger     *slog.Logger
	QueueDepth int // default 256

	EnvoyBindAddress  string
	EgressBindAddress string            // defaults to EnvoyBindAddress when empty
	PeerEnvoyAddress  map[string]string // peer name -> peer envoy address
	EnvoyPortsForPeer map[string]int    // "<route>@<peer>" -> advertised envoyPort
	TLS               *xds.MeshTLS
}

type request struct {
	action rib.Action
	result chan<- error
}

// Dispatcher serializes every rib.Action through a single worker goroutine,
// fanning out propagations and rebuilding the xDS snapshot after commits
// that change routes (spec §4.7).
type Dispatcher struct {
	cfg Config
	log *slog.Logger

	queue chan request

	mu                  sync.Mutex
	lastNotification    chan struct{} // closed when the latest dispatch settles
	lastGatewayServices map[string]string

	wg sync.WaitGroup
}

// New builds a Dispatcher. Call Run to start its worker loop.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	d := &Dispatcher{
		cfg:              cfg,
		log:              cfg.Logger,
		queue:            make(chan request, cfg.QueueDepth),
		lastNotification: make(chan struct{}),
	}
	close(d.lastNotification) // no dispatch pending at construction
	return d
}

// Submit enqueues action and blocks until its Plan+Commit step has run,
// returning any validation/auth/stale-commit error from the Reducer. Fan-out
// (propagations, xDS rebuild, gateway sync) happens asynchronously after
// Submit returns.
func (d *Dispatcher) Submit(ctx context.Context, action rib.Action) error {
	result := make(chan error, 1)
	select {
	case d.queue <- request{action: action, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastNotificationPromise returns a channel that closes once the dispatch in
// flight when it was requested (or the most recent one, if none was in
// flight) has finished its asynchronous fan-out. Exists purely for test
// determinism per spec §4.7.
func (d *Dispatcher) LastNotificationPromise() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastNotification
}

// Run drives the single-writer worker loop until ctx is cancelled, then
// drains the queue with a bounded budget before returning, per spec §5's
// "drains the dispatcher queue with a 10s budget".
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher starting")
	for {
		select {
		case req := <-d.queue:
			d.handle(ctx, req)
		case <-ctx.Done():
			return d.drain()
		}
	}
}

func (d *Dispatcher) drain() error {
	budget := time.NewTimer(10 * time.Second)
	defer budget.Stop()
	drainCtx := context.Background()
	for {
		select {
		case req := <-d.queue:
			d.handle(drainCtx, req)
		case <-budget.C:
			d.log.Warn("dispatcher drain budget exceeded, abandoning remaining queued actions")
			return nil
		default:
			return nil
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, req request) {
	correlationID := uuid.NewString()

	plan, err := d.cfg.Reducer.Plan(req.action)
	if err != nil {
		d.log.Debug("action rejected at plan", "correlationID", correlationID, "error", err)
		req.result <- err
		return
	}
	commit, err := d.cfg.Reducer.Commit(plan)
	if err != nil {
		d.log.Debug("action rejected at commit", "correlationID", correlationID, "error", err)
		req.result <- err
		return
	}
	done := make(chan struct{})
	d.mu.Lock()
	d.lastNotification = done
	d.mu.Unlock()
	req.result <- nil

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		d.fanOut(ctx, correlationID, commit)
	}()
}

func (d *Dispatcher) fanOut(ctx context.Context, correlationID string, commit *rib.CommitResult) {
	var wg sync.WaitGroup
	for _, prop := range commit.Propagations {
		prop := prop
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliver(ctx, correlationID, prop)
		}()
	}
	wg.Wait()

	if commit.RoutesChanged {
		if err := d.rebuildSnapshot(ctx, commit.NewState); err != nil {
			d.log.Error("failed to rebuild xDS snapshot", "correlationID", correlationID, "error", err)
		}
		if err := d.syncGateway(ctx, commit.NewState); err != nil {
			d.log.Error("failed to sync gateway config", "correlationID", correlationID, "error", err)
		}
	}
}

// deliver applies one Propagation: open/close sessions, or forward an
// update, without letting one peer's failure block the others (spec §7).
func (d *Dispatcher) deliver(ctx context.Context, correlationID string, prop rib.Propagation) {
	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch prop.Type {
	case rib.PropagationClose:
		err = d.cfg.Peering.Disconnect(deadline, prop.Peer.Name, prop.Code)
	case rib.PropagationUpdate:
		err = d.cfg.Peering.SendUpdate(deadline, prop.Peer.Name, prop.Update)
	case rib.PropagationOpen:
		// Open propagations are a signal to the Peering Engine's own
		// reconnect loop, not a payload to send; nothing to do here.
	}
	if err != nil {
		d.log.Warn("propagation delivery failed", "correlationID", correlationID, "peer", prop.Peer.Name, "type", prop.Type, "error", err)
	}
}

func (d *Dispatcher) rebuildSnapshot(ctx context.Context, state rib.RouteTable) error {
	in := xds.Input{
		Local:             localRoutesOf(state),
		Internal:          internalRoutesOf(state),
		IngressPorts:      map[string]int{},
		EgressPorts:       map[string]int{},
		PeerEnvoyAddress:  d.cfg.PeerEnvoyAddress,
		EnvoyPort:         d.cfg.EnvoyPortsForPeer,
		BindAddress:       d.cfg.EnvoyBindAddress,
		EgressBindAddress: d.cfg.EgressBindAddress,
		TLS:               d.cfg.TLS,
	}

	for _, route := range in.Local {
		if route.Endpoint == "" {
			continue
		}
		port, err := d.cfg.Ports.AllocateIngress(route.Name)
		if err != nil {
			d.log.Warn("ingress port allocation failed", "route", route.Name, "error", err)
			continue
		}
		in.IngressPorts[route.Name] = port
	}
	for _, route := range in.Internal {
		port, err := d.cfg.Ports.AllocateEgress(route.Name, route.PeerName)
		if err != nil {
			d.log.Warn("egress port allocation failed", "route", route.Name, "peer", route.PeerName, "error", err)
			continue
		}
		in.EgressPorts[route.Name+"@"+route.PeerName] = port
	}

	snap, warnings, err := xds.Build(in)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		d.log.Warn("xds builder warning", "warning", w)
	}
	if d.cfg.DataPlane == nil {
		return nil
	}
	return d.cfg.DataPlane.Apply(ctx, snap)
}

func (d *Dispatcher) syncGateway(ctx context.Context, state rib.RouteTable) error {
	if d.cfg.Gateway == nil {
		return nil
	}
	services := map[string]string{}
	for _, route := range state.Local.Routes {
		if !route.Protocol.IsGraphQL() {
			continue
		}
		services[route.Name] = route.Endpoint
	}

	d.mu.Lock()
	unchanged := mapsEqual(d.lastGatewayServices, services)
	d.lastGatewayServices = services
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	cfg := GatewayConfig{}
	for name, url := range services {
		cfg.Services = append(cfg.Services, GatewayService{Name: name, URL: url})
	}
	return d.cfg.Gateway.UpdateConfig(ctx, cfg)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func localRoutesOf(state rib.RouteTable) []rib.LocalRoute {
	return state.Local.Routes
}

func internalRoutesOf(state rib.RouteTable) []rib.InternalRoute {
	return state.Internal.Routes
}

// RunGroup launches the Dispatcher alongside the supplied background
// components (typically the Peering Engine's sweep loop) under one
// errgroup, cancelling all of them if any returns an error.
func RunGroup(ctx context.Context, d *Dispatcher, components ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	for _, c := range components {
		c := c
		g.Go(func() error { return c(gctx) })
	}
	return g.Wait()
}
