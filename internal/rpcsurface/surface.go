// Package rpcsurface is the small set of capabilities exposed over RPC
// (spec §4.8), gated by a verify-token hook. Each getter returns a Result
// sum type rather than a (value, error) pair, matching the
// `{success:true, client} | {success:false, error}` contract callers expect.
package rpcsurface

import (
	"context"

	"github.com/catalystmesh/catalyst/internal/dispatcher"
	"github.com/catalystmesh/catalyst/internal/rib"
)

// Result is a sum type: exactly one of Value or Err is meaningful, selected
// by Success.
type Result[T any] struct {
	Success bool
	Value   T
	Err     error
}

// Ok wraps a successful capability handout.
func Ok[T any](v T) Result[T] { return Result[T]{Success: true, Value: v} }

// Fail wraps a capability denial or lookup failure.
func Fail[T any](err error) Result[T] { return Result[T]{Success: false, Err: err} }

// TokenVerifier checks a caller-presented token, returning the identity it
// grants or an error. It stands in for the external auth collaborator spec
// §1 delegates verification to.
type TokenVerifier func(ctx context.Context, token string) (callerIdentity string, err error)

// Surface is the single entry point the four capabilities (three client
// getters plus UpdateConfig) hang off.
// It holds no session state of its own; every call is served fresh from the
// Dispatcher and the current RouteTable snapshot.
type Surface struct {
	verify     TokenVerifier
	dispatcher *dispatcher.Dispatcher
	reducer    *rib.Reducer
}

// New builds a Surface. verify may be nil only in tests that do not
// exercise the gating path.
func New(verify TokenVerifier, d *dispatcher.Dispatcher, reducer *rib.Reducer) *Surface {
	return &Surface{verify: verify, dispatcher: d, reducer: reducer}
}

func (s *Surface) checkToken(ctx context.Context, token string) error {
	if s.verify == nil {
		return nil
	}
	_, err := s.verify(ctx, token)
	return err
}

// GetNetworkClient returns a NetworkClient for peer CRUD, gated by token.
func (s *Surface) GetNetworkClient(ctx context.Context, token string) Result[*NetworkClient] {
	if err := s.checkToken(ctx, token); err != nil {
		return Fail[*NetworkClient](err)
	}
	return Ok(&NetworkClient{dispatcher: s.dispatcher, reducer: s.reducer})
}

// GetDataChannelClient returns a DataChannelClient for route CRUD, gated by
// token.
func (s *Surface) GetDataChannelClient(ctx context.Context, token string) Result[*DataChannelClient] {
	if err := s.checkToken(ctx, token); err != nil {
		return Fail[*DataChannelClient](err)
	}
	return Ok(&DataChannelClient{dispatcher: s.dispatcher, reducer: s.reducer})
}

// GetIBGPClient returns an IBGPClient for inbound peer session traffic
// (open/update/close), called by other mesh nodes, gated by token.
func (s *Surface) GetIBGPClient(ctx context.Context, token string) Result[*IBGPClient] {
	if err := s.checkToken(ctx, token); err != nil {
		return Fail[*IBGPClient](err)
	}
	return Ok(&IBGPClient{dispatcher: s.dispatcher})
}

// UpdateConfig is the capability for receiving a GraphQL gateway
// aggregation, exposed on its own rather than behind a getter. It checks the
// token and reports success; cfg is not stored or forwarded. The
// Dispatcher's own gateway sync pushes to its dispatcher.GatewaySink and does
// not call this method.
func (s *Surface) UpdateConfig(ctx context.Context, token string, cfg dispatcher.GatewayConfig) Result[struct{}] {
	if err := s.checkToken(ctx, token); err != nil {
		return Fail[struct{}](err)
	}
	return Ok(struct{}{})
}

// NetworkClient exposes peer CRUD.
type NetworkClient struct {
	dispatcher *dispatcher.Dispatcher
	reducer    *rib.Reducer
}

func (c *NetworkClient) AddPeer(ctx context.Context, peer rib.PeerInfo) error {
	return c.dispatcher.Submit(ctx, rib.LocalPeerCreate{Peer: peer})
}

func (c *NetworkClient) RemovePeer(ctx context.Context, name string) error {
	return c.dispatcher.Submit(ctx, rib.LocalPeerDelete{Name: name})
}

func (c *NetworkClient) ListPeers(ctx context.Context) []rib.Peer {
	return c.reducer.State().Internal.Peers
}

// DataChannelClient exposes local route CRUD.
type DataChannelClient struct {
	dispatcher *dispatcher.Dispatcher
	reducer    *rib.Reducer
}

func (c *DataChannelClient) AddRoute(ctx context.Context, route rib.LocalRoute) error {
	return c.dispatcher.Submit(ctx, rib.LocalRouteCreate{Route: route})
}

func (c *DataChannelClient) RemoveRoute(ctx context.Context, name string, protocol rib.Protocol, endpoint string) error {
	return c.dispatcher.Submit(ctx, rib.LocalRouteDelete{Name: name, Protocol: protocol, Endpoint: endpoint})
}

func (c *DataChannelClient) ListRoutes(ctx context.Context) []rib.LocalRoute {
	return c.reducer.State().Local.Routes
}

// IBGPClient exposes the inbound peer session surface: open/update/close,
// called by other nodes' Peering Engines.
type IBGPClient struct {
	dispatcher *dispatcher.Dispatcher
}

func (c *IBGPClient) Open(ctx context.Context, info rib.PeerInfo) error {
	return c.dispatcher.Submit(ctx, rib.InternalProtocolOpen{PeerInfo: info})
}

func (c *IBGPClient) Update(ctx context.Context, info rib.PeerInfo, payload rib.UpdatePayload) error {
	return c.dispatcher.Submit(ctx, rib.InternalProtocolUpdate{PeerInfo: info, Update: payload})
}

func (c *IBGPClient) Close(ctx context.Context, info rib.PeerInfo, code int) error {
	return c.dispatcher.Submit(ctx, rib.InternalProtocolClose{PeerInfo: info, Code: code})
}
