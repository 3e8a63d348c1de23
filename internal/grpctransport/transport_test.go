package grpctransport

import (
	"context"
	"testing"

	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type loopbackStream struct {
	ctx context.Context
	in  chan *wrapperspb.BytesValue
}

func newLoopbackStream() *loopbackStream {
	return &loopbackStream{ctx: context.Background(), in: make(chan *wrapperspb.BytesValue, 4)}
}

func (s *loopbackStream) Context() context.Context { return s.ctx }

func (s *loopbackStream) SendMsg(m any) error {
	s.in <- m.(*wrapperspb.BytesValue)
	return nil
}

func (s *loopbackStream) RecvMsg(m any) error {
	bv := <-s.in
	out := m.(*wrapperspb.BytesValue)
	out.Value = bv.Value
	return nil
}

func TestTransportRoundTripsEnvelope(t *testing.T) {
	stream := newLoopbackStream()
	transport := newTransport(stream, nil)

	env := wire.Envelope{Open: &wire.Open{PeerInfo: rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: "B"}, PeerToken: "tok"}}}
	require.NoError(t, transport.Send(context.Background(), env))

	got, err := transport.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, "B", got.Open.PeerInfo.Name)
	require.Equal(t, "tok", got.Open.PeerInfo.PeerToken)
}

func TestTransportCloseInvokesCloser(t *testing.T) {
	closed := false
	transport := newTransport(newLoopbackStream(), func() error { closed = true; return nil })
	require.NoError(t, transport.Close())
	require.True(t, closed)
}
