package grpctransport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/catalystmesh/catalyst/internal/peering"
	"github.com/catalystmesh/catalyst/internal/rib"
	"google.golang.org/grpc"
)

// InboundHandler is invoked once per accepted stream, after its handshake
// Open frame has been read and verified, to hand the live Transport off to
// the Peering Engine.
type InboundHandler func(ctx context.Context, peer rib.PeerInfo, transport peering.Transport)

// Server registers the hand-rolled PeerSession service against a
// grpc.Server and dispatches each accepted stream to an InboundHandler,
// after reading the Open handshake and, when a verifier is set, checking its
// token itself, so the Peering Engine never sees a rejected session.
type Server struct {
	log    *slog.Logger
	verify peering.TokenVerifier
	onOpen InboundHandler
}

// NewServer builds a Server. verify may be nil, in which case every
// handshake is accepted; cmd/catalystd passes nil.
func NewServer(log *slog.Logger, verify peering.TokenVerifier, onOpen InboundHandler) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, verify: verify, onOpen: onOpen}
}

// Register attaches the PeerSession service to grpcServer.
func (s *Server) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Stream",
				Handler:       s.handleStream,
				ServerStreams: true,
				ClientStreams: true,
			},
		},
	}, nil)
}

func (s *Server) handleStream(srv any, stream grpc.ServerStream) error {
	transport := newTransport(stream, func() error { return nil })
	ctx := stream.Context()

	env, err := transport.Recv(ctx)
	if err != nil {
		return fmt.Errorf("grpctransport: handshake recv failed: %w", err)
	}
	if env.Open == nil {
		return fmt.Errorf("grpctransport: first frame must be Open")
	}
	peer := env.Open.PeerInfo

	if s.verify != nil {
		if err := s.verify(ctx, peer); err != nil {
			s.log.Warn("grpctransport: inbound handshake rejected", "peer", peer.Name, "error", err)
			return fmt.Errorf("grpctransport: auth failed: %w", err)
		}
	}

	s.log.Info("grpctransport: inbound session accepted", "peer", peer.Name)
	s.onOpen(ctx, peer, transport)

	<-ctx.Done()
	return ctx.Err()
}
