// Package peering manages one Session per connected peer: dialing,
// handshake, heartbeat, and reconnect. The state machine and its detect/
// backoff timers are modeled on client/doublezerod/internal/liveness/
// session.go's BFD-like Session (ComputeNextTx, ArmDetect, ExpireIfDue),
// generalized from a liveness probe to an RPC peer session.
package peering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// State is a Session's position in the lifecycle spec §4.3 defines.
type State string

const (
	StateIdle        State = "idle"
	StateDialing     State = "dialing"
	StateHandshaking State = "handshaking"
	StateOpen        State = "open"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
)

// Transport is the injected bidirectional message session a Session rides
// on. Its framing is out of core scope per spec §1; internal/grpctransport
// supplies the one concrete implementation used by cmd/catalystd.
type Transport interface {
	Send(ctx context.Context, env wire.Envelope) error
	Recv(ctx context.Context) (wire.Envelope, error)
	Close() error
}

// Dialer creates an outbound Transport to a peer's endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// TokenVerifier validates a peerToken presented at handshake for a given
// NodeIdentity. It stands in for the auth collaborator spec §1 delegates
// token verification to.
type TokenVerifier func(ctx context.Context, presented rib.PeerInfo) error

// TransportError marks a failure the Peering Engine should retry rather than
// surface as a permanent session failure (spec §7).
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
	}
	return "transport: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// Session is a single bidirectional session bound to one logical peer. It
// names its peer by string, not by a pointer to a shared Peer struct,
// matching spec §9's reference-cycle guidance ("use indices/ids, not direct
// owning references").
type Session struct {
	peerName string

	mu    sync.Mutex
	state State

	transport Transport

	clock             clockwork.Clock
	heartbeatInterval time.Duration
	lastRx            time.Time
	detectDeadline    time.Time

	backoff backoff.BackOff

	authFailures     int
	authFailureLimit int
	windowStart      time.Time

	closeCode int
	closeErr  error
}

// Config configures a new Session.
type Config struct {
	PeerName          string
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration // default 10s, spec §4.3
	ReconnectInitial  time.Duration // default 1s
	ReconnectMax      time.Duration // default 60s
	AuthFailureLimit  int           // default 3
}

// NewSession creates a Session in StateIdle.
func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 1 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 60 * time.Second
	}
	if cfg.AuthFailureLimit <= 0 {
		cfg.AuthFailureLimit = 3
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.ReconnectInitial
	eb.MaxInterval = cfg.ReconnectMax
	eb.MaxElapsedTime = 0 // never stop retrying on its own; the engine decides when to give up
	eb.Clock = clockworkBackoffClock{cfg.Clock}

	return &Session{
		peerName:          cfg.PeerName,
		state:             StateIdle,
		clock:             cfg.Clock,
		heartbeatInterval: cfg.HeartbeatInterval,
		backoff:           eb,
		authFailureLimit:  cfg.AuthFailureLimit,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerName returns the peer this session belongs to.
func (s *Session) PeerName() string { return s.peerName }

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// BeginDial transitions idle -> dialing, as the initiator or on accepting an
// inbound connection (spec §4.3).
func (s *Session) BeginDial() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle && s.state != StateClosed {
		return fmt.Errorf("peering: cannot dial from state %s", s.state)
	}
	s.state = StateDialing
	return nil
}

// TransportUp transitions dialing -> handshaking once the Transport is
// live, and performs the handshake: present local identity + peerToken,
// have verify check it.
func (s *Session) TransportUp(ctx context.Context, transport Transport, local rib.PeerInfo, verify TokenVerifier) error {
	s.mu.Lock()
	if s.state != StateDialing {
		s.mu.Unlock()
		return fmt.Errorf("peering: cannot handshake from state %s", s.state)
	}
	s.state = StateHandshaking
	s.transport = transport
	s.mu.Unlock()

	if err := transport.Send(ctx, wire.Envelope{Open: &wire.Open{PeerInfo: local}}); err != nil {
		s.setState(StateClosed)
		return &TransportError{Reason: "failed to send handshake", Err: err}
	}
	if verify != nil {
		if err := verify(ctx, local); err != nil {
			s.mu.Lock()
			s.authFailures++
			s.mu.Unlock()
			s.setState(StateClosed)
			return fmt.Errorf("peering: handshake rejected: %w", err)
		}
	}
	return nil
}

// Ack completes the handshake: handshaking -> open.
func (s *Session) Ack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateOpen
	s.lastRx = s.clock.Now()
	s.detectDeadline = s.lastRx.Add(s.detectTimeout())
	s.backoff.Reset()
}

func (s *Session) detectTimeout() time.Duration {
	return 12 * s.heartbeatInterval
}

// RecordRx marks traffic received, re-arming the detect deadline.
func (s *Session) RecordRx() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.lastRx = now
	s.detectDeadline = now.Add(s.detectTimeout())
}

// ExpireIfDue transitions an open session to closing if its detect
// deadline has elapsed with no traffic, mirroring
// liveness.Session.ExpireIfDue.
func (s *Session) ExpireIfDue() (expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return false
	}
	if s.clock.Now().Before(s.detectDeadline) {
		return false
	}
	s.state = StateClosing
	return true
}

// NextBackoff returns the next reconnect delay, or backoff.Stop if the
// caller should give up (never happens with the default unlimited
// MaxElapsedTime; reserved for callers that configure one).
func (s *Session) NextBackoff() time.Duration {
	return s.backoff.NextBackOff()
}

// NoteAuthFailure records an authentication failure within the current
// window and reports whether the count has reached the limit, per spec §4.3's
// "a peer that fails authentication N times within a window is put in
// failed status".
func (s *Session) NoteAuthFailure(window time.Duration) (exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if s.windowStart.IsZero() || now.Sub(s.windowStart) > window {
		s.windowStart = now
		s.authFailures = 0
	}
	s.authFailures++
	return s.authFailures >= s.authFailureLimit
}

// Close transitions to closed and tears down the transport, recording the
// reason code for InternalProtocolClose synthesis.
func (s *Session) Close(code int, err error) error {
	s.mu.Lock()
	s.state = StateClosed
	s.closeCode = code
	s.closeErr = err
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	if transport == nil {
		return nil
	}
	return transport.Close()
}

// CloseCode returns the reason code the session was last closed with.
func (s *Session) CloseCode() int { return s.closeCode }

// clockworkBackoffClock adapts clockwork.Clock to cenkalti/backoff's Clock
// interface so Session's reconnect timing is controllable in tests exactly
// like its heartbeat timing.
type clockworkBackoffClock struct {
	clockwork.Clock
}

func (c clockworkBackoffClock) Now() time.Time { return c.Clock.Now() }
