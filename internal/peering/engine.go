package peering

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/wire"
	"github.com/jonboulle/clockwork"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Local             rib.PeerInfo
	Dialer            Dialer
	Verify            TokenVerifier
	Logger            *slog.Logger
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	AuthFailureLimit  int
	AuthFailureWindow time.Duration
	Metrics           *Metrics
}

// Engine owns one Session per connected peer and turns their lifecycle
// events into rib.Action values the Dispatcher feeds to the Reducer,
// implementing spec §4.3's Peering & Propagation Engine.
type Engine struct {
	cfg EngineConfig
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	actions chan rib.Action
}

// NewEngine builds an Engine ready to accept Connect calls. actionBuffer
// sizes the outbound action channel; the Dispatcher is expected to drain it
// promptly.
func NewEngine(cfg EngineConfig, actionBuffer int) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.AuthFailureWindow <= 0 {
		cfg.AuthFailureWindow = 1 * time.Minute
	}
	if actionBuffer <= 0 {
		actionBuffer = 64
	}
	return &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		actions:  make(chan rib.Action, actionBuffer),
	}
}

// Actions is the stream of rib.Action values synthesized from session
// lifecycle events. The caller (normally internal/dispatcher) must drain it.
func (e *Engine) Actions() <-chan rib.Action { return e.actions }

func (e *Engine) emit(a rib.Action) {
	select {
	case e.actions <- a:
	default:
		e.log.Warn("peering: action channel full, blocking until the dispatcher drains it")
		e.actions <- a
	}
}

func (e *Engine) newSession(peerName string) *Session {
	return NewSession(Config{
		PeerName:          peerName,
		Clock:             e.cfg.Clock,
		HeartbeatInterval: e.cfg.HeartbeatInterval,
		ReconnectInitial:  e.cfg.ReconnectInitial,
		ReconnectMax:      e.cfg.ReconnectMax,
		AuthFailureLimit:  e.cfg.AuthFailureLimit,
	})
}

// Connect dials peer, performs the handshake, and on success starts a
// background read loop that turns incoming wire.Envelope traffic into
// InternalProtocolUpdate/Close actions. Errors are returned to the caller
// (typically a reconnect loop) rather than retried internally; the Session's
// NextBackoff gives the caller the delay to wait before trying again.
func (e *Engine) Connect(ctx context.Context, peer rib.PeerInfo) error {
	if e.cfg.Dialer == nil {
		return fmt.Errorf("peering: no dialer configured")
	}

	e.mu.Lock()
	sess, ok := e.sessions[peer.Name]
	if !ok {
		sess = e.newSession(peer.Name)
		e.sessions[peer.Name] = sess
	}
	e.mu.Unlock()

	if err := sess.BeginDial(); err != nil {
		return err
	}

	transport, err := e.cfg.Dialer.Dial(ctx, peer.Endpoint)
	if err != nil {
		sess.Close(rib.CodeNormal, err)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.DialFailures.Inc()
		}
		return &TransportError{Reason: "dial failed", Err: err}
	}

	if err := sess.TransportUp(ctx, transport, e.cfg.Local, e.cfg.Verify); err != nil {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.AuthFailures.Inc()
		}
		return err
	}

	sess.Ack()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SessionsOpen.Inc()
	}
	e.emit(rib.InternalProtocolOpen{PeerInfo: peer})
	go e.readLoop(ctx, sess, transport, peer)
	return nil
}

// AdoptInbound registers an already-handshaken inbound Transport (accepted
// by internal/grpctransport's server side) as an open Session.
func (e *Engine) AdoptInbound(ctx context.Context, peer rib.PeerInfo, transport Transport) {
	sess := e.newSession(peer.Name)
	sess.BeginDial()
	e.mu.Lock()
	sess.transport = transport
	sess.state = StateHandshaking
	e.sessions[peer.Name] = sess
	e.mu.Unlock()
	sess.Ack()

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SessionsOpen.Inc()
	}
	e.emit(rib.InternalProtocolConnected{PeerInfo: peer})
	go e.readLoop(ctx, sess, transport, peer)
}

func (e *Engine) readLoop(ctx context.Context, sess *Session, transport Transport, peer rib.PeerInfo) {
	for {
		env, err := transport.Recv(ctx)
		if err != nil {
			if sess.State() == StateClosed {
				return // already closed by Disconnect or SweepExpired, which emitted the Close
			}
			e.closeSession(sess, peer, rib.CodeNormal, err)
			return
		}
		sess.RecordRx()

		switch {
		case env.Update != nil:
			e.emit(rib.InternalProtocolUpdate{PeerInfo: peer, Update: rib.UpdatePayload{Updates: env.Update.Updates}})
		case env.Close != nil:
			e.closeSession(sess, peer, env.Close.Code, nil)
			return
		}
	}
}

func (e *Engine) closeSession(sess *Session, peer rib.PeerInfo, code int, err error) {
	sess.Close(code, err)
	e.mu.Lock()
	delete(e.sessions, peer.Name)
	e.mu.Unlock()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SessionsOpen.Dec()
	}
	e.emit(rib.InternalProtocolClose{PeerInfo: peer, Code: code})
}

// SendUpdate forwards an UpdatePayload to peerName's open session, used by
// the Dispatcher to fan propagations out (spec §4.4).
func (e *Engine) SendUpdate(ctx context.Context, peerName string, payload rib.UpdatePayload) error {
	e.mu.Lock()
	sess, ok := e.sessions[peerName]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("peering: no open session to %q", peerName)
	}
	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("peering: session to %q has no transport", peerName)
	}
	return transport.Send(ctx, wire.Envelope{Update: &wire.Update{Updates: payload.Updates}})
}

// Disconnect proactively closes the session to peerName with the given
// close code, notifying the remote end first when possible.
func (e *Engine) Disconnect(ctx context.Context, peerName string, code int) error {
	e.mu.Lock()
	sess, ok := e.sessions[peerName]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	transport := sess.transport
	sess.mu.Unlock()
	if transport != nil {
		_ = transport.Send(ctx, wire.Envelope{Close: &wire.Close{Code: code}})
	}
	e.closeSession(sess, rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: peerName}}, code, nil)
	return nil
}

// SweepExpired scans every open session for a blown detect deadline and
// closes it, synthesizing InternalProtocolClose with CodeHeartbeatExpiry.
// The Dispatcher or cmd/catalystd is expected to call this on a ticker.
func (e *Engine) SweepExpired() {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, sess := range sessions {
		if sess.ExpireIfDue() {
			peerName := sess.PeerName()
			e.closeSession(sess, rib.PeerInfo{NodeIdentity: rib.NodeIdentity{Name: peerName}}, rib.CodeHeartbeatExpiry, nil)
		}
	}
}

// SessionState reports the lifecycle state of peerName's session, or
// StateClosed if none exists.
func (e *Engine) SessionState(peerName string) State {
	e.mu.Lock()
	sess, ok := e.sessions[peerName]
	e.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return sess.State()
}
