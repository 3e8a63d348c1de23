package peering

import (
	"context"
	"testing"
	"time"

	"github.com/catalystmesh/catalyst/internal/rib"
	"github.com/catalystmesh/catalyst/internal/wire"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	onClose func()
}

func (f *fakeTransport) Send(ctx context.Context, env wire.Envelope) error { return nil }
func (f *fakeTransport) Recv(ctx context.Context) (wire.Envelope, error)  { return wire.Envelope{}, nil }
func (f *fakeTransport) Close() error {
	if f.onClose != nil {
		f.onClose()
	}
	return nil
}

func TestSessionLifecycleHappyPath(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := NewSession(Config{PeerName: "B", Clock: clock, HeartbeatInterval: 10 * time.Second})
	require.Equal(t, StateIdle, sess.State())

	require.NoError(t, sess.BeginDial())
	require.Equal(t, StateDialing, sess.State())

	sess.Ack()
	require.Equal(t, StateOpen, sess.State())
}

func TestSessionExpiresAfterTwelveHeartbeatIntervals(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := NewSession(Config{PeerName: "B", Clock: clock, HeartbeatInterval: 10 * time.Second})
	require.NoError(t, sess.BeginDial())
	sess.Ack()

	clock.Advance(100 * time.Second)
	require.False(t, sess.ExpireIfDue(), "100s < 12*10s detect deadline")

	clock.Advance(30 * time.Second) // total 130s > 120s
	require.True(t, sess.ExpireIfDue())
	require.Equal(t, StateClosing, sess.State())
}

func TestRecordRxReArmsDetectDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := NewSession(Config{PeerName: "B", Clock: clock, HeartbeatInterval: 10 * time.Second})
	require.NoError(t, sess.BeginDial())
	sess.Ack()

	clock.Advance(119 * time.Second)
	sess.RecordRx()
	clock.Advance(119 * time.Second)
	require.False(t, sess.ExpireIfDue(), "rx reset the deadline")
}

func TestNoteAuthFailureExceedsLimitWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := NewSession(Config{PeerName: "B", Clock: clock, AuthFailureLimit: 3})

	require.False(t, sess.NoteAuthFailure(time.Minute))
	require.False(t, sess.NoteAuthFailure(time.Minute))
	require.True(t, sess.NoteAuthFailure(time.Minute))
}

func TestNoteAuthFailureWindowResets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := NewSession(Config{PeerName: "B", Clock: clock, AuthFailureLimit: 2})

	require.False(t, sess.NoteAuthFailure(time.Minute))
	clock.Advance(2 * time.Minute)
	require.False(t, sess.NoteAuthFailure(time.Minute), "window elapsed, counter should have reset")
}

func TestCloseTearsDownTransport(t *testing.T) {
	sess := NewSession(Config{PeerName: "B"})
	closed := false
	sess.transport = &fakeTransport{onClose: func() { closed = true }}
	require.NoError(t, sess.Close(rib.CodeAdminRemoved, nil))
	require.True(t, closed)
	require.Equal(t, rib.CodeAdminRemoved, sess.CloseCode())
	require.Equal(t, StateClosed, sess.State())
}
