package core

import (
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeer(sid string) *PeerSession {
	return NewPeerSession(SessionID(sid), &domain.Participant{ID: domain.ParticipantID(sid)}, nil)
}

func TestTransport_StateMachine(t *testing.T) {
	tr := NewTransport(domain.TransportSend, nil)
	assert.Equal(t, domain.TransportCreated, tr.State())
	assert.False(t, tr.Connected())

	require.NoError(t, tr.markConnected())
	assert.True(t, tr.Connected())
	assert.ErrorIs(t, tr.markConnected(), domain.ErrInvalidTransportState)

	assert.True(t, tr.markClosed())
	assert.False(t, tr.markClosed(), "closed is final")
	assert.Equal(t, domain.TransportClosed, tr.State())
	assert.ErrorIs(t, tr.markConnected(), domain.ErrInvalidTransportState)
}

func TestTransport_CloseBeforeConnect(t *testing.T) {
	tr := NewTransport(domain.TransportReceive, nil)
	assert.True(t, tr.markClosed())
	assert.Equal(t, domain.TransportClosed, tr.State())
}

func TestRoom_ClosedRoomRejectsJoin(t *testing.T) {
	r := NewRoom("r1", nil)
	require.True(t, r.CloseIfEmpty())
	assert.False(t, r.CloseIfEmpty())

	_, err := r.Join(newPeer("a"))
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestRoom_CloseOnlyWhenEmpty(t *testing.T) {
	r := NewRoom("r1", nil)
	_, err := r.Join(newPeer("a"))
	require.NoError(t, err)
	assert.False(t, r.CloseIfEmpty())

	td, ok := r.RemovePeer("a")
	require.True(t, ok)
	assert.Zero(t, td.Remaining)
	_, ok = r.RemovePeer("a")
	assert.False(t, ok, "second removal is a no-op")

	assert.True(t, r.CloseIfEmpty())
}

func TestRoom_TransportSlotReservation(t *testing.T) {
	r := NewRoom("r1", nil)
	_, err := r.Join(newPeer("a"))
	require.NoError(t, err)

	p, err := r.ReserveTransport("a", domain.TransportSend)
	require.NoError(t, err)
	_, err = r.ReserveTransport("a", domain.TransportSend)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransport, "pending slot counts")

	_, err = r.ReserveTransport("a", domain.TransportReceive)
	assert.NoError(t, err, "kinds are independent")

	assert.NoError(t, r.ReleaseTransport(p, domain.TransportSend))
	_, err = r.ReserveTransport("a", domain.TransportSend)
	assert.NoError(t, err)

	_, err = r.ReserveTransport("nobody", domain.TransportSend)
	assert.ErrorIs(t, err, domain.ErrNotJoined)
}

func TestRoom_CommitAfterPeerLeft(t *testing.T) {
	r := NewRoom("r1", nil)
	_, err := r.Join(newPeer("a"))
	require.NoError(t, err)

	p, err := r.ReserveTransport("a", domain.TransportSend)
	require.NoError(t, err)
	_, ok := r.RemovePeer("a")
	require.True(t, ok)

	_, err = r.CommitTransport(p, domain.TransportSend, nil)
	assert.ErrorIs(t, err, domain.ErrPeerGone)
}

func TestRoom_ConnectRequiresTransport(t *testing.T) {
	r := NewRoom("r1", nil)
	_, err := r.Join(newPeer("a"))
	require.NoError(t, err)

	_, _, err = r.BeginConnect("a", domain.TransportSend)
	assert.ErrorIs(t, err, domain.ErrUnknownTransport)
	_, _, err = r.ConnectedTransport("a", domain.TransportSend)
	assert.ErrorIs(t, err, domain.ErrTransportNotReady)
}
