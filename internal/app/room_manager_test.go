package app

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Huddle/internal/adapters/memengine"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomManager_GetOrCreateReusesRoom(t *testing.T) {
	engine := memengine.New(memengine.Hooks{})
	m := NewRoomManager(engine)

	a, err := m.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	b, err := m.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, engine.Created())

	_, err = m.GetOrCreate(context.Background(), "r2")
	require.NoError(t, err)
	assert.Len(t, m.List(), 2)
}

func TestRoomManager_CreationFailure(t *testing.T) {
	fail := true
	engine := memengine.New(memengine.Hooks{
		CreateRoutingContext: func(context.Context, domain.RoomID) error {
			if fail {
				return errors.New("no workers")
			}
			return nil
		},
	})
	m := NewRoomManager(engine)

	_, err := m.GetOrCreate(context.Background(), "r1")
	require.ErrorIs(t, err, domain.ErrRoomCreationFailed)
	_, ok := m.Get("r1")
	assert.False(t, ok)

	fail = false
	_, err = m.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
}

func TestRoomManager_CollectOnlyEmptyRooms(t *testing.T) {
	engine := memengine.New(memengine.Hooks{})
	m := NewRoomManager(engine)
	room, err := m.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	peer := core.NewPeerSession("a", &domain.Participant{ID: "a"}, nil)
	_, err = room.Join(peer)
	require.NoError(t, err)
	assert.False(t, m.Collect(room))

	_, ok := room.RemovePeer("a")
	require.True(t, ok)
	assert.True(t, m.Collect(room))
	assert.False(t, m.Collect(room))

	_, ok = m.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, memengine.Stats{}, engine.Stats(), "routing context closed")

	fresh, err := m.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotSame(t, room, fresh)
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.BindSignal("s1", "alice", func() { canceled = true })
	r.BindSignal("s2", "bob", nil)

	_, ok := r.RoomOf("s1")
	assert.False(t, ok, "bound but not joined")

	require.True(t, r.UpdateRoom("s1", "r1"))
	require.True(t, r.UpdateRoom("s2", "r1"))
	assert.False(t, r.UpdateRoom("s3", "r1"))

	room, ok := r.RoomOf("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), room)
	assert.ElementsMatch(t, []core.SessionID{"s1", "s2"}, r.MembersOfRoom("r1"))

	assert.True(t, r.Cancel("s1"))
	assert.True(t, canceled)

	r.Unbind("s1")
	assert.False(t, r.Cancel("s1"))
	assert.Equal(t, []core.SessionID{"s2"}, r.MembersOfRoom("r1"))
}

func TestSimplePolicy_Kicks(t *testing.T) {
	assert.Equal(t, KickMember, SimplePolicy{}.OnBackPressure("r1", "s1"))
}
