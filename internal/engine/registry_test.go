package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundcord/soundcord/internal/core"
	"github.com/soundcord/soundcord/internal/domain"
)

func TestJoinTwiceFails(t *testing.T) {
	e := newEnv(testCfg())

	_, err := e.reg.Join(context.Background(), room1, chan1)
	require.NoError(t, err)

	_, err = e.reg.Join(context.Background(), room1, chan1)
	assert.ErrorIs(t, err, core.ErrAlreadyJoined)
}

func TestJoinFailsFastWithoutToken(t *testing.T) {
	e := newEnv(testCfg())
	e.creds.setErr(errors.New("refresh rejected"))

	_, err := e.reg.Join(context.Background(), room1, chan1)
	assert.ErrorIs(t, err, core.ErrCapabilityUnavailable)

	// The failed join must not leave a reservation behind.
	e.creds.setErr(nil)
	_, err = e.reg.Join(context.Background(), room1, chan1)
	require.NoError(t, err)
}

func TestLeaveWhilePlaying(t *testing.T) {
	e := newEnv(testCfg())
	sess := joinIdle(t, e)
	startPlaying(t, e, sess, "track:a")

	done := make(chan error, 1)
	go func() { done <- e.reg.Leave(room1) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("leave did not complete in time")
	}

	assert.True(t, e.source(0).closed.Load())
	assert.True(t, e.transport(0).closed.Load())

	_, err := e.reg.Get(room1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, e.reg.Leave(room1), core.ErrNotFound)
}

// A session whose handshake fails immediately must always evict its own
// entry, however fast teardown runs, so the room can be rejoined.
func TestRejoinAfterHandshakeFailure(t *testing.T) {
	e := newEnv(testCfg())
	e.setTransportConnectErr(errors.New("no route to room"))

	for i := 0; i < 20; i++ {
		sess, err := e.reg.Join(context.Background(), room1, chan1)
		require.NoError(t, err, "join %d", i)
		<-sess.Done()

		_, err = e.reg.Get(room1)
		require.ErrorIs(t, err, core.ErrNotFound, "join %d left a dead entry", i)
	}

	e.setTransportConnectErr(nil)
	_, err := e.reg.Join(context.Background(), room1, chan1)
	require.NoError(t, err)
}

func TestLeaveUnknownRoom(t *testing.T) {
	e := newEnv(testCfg())
	assert.ErrorIs(t, e.reg.Leave(room1), core.ErrNotFound)
}

func TestGetReturnsLiveSession(t *testing.T) {
	e := newEnv(testCfg())
	sess := joinIdle(t, e)

	got, err := e.reg.Get(room1)
	require.NoError(t, err)
	assert.Same(t, sess, got)
}

func TestConcurrentJoinsAcrossRooms(t *testing.T) {
	e := newEnv(testCfg())
	const rooms = 16

	var wg sync.WaitGroup
	errs := make([]error, rooms)
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := domain.RoomID(fmt.Sprintf("room-%d", i))
			channel := domain.ChannelID(fmt.Sprintf("voice-%d", i))
			_, errs[i] = e.reg.Join(context.Background(), room, channel)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "room-%d", i)
	}
	assert.Equal(t, rooms, e.reg.Len())

	e.reg.Shutdown()
	assert.Equal(t, 0, e.reg.Len())
}

func TestListReportsSessions(t *testing.T) {
	e := newEnv(testCfg())
	joinIdle(t, e)

	list := e.reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, room1, list[0].Room)
	assert.Equal(t, chan1, list[0].Channel)
}
