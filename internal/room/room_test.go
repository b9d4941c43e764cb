package room

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/buzzer-backend/internal/game"
	"github.com/DoyleJ11/buzzer-backend/internal/protocol"
)

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) protocol.ServerMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return protocol.ServerMessage{} // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan protocol.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("expected no message within %v, but got: %+v", within, msg)
	case <-time.After(within):
		// good: no message
	}
}

// drain collects everything delivered until the outbox stays quiet.
func drain(ch <-chan protocol.ServerMessage, idle time.Duration) []protocol.ServerMessage {
	var out []protocol.ServerMessage
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-time.After(idle):
			return out
		}
	}
}

func countEvents(msgs []protocol.ServerMessage, event string) int {
	n := 0
	for _, m := range msgs {
		if m.Event == event {
			n++
		}
	}
	return n
}

func snapshotOf(t *testing.T, msg protocol.ServerMessage) protocol.RoomData {
	t.Helper()
	data, ok := msg.Data.(protocol.RoomData)
	require.True(t, ok, "message %q carries %T, not RoomData", msg.Event, msg.Data)
	return data
}

type client struct {
	member  Member
	out     chan protocol.ServerMessage
	dropped atomic.Bool
}

func newClient(id, name string, buf int) *client {
	c := &client{out: make(chan protocol.ServerMessage, buf)}
	c.member = Member{ID: id, Name: name, Outbox: c.out, Drop: func() { c.dropped.Store(true) }}
	return c
}

func newTestRoom(t *testing.T, host *client, onEmpty func(*Room)) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r, err := New(ctx, "K3F9P", host.member, onEmpty, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func joinClient(t *testing.T, r *Room, c *client) {
	t.Helper()
	require.NoError(t, r.Join(context.Background(), c.member))
}

func TestRoom_New_SendsJoinedThenUpdateToHost(t *testing.T) {
	host := newClient("ana", "  Ana ", 8)
	newTestRoom(t, host, nil)

	joined := recvMsg(t, host.out, 100*time.Millisecond)
	require.Equal(t, protocol.EvtRoomJoined, joined.Event)
	snap := snapshotOf(t, joined)
	assert.Equal(t, "K3F9P", snap.RoomID)
	assert.Equal(t, "ana", snap.HostID)
	assert.Equal(t, game.StatusWaiting, snap.Status)
	assert.Nil(t, snap.Winner)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, protocol.PlayerData{ID: "ana", Name: "Ana", IsHost: true}, snap.Players[0])

	update := recvMsg(t, host.out, 100*time.Millisecond)
	assert.Equal(t, protocol.EvtRoomUpdate, update.Event)
}

func TestRoom_New_RejectsEmptyName(t *testing.T) {
	host := newClient("ana", "   ", 8)
	_, err := New(context.Background(), "K3F9P", host.member, nil, zaptest.NewLogger(t))
	require.ErrorIs(t, err, game.ErrInvalidName)
	recvNoMsg(t, host.out, 20*time.Millisecond)
}

func TestRoom_Join_SnapshotToJoinerAndUpdateToAll(t *testing.T) {
	host := newClient("ana", "Ana", 8)
	r := newTestRoom(t, host, nil)
	drain(host.out, 20*time.Millisecond)

	luis := newClient("luis", "Luis", 8)
	joinClient(t, r, luis)

	joined := recvMsg(t, luis.out, 100*time.Millisecond)
	require.Equal(t, protocol.EvtRoomJoined, joined.Event)
	snap := snapshotOf(t, joined)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "ana", snap.Players[0].ID)
	assert.True(t, snap.Players[0].IsHost)
	assert.Equal(t, "luis", snap.Players[1].ID)
	assert.False(t, snap.Players[1].IsHost)

	assert.Equal(t, protocol.EvtRoomUpdate, recvMsg(t, luis.out, 100*time.Millisecond).Event)
	assert.Equal(t, protocol.EvtRoomUpdate, recvMsg(t, host.out, 100*time.Millisecond).Event)
}

func TestRoom_Join_InvalidNameIsRejected(t *testing.T) {
	host := newClient("ana", "Ana", 8)
	r := newTestRoom(t, host, nil)
	drain(host.out, 20*time.Millisecond)

	bad := newClient("x", " ", 8)
	err := r.Join(context.Background(), bad.member)
	require.ErrorIs(t, err, game.ErrInvalidName)

	recvNoMsg(t, bad.out, 30*time.Millisecond)
	recvNoMsg(t, host.out, 30*time.Millisecond)
}

func TestRoom_ConcurrentJoins_AllAdmittedWithUniqueIDs(t *testing.T) {
	const n = 25
	host := newClient("host", "Host", 256)
	r := newTestRoom(t, host, nil)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		c := newClient(fmt.Sprintf("p%d", i), fmt.Sprintf("Player %d", i), 256)
		g.Go(func() error { return r.Join(context.Background(), c.member) })
	}
	require.NoError(t, g.Wait())

	view, err := r.View(context.Background())
	require.NoError(t, err)
	require.Len(t, view.State.Players, n+1)
	assert.Equal(t, "host", view.State.Players[0].ID)

	seen := map[string]bool{}
	for _, p := range view.State.Players {
		assert.False(t, seen[p.ID], "duplicate id %q", p.ID)
		seen[p.ID] = true
	}
}

func TestRoom_ConcurrentPresses_ExactlyOneWinner(t *testing.T) {
	const n = 12
	host := newClient("p0", "Player 0", 256)
	r := newTestRoom(t, host, nil)
	clients := []*client{host}
	for i := 1; i < n; i++ {
		c := newClient(fmt.Sprintf("p%d", i), fmt.Sprintf("Player %d", i), 256)
		joinClient(t, r, c)
		clients = append(clients, c)
	}
	for _, c := range clients {
		drain(c.out, 10*time.Millisecond)
	}

	require.NoError(t, r.Send(context.Background(), "p0", game.CmdStartRound))

	var g errgroup.Group
	for _, c := range clients {
		id := c.member.ID
		g.Go(func() error { return r.Send(context.Background(), id, game.CmdPressButton) })
	}
	require.NoError(t, g.Wait())

	view, err := r.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, game.StatusEnded, view.State.Status)
	require.NotEmpty(t, view.State.Winner)

	for _, c := range clients {
		msgs := drain(c.out, 30*time.Millisecond)
		require.Equal(t, 1, countEvents(msgs, protocol.EvtRoundStarted), "client %s", c.member.ID)
		require.Equal(t, 1, countEvents(msgs, protocol.EvtRoundEnded), "client %s", c.member.ID)
		for _, m := range msgs {
			if m.Event == protocol.EvtRoundEnded {
				assert.Equal(t, protocol.RoundEnded{Winner: view.State.Winner}, m.Data)
			}
		}
	}
}

func TestRoom_ExampleScenario(t *testing.T) {
	ana := newClient("ana", "Ana", 16)
	r := newTestRoom(t, ana, nil)
	luis := newClient("luis", "Luis", 16)
	joinClient(t, r, luis)
	drain(ana.out, 10*time.Millisecond)
	drain(luis.out, 10*time.Millisecond)

	// Luis is not the host, so this is ignored.
	require.NoError(t, r.Send(context.Background(), "luis", game.CmdStartRound))
	recvNoMsg(t, ana.out, 30*time.Millisecond)

	require.NoError(t, r.Send(context.Background(), "ana", game.CmdStartRound))
	for _, c := range []*client{ana, luis} {
		assert.Equal(t, protocol.EvtRoundStarted, recvMsg(t, c.out, 100*time.Millisecond).Event)
		snap := snapshotOf(t, recvMsg(t, c.out, 100*time.Millisecond))
		assert.Equal(t, game.StatusRunning, snap.Status)
	}

	require.NoError(t, r.Send(context.Background(), "luis", game.CmdPressButton))
	require.NoError(t, r.Send(context.Background(), "ana", game.CmdPressButton))
	for _, c := range []*client{ana, luis} {
		ended := recvMsg(t, c.out, 100*time.Millisecond)
		assert.Equal(t, protocol.EvtRoundEnded, ended.Event)
		assert.Equal(t, protocol.RoundEnded{Winner: "Luis"}, ended.Data)
		snap := snapshotOf(t, recvMsg(t, c.out, 100*time.Millisecond))
		require.NotNil(t, snap.Winner)
		assert.Equal(t, "Luis", *snap.Winner)
		assert.Equal(t, game.StatusEnded, snap.Status)
		recvNoMsg(t, c.out, 30*time.Millisecond)
	}

	require.NoError(t, r.Send(context.Background(), "ana", game.CmdNextRound))
	assert.Equal(t, protocol.EvtRoundReset, recvMsg(t, luis.out, 100*time.Millisecond).Event)
	snap := snapshotOf(t, recvMsg(t, luis.out, 100*time.Millisecond))
	assert.Equal(t, game.StatusWaiting, snap.Status)
	assert.Nil(t, snap.Winner)
}

func TestRoom_HostLeaves_OldestGuestBecomesHost(t *testing.T) {
	ana := newClient("ana", "Ana", 16)
	r := newTestRoom(t, ana, nil)
	luis := newClient("luis", "Luis", 16)
	eva := newClient("eva", "Eva", 16)
	joinClient(t, r, luis)
	joinClient(t, r, eva)
	drain(ana.out, 10*time.Millisecond)
	drain(luis.out, 10*time.Millisecond)
	drain(eva.out, 10*time.Millisecond)

	require.NoError(t, r.Leave(context.Background(), "ana"))

	for _, c := range []*client{luis, eva} {
		msgs := drain(c.out, 30*time.Millisecond)
		require.Equal(t, 1, countEvents(msgs, protocol.EvtHostChanged))
		require.Len(t, msgs, 2)
		assert.Equal(t, protocol.EvtHostChanged, msgs[0].Event)
		assert.Equal(t, protocol.PlayerData{ID: "luis", Name: "Luis", IsHost: true}, msgs[0].Data)
		snap := snapshotOf(t, msgs[1])
		assert.Equal(t, "luis", snap.HostID)
		assert.Len(t, snap.Players, 2)
	}
	recvNoMsg(t, ana.out, 30*time.Millisecond)
}

func TestRoom_GuestLeaves_NoHostChange(t *testing.T) {
	ana := newClient("ana", "Ana", 16)
	r := newTestRoom(t, ana, nil)
	luis := newClient("luis", "Luis", 16)
	joinClient(t, r, luis)
	drain(ana.out, 10*time.Millisecond)

	require.NoError(t, r.Leave(context.Background(), "luis"))
	msgs := drain(ana.out, 30*time.Millisecond)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.EvtRoomUpdate, msgs[0].Event)
	assert.Equal(t, "ana", snapshotOf(t, msgs[0]).HostID)
}

func TestRoom_LastLeave_ClosesAndNotifies(t *testing.T) {
	emptied := make(chan *Room, 1)
	ana := newClient("ana", "Ana", 16)
	r := newTestRoom(t, ana, func(r *Room) { emptied <- r })
	drain(ana.out, 10*time.Millisecond)

	require.NoError(t, r.Leave(context.Background(), "ana"))

	select {
	case got := <-emptied:
		assert.Same(t, r, got)
		assert.True(t, got.Closed(), "room must be closed before onEmpty runs")
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("onEmpty was not called")
	}
	recvNoMsg(t, ana.out, 30*time.Millisecond)

	err := r.Join(context.Background(), newClient("luis", "Luis", 4).member)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, r.Send(context.Background(), "ana", game.CmdStartRound), ErrClosed)
	require.ErrorIs(t, r.Leave(context.Background(), "ana"), ErrClosed)
}

func TestRoom_DropSlowMember(t *testing.T) {
	host := newClient("ana", "Ana", 2) // room joined + update fill it
	r := newTestRoom(t, host, nil)
	luis := newClient("luis", "Luis", 64)
	joinClient(t, r, luis)

	view, err := r.View(context.Background())
	require.NoError(t, err)
	assert.True(t, host.dropped.Load(), "slow host should have been dropped")
	assert.Equal(t, 1, view.NumMembers)
	require.Len(t, view.State.Players, 1)
	assert.Equal(t, "luis", view.State.HostID)

	msgs := drain(luis.out, 30*time.Millisecond)
	assert.Equal(t, 1, countEvents(msgs, protocol.EvtHostChanged))
}

func TestRoom_Shutdown_DropsMembers(t *testing.T) {
	ana := newClient("ana", "Ana", 16)
	r := newTestRoom(t, ana, nil)
	luis := newClient("luis", "Luis", 16)
	joinClient(t, r, luis)

	r.Shutdown()
	select {
	case <-r.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("room did not stop")
	}
	assert.True(t, ana.dropped.Load())
	assert.True(t, luis.dropped.Load())
	_, err := r.View(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestRoom_ParentCancelStopsRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ana := newClient("ana", "Ana", 16)
	r, err := New(ctx, "ABCDE", ana.member, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("room did not stop after parent cancel")
	}
}

func TestRoom_Join_CancelledContextStillReportsAdmission(t *testing.T) {
	host := newClient("ana", "Ana", 512)
	emptied := make(chan struct{})
	r := newTestRoom(t, host, func(*Room) { close(emptied) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var admitted []string
	for i := 0; i < 50; i++ {
		g := newClient(fmt.Sprintf("g%d", i), "Guest", 512)
		err := r.Join(ctx, g.member)
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			continue
		}
		admitted = append(admitted, g.member.ID)
	}

	view, err := r.View(context.Background())
	require.NoError(t, err)
	require.Len(t, view.State.Players, 1+len(admitted))

	for _, id := range append(admitted, "ana") {
		require.NoError(t, r.Leave(context.Background(), id))
	}
	select {
	case <-emptied:
	case <-time.After(time.Second):
		t.Fatalf("room still open after every admitted player left")
	}
	assert.True(t, r.Closed())
}
