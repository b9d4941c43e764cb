package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/buzzer-backend/internal/game"
	"github.com/DoyleJ11/buzzer-backend/internal/protocol"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

// Member is a connection bound to the room. Outbox is owned by the
// connection and is never closed by the room.
type Member struct {
	ID     string
	Name   string
	Outbox chan<- protocol.ServerMessage
	Drop   func() // closes the connection; may be nil
}

type Join struct {
	Member Member
	Reply  chan error
}

func (Join) isRoomMsg() {}

type Leave struct {
	PlayerID string
	Reply    chan struct{}
}

func (Leave) isRoomMsg() {}

type FromClient struct {
	PlayerID string
	Cmd      game.CommandType
}

func (FromClient) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type View struct {
	State      game.State
	NumMembers int
}

// Room serializes every mutation of one game.State through a single
// goroutine. It stops on its own once the last player leaves.
type Room struct {
	code    string
	inbox   chan Msg
	state   game.State
	members map[string]Member
	dropped []string
	onEmpty func(*Room)
	log     *zap.Logger
	players atomic.Int32

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a room with host as its only player and starts its loop.
// onEmpty is called from the room goroutine after the room has closed
// because nobody is left.
func New(parent context.Context, code string, host Member, onEmpty func(*Room), log *zap.Logger) (*Room, error) {
	state, err := game.NewState(code, game.Player{ID: host.ID, Name: host.Name})
	if err != nil {
		return nil, err
	}
	if onEmpty == nil {
		onEmpty = func(*Room) {}
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		code:    code,
		inbox:   make(chan Msg, 64),
		state:   state,
		members: make(map[string]Member),
		onEmpty: onEmpty,
		log:     log.With(zap.String("room", code)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	host.Name = state.Players[0].Name
	r.members[host.ID] = host
	r.send(host.ID, protocol.RoomJoined(r.state))
	r.broadcast(protocol.RoomUpdate(r.state))
	r.reap()
	if r.state.Empty() {
		r.finish()
		return nil, ErrClosed
	}

	r.players.Store(1)
	r.log.Info("room created", zap.String("host", host.ID))
	go r.loop()
	return r, nil
}

func (r *Room) Code() string { return r.code }

// Done is closed once the room stops accepting messages.
func (r *Room) Done() <-chan struct{} { return r.done }

// Players is the player count as of the last handled message.
func (r *Room) Players() int { return int(r.players.Load()) }

func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Join adds m as a player. It fails with game.ErrInvalidName for an unusable
// name and ErrClosed if the room emptied before the request was handled.
// ctx only bounds queueing: once queued, Join reports the outcome so the
// caller always knows whether m was admitted.
func (r *Room) Join(ctx context.Context, m Member) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, Join{Member: m, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Leave removes playerID and waits until the room has processed it.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	reply := make(chan struct{}, 1)
	if err := r.post(ctx, Leave{PlayerID: playerID, Reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
	case <-r.done:
		// The room may close while handling this very leave.
	}
	return nil
}

// Send queues a round command from playerID. Rejections are silent.
func (r *Room) Send(ctx context.Context, playerID string, cmd game.CommandType) error {
	return r.post(ctx, FromClient{PlayerID: playerID, Cmd: cmd})
}

func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.post(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Shutdown stops the room and drops every member connection.
func (r *Room) Shutdown() { r.cancel() }

func (r *Room) post(ctx context.Context, m Msg) error {
	if r.Closed() {
		return ErrClosed
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) loop() {
	defer r.finish()
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			reply := r.handle(m)
			r.reap()
			r.players.Store(int32(len(r.state.Players)))
			emptied := r.state.Empty()
			if emptied {
				r.log.Info("room emptied")
				r.finish()
			}
			// Replies go out once the room has settled, so a caller that
			// emptied it already observes it as closed.
			if reply != nil {
				reply()
			}
			if emptied {
				r.onEmpty(r)
				return
			}
		}
	}
}

func (r *Room) handle(m Msg) func() {
	switch msg := m.(type) {
	case Join:
		events, next, err := game.Apply(r.state, game.Command{
			Type:     game.CmdJoin,
			PlayerID: msg.Member.ID,
			Name:     msg.Member.Name,
		})
		if err != nil {
			r.log.Debug("join rejected", zap.String("player", msg.Member.ID), zap.Error(err))
			return func() { msg.Reply <- err }
		}
		member := msg.Member
		member.Name = events[0].Player.Name
		r.members[member.ID] = member
		r.state = next
		r.log.Info("player joined", zap.String("player", member.ID), zap.Int("players", len(r.state.Players)))
		r.publish(events)
		return func() { msg.Reply <- nil }

	case Leave:
		r.leave(msg.PlayerID)
		return func() { msg.Reply <- struct{}{} }

	case FromClient:
		switch msg.Cmd {
		case game.CmdStartRound, game.CmdNextRound, game.CmdPressButton:
		default:
			r.log.Debug("unsupported client command", zap.String("cmd", string(msg.Cmd)))
			return nil
		}
		events, next, err := game.Apply(r.state, game.Command{Type: msg.Cmd, PlayerID: msg.PlayerID})
		if err != nil {
			r.log.Debug("command ignored",
				zap.String("player", msg.PlayerID),
				zap.String("cmd", string(msg.Cmd)),
				zap.Error(err))
			return nil
		}
		r.state = next
		r.publish(events)

	case GetState:
		msg.Reply <- View{State: r.state, NumMembers: len(r.members)}
	}
	return nil
}

func (r *Room) leave(playerID string) {
	delete(r.members, playerID)
	events, next, err := game.Apply(r.state, game.Command{Type: game.CmdLeave, PlayerID: playerID})
	if err != nil {
		r.log.Debug("leave ignored", zap.String("player", playerID), zap.Error(err))
		return
	}
	r.state = next
	r.log.Info("player left", zap.String("player", playerID), zap.Int("players", len(r.state.Players)))
	r.publish(events)
}

// publish maps reducer events onto wire messages and follows them with a
// snapshot while anyone is left to receive it.
func (r *Room) publish(events []game.Event) {
	for _, ev := range events {
		switch ev.Type {
		case game.EvtPlayerJoined:
			r.send(ev.Player.ID, protocol.RoomJoined(r.state))
		case game.EvtRoundStarted:
			r.broadcast(protocol.ServerMessage{Event: protocol.EvtRoundStarted})
		case game.EvtRoundReset:
			r.broadcast(protocol.ServerMessage{Event: protocol.EvtRoundReset})
		case game.EvtRoundEnded:
			r.log.Info("round won", zap.String("winner", ev.Winner))
			r.broadcast(protocol.ServerMessage{
				Event: protocol.EvtRoundEnded,
				Data:  protocol.RoundEnded{Winner: ev.Winner},
			})
		case game.EvtHostChanged:
			r.log.Info("host changed", zap.String("host", ev.Player.ID))
			r.broadcast(protocol.ServerMessage{
				Event: protocol.EvtHostChanged,
				Data:  protocol.Player(ev.Player, true),
			})
		}
	}
	if !r.state.Empty() {
		r.broadcast(protocol.RoomUpdate(r.state))
	}
}

func (r *Room) broadcast(msg protocol.ServerMessage) {
	for id := range r.members {
		r.send(id, msg)
	}
}

func (r *Room) send(id string, msg protocol.ServerMessage) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	select {
	case m.Outbox <- msg:
		//ok
	default:
		// Client is slow/full - drop them.
		r.log.Warn("dropping slow member", zap.String("player", id))
		delete(r.members, id)
		r.dropped = append(r.dropped, id)
		if m.Drop != nil {
			m.Drop()
		}
	}
}

// reap turns dropped members into departures. Each departure may drop
// further members, so it runs until nothing is pending.
func (r *Room) reap() {
	for len(r.dropped) > 0 {
		id := r.dropped[0]
		r.dropped = r.dropped[1:]
		r.leave(id)
	}
}

func (r *Room) shutdown() {
	for id, m := range r.members {
		if m.Drop != nil {
			m.Drop()
		}
		delete(r.members, id)
	}
	r.log.Info("room shut down")
}

func (r *Room) finish() {
	r.doneOnce.Do(func() {
		close(r.done)
		r.cancel()
	})
}
