// Package session binds one client connection to at most one room and turns
// its wire commands into room operations.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/buzzer-backend/internal/game"
	"github.com/DoyleJ11/buzzer-backend/internal/protocol"
	"github.com/DoyleJ11/buzzer-backend/internal/registry"
	"github.com/DoyleJ11/buzzer-backend/internal/room"
)

var ErrNoActiveRoom = errors.New("connection is not in a room")
var ErrBadMessage = errors.New("malformed message")
var ErrUnknownEvent = errors.New("unknown event")

// Registry is the part of *registry.Registry a session uses.
type Registry interface {
	Create(ctx context.Context, host room.Member) (*room.Room, error)
	Get(ctx context.Context, code string) (*room.Room, error)
}

// Session is driven by its connection's reader goroutine only and is not
// safe for concurrent use.
type Session struct {
	id     string
	reg    Registry
	outbox chan<- protocol.ServerMessage
	drop   func()
	room   *room.Room
	log    *zap.Logger
}

// New binds nothing yet. outbox receives every message for this connection,
// drop closes the connection.
func New(id string, reg Registry, outbox chan<- protocol.ServerMessage, drop func(), log *zap.Logger) *Session {
	if drop == nil {
		drop = func() {}
	}
	return &Session{
		id:     id,
		reg:    reg,
		outbox: outbox,
		drop:   drop,
		log:    log.With(zap.String("conn", id)),
	}
}

func (s *Session) ID() string { return s.id }

// RoomCode reports the room this connection is bound to.
func (s *Session) RoomCode() (string, bool) {
	if s.room == nil {
		return "", false
	}
	return s.room.Code(), true
}

// HandleFrame decodes one text frame and handles it.
func (s *Session) HandleFrame(ctx context.Context, frame []byte) {
	var msg protocol.ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.report("", errors.Join(ErrBadMessage, err))
		return
	}
	s.Handle(ctx, msg)
}

// Handle dispatches one client message. User-facing failures are answered
// with an errorMessage to this connection only; everything else is logged.
func (s *Session) Handle(ctx context.Context, msg protocol.ClientMessage) {
	if err := s.dispatch(ctx, msg); err != nil {
		s.report(msg.Event, err)
	}
}

func (s *Session) report(event string, err error) {
	log := s.log.With(zap.String("event", event), zap.Error(err))
	switch {
	case errors.Is(err, game.ErrInvalidName):
		s.reply(protocol.Error(protocol.TextInvalidName))
	case errors.Is(err, registry.ErrRoomNotFound):
		s.reply(protocol.Error(protocol.TextRoomNotFound))
	case errors.Is(err, ErrBadMessage):
		s.reply(protocol.Error(protocol.TextBadMessage))
	case errors.Is(err, ErrUnknownEvent):
		s.reply(protocol.Error(protocol.TextUnknownEvent))
	case errors.Is(err, ErrNoActiveRoom), game.Silent(err):
		log.Debug("command ignored")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug("command abandoned")
	default:
		log.Error("command failed")
		s.reply(protocol.Error(protocol.TextServerError))
	}
}

func (s *Session) dispatch(ctx context.Context, msg protocol.ClientMessage) error {
	switch msg.Event {
	case protocol.EvtCreateRoom:
		var p protocol.CreateRoom
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		return s.Create(ctx, p.Name)

	case protocol.EvtJoinRoom:
		var p protocol.JoinRoom
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		return s.Join(ctx, p.RoomID, p.Name)

	case protocol.EvtStartRound:
		return s.Command(ctx, game.CmdStartRound)
	case protocol.EvtNextRound:
		return s.Command(ctx, game.CmdNextRound)
	case protocol.EvtPressButton:
		return s.Command(ctx, game.CmdPressButton)

	default:
		return ErrUnknownEvent
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrBadMessage, err)
	}
	return nil
}

// Create opens a new room hosted by this connection. A connection that is
// already in a room leaves it first.
func (s *Session) Create(ctx context.Context, name string) error {
	if game.SanitizeName(name) == "" {
		return game.ErrInvalidName
	}
	if err := s.Leave(ctx); err != nil {
		return err
	}

	rm, err := s.reg.Create(ctx, s.member(name))
	if err != nil {
		return err
	}
	s.room = rm
	s.log.Info("created room", zap.String("room", rm.Code()))
	return nil
}

// Join binds this connection to the room with code. A connection that is
// already in another room leaves it first; joining the current room again is
// a no-op.
func (s *Session) Join(ctx context.Context, code, name string) error {
	rm, err := s.reg.Get(ctx, code)
	if err != nil {
		return err
	}
	if game.SanitizeName(name) == "" {
		return game.ErrInvalidName
	}
	if rm == s.room {
		s.log.Debug("already in room", zap.String("room", rm.Code()))
		return nil
	}
	if err := s.Leave(ctx); err != nil {
		return err
	}

	if err := rm.Join(ctx, s.member(name)); err != nil {
		if errors.Is(err, room.ErrClosed) {
			// Emptied between lookup and join.
			return registry.ErrRoomNotFound
		}
		return err
	}
	s.room = rm
	s.log.Info("joined room", zap.String("room", rm.Code()))
	return nil
}

// Command forwards a round command to the bound room.
func (s *Session) Command(ctx context.Context, cmd game.CommandType) error {
	if s.room == nil {
		return ErrNoActiveRoom
	}
	err := s.room.Send(ctx, s.id, cmd)
	if errors.Is(err, room.ErrClosed) {
		s.room = nil
		return ErrNoActiveRoom
	}
	return err
}

// Leave unbinds the connection, removing its player from the room.
func (s *Session) Leave(ctx context.Context) error {
	if s.room == nil {
		return nil
	}
	rm := s.room
	err := rm.Leave(ctx, s.id)
	if err != nil && !errors.Is(err, room.ErrClosed) {
		return err
	}
	s.room = nil
	s.log.Info("left room", zap.String("room", rm.Code()))
	return nil
}

func (s *Session) member(name string) room.Member {
	return room.Member{ID: s.id, Name: name, Outbox: s.outbox, Drop: s.drop}
}

func (s *Session) reply(msg protocol.ServerMessage) {
	select {
	case s.outbox <- msg:
	default:
		s.log.Warn("outbox full, dropping connection")
		s.drop()
	}
}
