package game

import (
	"errors"
	"slices"
)

var ErrInvalidName = errors.New("invalid name")
var ErrUnauthorized = errors.New("requester is not the host")
var ErrIllegalTransition = errors.New("illegal status transition")
var ErrRoundNotRunning = errors.New("round is not running")
var ErrRoundAlreadyWon = errors.New("round already has a winner")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrDuplicatePlayer = errors.New("player already in room")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

type Player struct {
	ID   string
	Name string
}

// State is the authoritative state of one room. Winner is non-empty iff
// Status is StatusEnded.
type State struct {
	Code    string
	Players []Player // join order
	HostID  string
	Status  Status
	Winner  string
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdStartRound  CommandType = "StartRound"
	CmdNextRound   CommandType = "NextRound"
	CmdPressButton CommandType = "PressButton"
	CmdLeave       CommandType = "Leave"
)

/*
	CmdJoin        -> EvtPlayerJoined
	CmdStartRound  -> EvtRoundStarted                    (host only, from waiting)
	CmdNextRound   -> EvtRoundReset                      (host only, from any status)
	CmdPressButton -> EvtRoundEnded                      (first press while running)
	CmdLeave       -> EvtPlayerLeft -> EvtHostChanged    (if the host left and someone remains)
	               -> EvtPlayerLeft -> EvtRoomEmptied    (if nobody remains)
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Name     string // CmdJoin only
}

type EventType string

const (
	EvtPlayerJoined EventType = "PlayerJoined"
	EvtRoundStarted EventType = "RoundStarted"
	EvtRoundReset   EventType = "RoundReset"
	EvtRoundEnded   EventType = "RoundEnded"
	EvtPlayerLeft   EventType = "PlayerLeft"
	EvtHostChanged  EventType = "HostChanged"
	EvtRoomEmptied  EventType = "RoomEmptied"
)

type Event struct {
	Type   EventType
	Player Player // joined, left or new host
	Winner string // EvtRoundEnded only
}

// NewState builds a waiting room whose only player is the host.
func NewState(code string, host Player) (State, error) {
	name := SanitizeName(host.Name)
	if name == "" {
		return State{}, ErrInvalidName
	}
	host.Name = name
	return State{
		Code:    code,
		Players: []Player{host},
		HostID:  host.ID,
		Status:  StatusWaiting,
	}, nil
}

// Apply validates cmd against s and returns the resulting events and state.
// On error s is returned untouched and no events are produced.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s
	newState.Players = slices.Clone(s.Players)

	switch cmd.Type {
	case CmdJoin:
		name := SanitizeName(cmd.Name)
		if name == "" {
			return nil, s, ErrInvalidName
		}
		if s.HasPlayer(cmd.PlayerID) {
			return nil, s, ErrDuplicatePlayer
		}

		p := Player{ID: cmd.PlayerID, Name: name}
		newState.Players = append(newState.Players, p)
		return []Event{{Type: EvtPlayerJoined, Player: p}}, newState, nil

	case CmdStartRound:
		if cmd.PlayerID != s.HostID {
			return nil, s, ErrUnauthorized
		}
		// ended goes back through waiting via nextRound
		if s.Status != StatusWaiting {
			return nil, s, ErrIllegalTransition
		}

		newState.Status = StatusRunning
		newState.Winner = ""
		return []Event{{Type: EvtRoundStarted}}, newState, nil

	case CmdNextRound:
		if cmd.PlayerID != s.HostID {
			return nil, s, ErrUnauthorized
		}

		newState.Status = StatusWaiting
		newState.Winner = ""
		return []Event{{Type: EvtRoundReset}}, newState, nil

	case CmdPressButton:
		if s.Status != StatusRunning {
			if s.Winner != "" {
				return nil, s, ErrRoundAlreadyWon
			}
			return nil, s, ErrRoundNotRunning
		}

		p, ok := s.Player(cmd.PlayerID)
		if !ok {
			return nil, s, ErrUnknownPlayer
		}

		newState.Winner = p.Name
		newState.Status = StatusEnded
		return []Event{{Type: EvtRoundEnded, Player: p, Winner: p.Name}}, newState, nil

	case CmdLeave:
		idx := s.indexOf(cmd.PlayerID)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}

		left := s.Players[idx]
		newState.Players = slices.Delete(newState.Players, idx, idx+1)
		events := []Event{{Type: EvtPlayerLeft, Player: left}}

		if len(newState.Players) == 0 {
			newState.HostID = ""
			return append(events, Event{Type: EvtRoomEmptied}), newState, nil
		}

		// Longest-tenured remaining player inherits the room.
		if left.ID == s.HostID {
			newHost := newState.Players[0]
			newState.HostID = newHost.ID
			events = append(events, Event{Type: EvtHostChanged, Player: newHost})
		}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Silent reports whether err is a precondition or authorization failure that
// must not be surfaced to the client.
func Silent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrRoundNotRunning) ||
		errors.Is(err, ErrRoundAlreadyWon) ||
		errors.Is(err, ErrUnknownPlayer)
}

func (s State) Player(id string) (Player, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Player{}, false
	}
	return s.Players[idx], true
}

func (s State) HasPlayer(id string) bool {
	return s.indexOf(id) >= 0
}

func (s State) Host() (Player, bool) {
	return s.Player(s.HostID)
}

func (s State) Empty() bool {
	return len(s.Players) == 0
}

func (s State) indexOf(id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}
