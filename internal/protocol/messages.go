package protocol

import (
	"encoding/json"

	"github.com/DoyleJ11/buzzer-backend/internal/game"
)

// Client -> Server
const (
	EvtCreateRoom  = "createRoom"  // CreateRoom
	EvtJoinRoom    = "joinRoom"    // JoinRoom
	EvtStartRound  = "startRound"  // no data
	EvtNextRound   = "nextRound"   // no data
	EvtPressButton = "pressButton" // no data
)

// Server -> Client
const (
	EvtRoomJoined   = "roomJoined"   // RoomData, sender only
	EvtRoomUpdate   = "roomUpdate"   // RoomData
	EvtRoundStarted = "roundStarted" // no data
	EvtRoundEnded   = "roundEnded"   // RoundEnded
	EvtRoundReset   = "roundReset"   // no data
	EvtHostChanged  = "hostChanged"  // PlayerData
	EvtErrorMessage = "errorMessage" // string
)

// User-facing error texts.
const (
	TextInvalidName  = "You must enter your name."
	TextRoomNotFound = "That room does not exist."
	TextBadMessage   = "Malformed message."
	TextUnknownEvent = "Unknown event."
	TextServerError  = "Something went wrong, try again."
)

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type CreateRoom struct {
	Name string `json:"name"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type PlayerData struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// RoomData is the full room snapshot. Winner is null unless the round ended.
type RoomData struct {
	RoomID  string       `json:"roomId"`
	Players []PlayerData `json:"players"`
	HostID  string       `json:"hostId"`
	Status  game.Status  `json:"status"`
	Winner  *string      `json:"winner"`
}

type RoundEnded struct {
	Winner string `json:"winner"`
}

func Snapshot(s game.State) RoomData {
	d := RoomData{
		RoomID:  s.Code,
		Players: make([]PlayerData, 0, len(s.Players)),
		HostID:  s.HostID,
		Status:  s.Status,
	}
	for _, p := range s.Players {
		d.Players = append(d.Players, Player(p, p.ID == s.HostID))
	}
	if s.Winner != "" {
		w := s.Winner
		d.Winner = &w
	}
	return d
}

func Player(p game.Player, isHost bool) PlayerData {
	return PlayerData{ID: p.ID, Name: p.Name, IsHost: isHost}
}

func RoomJoined(s game.State) ServerMessage {
	return ServerMessage{Event: EvtRoomJoined, Data: Snapshot(s)}
}

func RoomUpdate(s game.State) ServerMessage {
	return ServerMessage{Event: EvtRoomUpdate, Data: Snapshot(s)}
}

func Error(text string) ServerMessage {
	return ServerMessage{Event: EvtErrorMessage, Data: text}
}
