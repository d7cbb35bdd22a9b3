package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"example.com/cribbage-sync/internal/game"
)

// Kind is the `type` tag of a frame.
type Kind string

// Outbound kinds.
const (
	KindQuickMatch    Kind = "quick_match"
	KindCreatePrivate Kind = "create_private"
	KindJoinPrivate   Kind = "join_private"
	KindDiscard       Kind = "discard"
	KindPlayCard      Kind = "play_card"
	KindSayGo         Kind = "say_go"
	KindAcknowledge   Kind = "acknowledge"
	KindChat          Kind = "chat"
)

// Inbound kinds. Connected and Disconnected are synthesised locally.
const (
	KindConnected            Kind = "connected"
	KindDisconnected         Kind = "disconnected"
	KindWaiting              Kind = "waiting"
	KindPrivateCreated       Kind = "private_created"
	KindGameStart            Kind = "game_start"
	KindGameState            Kind = "game_state"
	KindOpponentDisconnected Kind = "opponent_disconnected"
	KindError                Kind = "error"
)

// Outbound is the closed set of client → server messages.
type Outbound interface {
	Kind() Kind
	outbound()
}

type QuickMatch struct {
	Name string `json:"name"`
}

type CreatePrivate struct {
	Name string `json:"name"`
}

type JoinPrivate struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type Discard struct {
	CardIndices []int `json:"card_indices"`
}

type PlayCard struct {
	CardIndex int `json:"card_index"`
}

type SayGo struct{}

type Acknowledge struct{}

type Chat struct {
	Message string `json:"message"`
}

func (QuickMatch) Kind() Kind    { return KindQuickMatch }
func (CreatePrivate) Kind() Kind { return KindCreatePrivate }
func (JoinPrivate) Kind() Kind   { return KindJoinPrivate }
func (Discard) Kind() Kind       { return KindDiscard }
func (PlayCard) Kind() Kind      { return KindPlayCard }
func (SayGo) Kind() Kind         { return KindSayGo }
func (Acknowledge) Kind() Kind   { return KindAcknowledge }
func (Chat) Kind() Kind          { return KindChat }

func (QuickMatch) outbound()    {}
func (CreatePrivate) outbound() {}
func (JoinPrivate) outbound()   {}
func (Discard) outbound()       {}
func (PlayCard) outbound()      {}
func (SayGo) outbound()         {}
func (Acknowledge) outbound()   {}
func (Chat) outbound()          {}

// Inbound is the closed set of server → client messages.
type Inbound interface {
	Kind() Kind
	inbound()
}

type Connected struct{}

type Disconnected struct{}

type Waiting struct {
	Message string `json:"message"`
}

type PrivateCreated struct {
	Code string `json:"code"`
}

type GameStart struct {
	State game.ViewState `json:"state"`
}

type GameStateUpdate struct {
	State game.ViewState `json:"state"`
}

type OpponentDisconnected struct {
	Message string `json:"message"`
}

type ChatReceived struct {
	Message string `json:"message"`
}

type ServerError struct {
	Message string `json:"message"`
}

func (Connected) Kind() Kind            { return KindConnected }
func (Disconnected) Kind() Kind         { return KindDisconnected }
func (Waiting) Kind() Kind              { return KindWaiting }
func (PrivateCreated) Kind() Kind       { return KindPrivateCreated }
func (GameStart) Kind() Kind            { return KindGameStart }
func (GameStateUpdate) Kind() Kind      { return KindGameState }
func (OpponentDisconnected) Kind() Kind { return KindOpponentDisconnected }
func (ChatReceived) Kind() Kind         { return KindChat }
func (ServerError) Kind() Kind          { return KindError }

func (Connected) inbound()            {}
func (Disconnected) inbound()         {}
func (Waiting) inbound()              {}
func (PrivateCreated) inbound()       {}
func (GameStart) inbound()            {}
func (GameStateUpdate) inbound()      {}
func (OpponentDisconnected) inbound() {}
func (ChatReceived) inbound()         {}
func (ServerError) inbound()          {}

var (
	ErrBadFrame    = errors.New("session: frame is not a json object")
	ErrUnknownKind = errors.New("session: unknown message type")
)

// Encode flattens m into {"type": ..., <fields>}.
func Encode(m Outbound) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	typ, _ := json.Marshal(m.Kind())

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 { // not "{}"
		out = append(out, ',')
		out = append(out, body[1:len(body)-1]...)
	}
	out = append(out, '}')
	return out, nil
}

type header struct {
	Type Kind `json:"type"`
}

// Decode parses one inbound frame. Invalid JSON yields ErrBadFrame and an
// unrecognised type ErrUnknownKind; callers drop both.
func Decode(data []byte) (Inbound, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var msg Inbound
	switch h.Type {
	case KindWaiting:
		msg = &Waiting{}
	case KindPrivateCreated:
		msg = &PrivateCreated{}
	case KindGameStart:
		msg = &GameStart{}
	case KindGameState:
		msg = &GameStateUpdate{}
	case KindOpponentDisconnected:
		msg = &OpponentDisconnected{}
	case KindChat:
		msg = &ChatReceived{}
	case KindError:
		msg = &ServerError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, h.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return deref(msg), nil
}

// deref hands out values, so handlers can type-switch on plain structs.
func deref(m Inbound) Inbound {
	switch v := m.(type) {
	case *Waiting:
		return *v
	case *PrivateCreated:
		return *v
	case *GameStart:
		return *v
	case *GameStateUpdate:
		return *v
	case *OpponentDisconnected:
		return *v
	case *ChatReceived:
		return *v
	case *ServerError:
		return *v
	}
	return m
}
