package game

import (
	"fmt"
	"slices"
)

// MaxCount is the highest running total a play pile can reach.
const MaxCount = 31

type Suit string

const (
	Hearts   Suit = "Hearts"
	Diamonds Suit = "Diamonds"
	Clubs    Suit = "Clubs"
	Spades   Suit = "Spades"
)

var suitSymbols = map[Suit]string{
	Hearts:   "♥",
	Diamonds: "♦",
	Clubs:    "♣",
	Spades:   "♠",
}

type Card struct {
	Suit  Suit   `json:"suit"`
	Rank  string `json:"rank"`
	Value int    `json:"value"` // A=1, 2-10 face, J/Q/K=10
}

func (c Card) Label() string {
	return c.Rank + suitSymbols[c.Suit]
}

// Same compares rank and suit only.
func (c Card) Same(o Card) bool {
	return c.Rank == o.Rank && c.Suit == o.Suit
}

func (c Card) String() string { return c.Label() }

type Phase string

const (
	PhaseDiscard        Phase = "discard"
	PhasePlay           Phase = "play"
	PhaseCountNonDealer Phase = "count_non_dealer"
	PhaseCountDealer    Phase = "count_dealer"
	PhaseCountCrib      Phase = "count_crib"
	PhaseGameOver       Phase = "game_over"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case Easy, Medium, Hard:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q (want easy|medium|hard)", s)
}

type Action string

const (
	ActionPlay    Action = "play"
	ActionGo      Action = "go"
	ActionScore   Action = "score"
	ActionDiscard Action = "discard"
)

type ScoreEvent struct {
	Player   string   `json:"player"`
	Points   int      `json:"points"`
	Reason   string   `json:"reason"`
	Category Category `json:"category,omitempty"`
}

// ActionRecord is one discrete event of a batch update.
type ActionRecord struct {
	Actor       string       `json:"actor"`
	Action      Action       `json:"action"`
	Card        *Card        `json:"card,omitempty"`
	ScoreEvents []ScoreEvent `json:"score_events"`
	Message     string       `json:"message"`
}

// Points sums the points of all score events.
func (r ActionRecord) Points() int {
	n := 0
	for _, e := range r.ScoreEvents {
		n += e.Points
	}
	return n
}

type PlayerView struct {
	Name     string `json:"name"`
	Hand     []Card `json:"hand"`
	Score    int    `json:"score"`
	IsDealer bool   `json:"is_dealer"`
}

type OpponentView struct {
	Name      string `json:"name"`
	HandCount int    `json:"hand_count"`
	Score     int    `json:"score"`
	IsDealer  bool   `json:"is_dealer"`
}

type ScoreBreakdown struct {
	Hand    []Card       `json:"hand"`
	Starter Card         `json:"starter"`
	Items   []ScoreEvent `json:"items"`
	Total   int          `json:"total"`
}

// ViewState is the displayed snapshot of one game. It is replaced wholesale on
// each update; use Clone before deriving a new state from an old one.
type ViewState struct {
	GameID         string          `json:"game_id"`
	Phase          Phase           `json:"phase"`
	Player         PlayerView      `json:"player"`
	Opponent       OpponentView    `json:"opponent"`
	Starter        *Card           `json:"starter,omitempty"`
	CribCount      int             `json:"crib_count"`
	PlayPile       []Card          `json:"play_pile"`
	RunningTotal   int             `json:"running_total"`
	LastAction     *ActionRecord   `json:"last_action,omitempty"`
	ActionLog      []ActionRecord  `json:"action_log"`
	ScoreBreakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
	Winner         string          `json:"winner,omitempty"`
	RoundNumber    int             `json:"round_number"`
	YourTurn       bool            `json:"your_turn"`
}

func (s ViewState) GameOver() bool {
	return s.Winner != "" || s.Phase == PhaseGameOver
}

// Clone returns a deep copy so the result can be modified without touching s.
func (s ViewState) Clone() ViewState {
	out := s
	out.Player.Hand = cloneCards(s.Player.Hand)
	out.PlayPile = cloneCards(s.PlayPile)
	if s.Starter != nil {
		c := *s.Starter
		out.Starter = &c
	}
	if s.LastAction != nil {
		a := s.LastAction.Clone()
		out.LastAction = &a
	}
	if s.ActionLog != nil {
		out.ActionLog = make([]ActionRecord, len(s.ActionLog))
		for i, r := range s.ActionLog {
			out.ActionLog[i] = r.Clone()
		}
	}
	if s.ScoreBreakdown != nil {
		b := *s.ScoreBreakdown
		b.Hand = cloneCards(b.Hand)
		b.Items = slices.Clone(b.Items)
		out.ScoreBreakdown = &b
	}
	return out
}

func (r ActionRecord) Clone() ActionRecord {
	out := r
	if r.Card != nil {
		c := *r.Card
		out.Card = &c
	}
	out.ScoreEvents = slices.Clone(r.ScoreEvents)
	return out
}

func cloneCards(cs []Card) []Card {
	return slices.Clone(cs)
}

// PileTotal sums card values.
func PileTotal(cards []Card) int {
	n := 0
	for _, c := range cards {
		n += c.Value
	}
	return n
}

// BatchUpdate is an authoritative state plus the ordered records that produced
// it from the previously displayed state.
type BatchUpdate struct {
	Final   ViewState
	Records []ActionRecord
}

// NewBatch builds a batch from a state whose action log carries the records
// produced since the previous update.
func NewBatch(s ViewState) BatchUpdate {
	return BatchUpdate{Final: s, Records: s.ActionLog}
}
