package stats

import (
	"slices"
	"sync"

	"example.com/cribbage-sync/internal/game"
)

type tallyKey struct {
	round int
	phase game.Phase
}

// Tally collects the local player's hand and crib counts over one game from
// the authoritative states it is shown. Each (round, phase) counts once.
type Tally struct {
	mu   sync.Mutex
	seen map[tallyKey]bool
	hand []int
	crib []int
	best int
}

func NewTally() *Tally {
	return &Tally{seen: make(map[tallyKey]bool)}
}

func (t *Tally) Observe(s game.ViewState) {
	if s.ScoreBreakdown == nil {
		return
	}
	mine, crib := false, false
	switch s.Phase {
	case game.PhaseCountNonDealer:
		mine = !s.Player.IsDealer
	case game.PhaseCountDealer:
		mine = s.Player.IsDealer
	case game.PhaseCountCrib:
		mine, crib = s.Player.IsDealer, true
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	k := tallyKey{round: s.RoundNumber, phase: s.Phase}
	if t.seen[k] {
		return
	}
	t.seen[k] = true
	if !mine {
		return
	}

	total := s.ScoreBreakdown.Total
	if crib {
		t.crib = append(t.crib, total)
		return
	}
	t.hand = append(t.hand, total)
	t.best = max(t.best, total)
}

// Result builds the record of the finished game shown by final.
func (t *Tally) Result(final game.ViewState, difficulty string, mode Mode) GameResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	hand := slices.Clone(t.hand)
	if hand == nil {
		hand = []int{}
	}
	crib := slices.Clone(t.crib)
	if crib == nil {
		crib = []int{}
	}
	return GameResult{
		PlayerName:        final.Player.Name,
		OpponentName:      final.Opponent.Name,
		PlayerScore:       final.Player.Score,
		OpponentScore:     final.Opponent.Score,
		Won:               final.Winner != "" && final.Winner == final.Player.Name,
		AIDifficulty:      difficulty,
		GameMode:          mode,
		HandScores:        hand,
		CribScores:        crib,
		HighestHandScore:  t.best,
		TotalPointsScored: final.Player.Score,
	}
}

func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.seen)
	t.hand, t.crib, t.best = nil, nil, 0
}
