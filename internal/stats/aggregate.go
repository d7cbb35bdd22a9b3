// Package stats keeps a player's lifetime statistics: the aggregate and its
// merge rules, a per-game tally and the local/remote reconciler.
package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"example.com/cribbage-sync/internal/game"
)

// MultiplayerKey is the per-difficulty bucket for games without an AI.
const MultiplayerKey = "multiplayer"

type Mode string

const (
	ModeSingle      Mode = "single"
	ModeMultiplayer Mode = "multiplayer"
)

type DifficultyStats struct {
	Difficulty string  `json:"difficulty"`
	Games      int     `json:"games"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	WinRate    float64 `json:"win_rate"`
}

// Aggregate is the lifetime summary for one player. Rates are percentages and
// averages are rounded to one decimal; the *Sum/*Samples fields keep the exact
// values the averages are derived from.
type Aggregate struct {
	PlayerName    string            `json:"player_name"`
	Games         int               `json:"games"`
	Wins          int               `json:"wins"`
	Losses        int               `json:"losses"`
	WinRate       float64           `json:"win_rate"`
	AvgHandScore  float64           `json:"avg_hand_score"`
	AvgCribScore  float64           `json:"avg_crib_score"`
	BestHand      int               `json:"best_hand"`
	TotalPoints   int               `json:"total_points"`
	CurrentStreak int               `json:"current_streak"` // >0 wins, <0 losses
	BestWinStreak int               `json:"best_win_streak"`
	PerDifficulty []DifficultyStats `json:"per_difficulty"`

	HandScoreSum int `json:"hand_score_sum,omitempty"`
	HandSamples  int `json:"hand_samples,omitempty"`
	CribScoreSum int `json:"crib_score_sum,omitempty"`
	CribSamples  int `json:"crib_samples,omitempty"`
}

// Empty is the zero aggregate for name.
func Empty(name string) Aggregate {
	return Aggregate{PlayerName: name, PerDifficulty: []DifficultyStats{}}
}

func (a Aggregate) Clone() Aggregate {
	out := a
	out.PerDifficulty = slices.Clone(a.PerDifficulty)
	if out.PerDifficulty == nil {
		out.PerDifficulty = []DifficultyStats{}
	}
	return out
}

// GameResult is the record of one finished game, as sent to the stats server.
type GameResult struct {
	PlayerName        string `json:"player_name"`
	OpponentName      string `json:"opponent_name"`
	PlayerScore       int    `json:"player_score"`
	OpponentScore     int    `json:"opponent_score"`
	Won               bool   `json:"won"`
	AIDifficulty      string `json:"ai_difficulty,omitempty"`
	GameMode          Mode   `json:"game_mode"`
	HandScores        []int  `json:"hand_scores"`
	CribScores        []int  `json:"crib_scores"`
	HighestHandScore  int    `json:"highest_hand_score"`
	TotalPointsScored int    `json:"total_points_scored"`
}

var ErrInvalidResult = errors.New("invalid game result")

func (r GameResult) Validate() error {
	if strings.TrimSpace(r.PlayerName) == "" {
		return fmt.Errorf("%w: player_name is required", ErrInvalidResult)
	}
	switch r.GameMode {
	case ModeSingle, ModeMultiplayer:
	default:
		return fmt.Errorf("%w: game_mode %q", ErrInvalidResult, r.GameMode)
	}
	if r.AIDifficulty != "" {
		if _, err := game.ParseDifficulty(r.AIDifficulty); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResult, err)
		}
	}
	if r.PlayerScore < 0 || r.OpponentScore < 0 || r.TotalPointsScored < 0 || r.HighestHandScore < 0 {
		return fmt.Errorf("%w: negative score", ErrInvalidResult)
	}
	return nil
}

// DifficultyKey is the per-difficulty bucket the result counts towards.
func (r GameResult) DifficultyKey() string {
	if r.AIDifficulty != "" {
		return r.AIDifficulty
	}
	return MultiplayerKey
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func rate(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	return round1(float64(wins) / float64(games) * 100)
}

func avg(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return round1(float64(sum) / float64(n))
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}
