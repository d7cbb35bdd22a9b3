package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/cribbage-sync/internal/stats"
)

// ResultStore keeps one row per finished game in Postgres.
type ResultStore struct {
	db *pgxpool.Pool
}

func NewResultStore(db *pgxpool.Pool) *ResultStore {
	return &ResultStore{db: db}
}

// Insert stores res and returns the new row id.
func (s *ResultStore) Insert(ctx context.Context, res stats.GameResult) (uuid.UUID, error) {
	hand, err := json.Marshal(nonNil(res.HandScores))
	if err != nil {
		return uuid.Nil, err
	}
	crib, err := json.Marshal(nonNil(res.CribScores))
	if err != nil {
		return uuid.Nil, err
	}

	var difficulty *string
	if res.AIDifficulty != "" {
		difficulty = &res.AIDifficulty
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx, `
		INSERT INTO game_results
			(id, player_name, opponent_name, player_score, opponent_score, won,
			 ai_difficulty, game_mode, hand_scores, crib_scores,
			 highest_hand_score, total_points_scored, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, id, res.PlayerName, res.OpponentName, res.PlayerScore, res.OpponentScore, res.Won,
		difficulty, string(res.GameMode), hand, crib,
		res.HighestHandScore, res.TotalPointsScored, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert game result: %w", err)
	}
	return id, nil
}

// ListByPlayer returns the player's results in insertion order.
func (s *ResultStore) ListByPlayer(ctx context.Context, playerName string) ([]stats.GameResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT player_name, opponent_name, player_score, opponent_score, won,
		       ai_difficulty, game_mode, hand_scores, crib_scores,
		       highest_hand_score, total_points_scored
		FROM game_results
		WHERE player_name = $1
		ORDER BY seq ASC
	`, playerName)
	if err != nil {
		return nil, fmt.Errorf("list game results: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stats.GameResult, error) {
		var (
			r          stats.GameResult
			difficulty *string
			mode       string
			hand, crib []byte
		)
		if err := row.Scan(&r.PlayerName, &r.OpponentName, &r.PlayerScore, &r.OpponentScore, &r.Won,
			&difficulty, &mode, &hand, &crib, &r.HighestHandScore, &r.TotalPointsScored); err != nil {
			return stats.GameResult{}, err
		}
		if difficulty != nil {
			r.AIDifficulty = *difficulty
		}
		r.GameMode = stats.Mode(mode)
		if err := json.Unmarshal(hand, &r.HandScores); err != nil {
			return stats.GameResult{}, fmt.Errorf("hand_scores: %w", err)
		}
		if err := json.Unmarshal(crib, &r.CribScores); err != nil {
			return stats.GameResult{}, fmt.Errorf("crib_scores: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan game results: %w", err)
	}
	return out, nil
}

func nonNil(xs []int) []int {
	if xs == nil {
		return []int{}
	}
	return xs
}
