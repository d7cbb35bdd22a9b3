package replay

import (
	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/sound"
)

// CuesFor picks the cues for one record: the card sound for a play, the go
// sound for a go, then at most one score cue.
func CuesFor(rec game.ActionRecord) []sound.Cue {
	var out []sound.Cue
	switch rec.Action {
	case game.ActionPlay:
		out = append(out, sound.CardPlay)
	case game.ActionGo:
		out = append(out, sound.Go)
	}
	if c, ok := ScoreCue(rec.ScoreEvents); ok {
		out = append(out, c)
	}
	return out
}

// ScoreCue: a fifteen beats a thirty-one, which beats any other points.
func ScoreCue(events []game.ScoreEvent) (sound.Cue, bool) {
	var fifteen, thirtyOne bool
	total := 0
	for _, e := range events {
		switch e.Kind() {
		case game.CategoryFifteen:
			fifteen = true
		case game.CategoryThirtyOne:
			thirtyOne = true
		}
		total += e.Points
	}
	switch {
	case fifteen:
		return sound.Fifteen, true
	case thirtyOne:
		return sound.ThirtyOne, true
	case total > 0:
		return sound.Score, true
	}
	return "", false
}
