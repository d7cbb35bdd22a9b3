package stats

import (
	"math"
	"slices"
	"strings"
)

// Merge folds one finished game into prev and returns the new aggregate. prev
// is not modified.
func Merge(prev Aggregate, res GameResult) Aggregate {
	out := prev.Clone()
	if out.PlayerName == "" {
		out.PlayerName = res.PlayerName
	}
	out.upgradeSamples()

	out.Games++
	if res.Won {
		out.Wins++
	}
	out.Losses = out.Games - out.Wins
	out.WinRate = rate(out.Wins, out.Games)

	out.HandScoreSum += sum(res.HandScores)
	out.HandSamples += len(res.HandScores)
	out.CribScoreSum += sum(res.CribScores)
	out.CribSamples += len(res.CribScores)
	out.AvgHandScore = avg(out.HandScoreSum, out.HandSamples)
	out.AvgCribScore = avg(out.CribScoreSum, out.CribSamples)

	out.BestHand = max(out.BestHand, res.HighestHandScore)
	out.TotalPoints += res.TotalPointsScored

	switch {
	case res.Won && out.CurrentStreak > 0:
		out.CurrentStreak++
	case res.Won:
		out.CurrentStreak = 1
	case out.CurrentStreak < 0:
		out.CurrentStreak--
	default:
		out.CurrentStreak = -1
	}
	out.BestWinStreak = max(out.BestWinStreak, out.CurrentStreak)

	key := res.DifficultyKey()
	i := slices.IndexFunc(out.PerDifficulty, func(d DifficultyStats) bool { return d.Difficulty == key })
	if i < 0 {
		out.PerDifficulty = append(out.PerDifficulty, DifficultyStats{Difficulty: key})
		i = len(out.PerDifficulty) - 1
	}
	d := &out.PerDifficulty[i]
	d.Games++
	if res.Won {
		d.Wins++
	}
	d.Losses = d.Games - d.Wins
	d.WinRate = rate(d.Wins, d.Games)

	return out
}

// upgradeSamples back-derives sample counts for a blob that only carries
// averages: two hands and one crib per game. Blobs with counts are exact.
func (a *Aggregate) upgradeSamples() {
	if a.HandSamples == 0 && a.AvgHandScore > 0 && a.Games > 0 {
		a.HandSamples = a.Games * 2
		a.HandScoreSum = int(math.Round(a.AvgHandScore * float64(a.HandSamples)))
	}
	if a.CribSamples == 0 && a.AvgCribScore > 0 && a.Games > 0 {
		a.CribSamples = a.Games
		a.CribScoreSum = int(math.Round(a.AvgCribScore * float64(a.CribSamples)))
	}
}

// Fold replays results in order on top of an empty aggregate. Difficulty
// buckets come out sorted by key.
func Fold(name string, results []GameResult) Aggregate {
	agg := Empty(name)
	for _, r := range results {
		agg = Merge(agg, r)
	}
	slices.SortFunc(agg.PerDifficulty, func(a, b DifficultyStats) int {
		return strings.Compare(a.Difficulty, b.Difficulty)
	})
	return agg
}
