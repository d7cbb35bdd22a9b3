package game

import "strings"

// Category is the scoring category of a score event.
type Category string

const (
	CategoryFifteen   Category = "fifteen"
	CategoryPair      Category = "pair"
	CategoryRun       Category = "run"
	CategoryFlush     Category = "flush"
	CategoryNobs      Category = "nobs"
	CategoryGo        Category = "go"
	CategoryLastCard  Category = "last_card"
	CategoryThirtyOne Category = "thirty_one"
	CategoryOther     Category = "other"
)

// Kind returns the tagged category, falling back to a best-effort guess from
// the free-text reason when the server sent none.
func (e ScoreEvent) Kind() Category {
	if e.Category != "" {
		return e.Category
	}
	return CategoryOf(e.Reason)
}

// CategoryOf guesses a category from reason text such as "15 for 2",
// "Pair for 2" or "31 for 2". "15" is checked before "31".
func CategoryOf(reason string) Category {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "15"):
		return CategoryFifteen
	case strings.Contains(r, "31"):
		return CategoryThirtyOne
	case strings.Contains(r, "last card"):
		return CategoryLastCard
	case strings.Contains(r, "go"):
		return CategoryGo
	case strings.Contains(r, "pair"):
		return CategoryPair
	case strings.Contains(r, "run"):
		return CategoryRun
	case strings.Contains(r, "flush"):
		return CategoryFlush
	case strings.Contains(r, "nob"):
		return CategoryNobs
	}
	return CategoryOther
}
