package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"example.com/cribbage-sync/internal/app"
	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/lobby"
	"example.com/cribbage-sync/internal/solo"
)

// terminal serialises output from the replay timers and the command loop.
type terminal struct {
	mu  sync.Mutex
	out io.Writer

	lastStatus lobby.Status
	lastError  string
	chatSeen   int
	lastCode   string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) show(s game.ViewState) {
	t.printf("%s", renderState(s))
}

func renderState(s game.ViewState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[round %d · %s] %s %d  %s %d\n",
		s.RoundNumber, s.Phase, s.Player.Name, s.Player.Score, s.Opponent.Name, s.Opponent.Score)
	if s.Starter != nil {
		fmt.Fprintf(&b, "starter %s", s.Starter.Label())
		if s.Player.IsDealer {
			b.WriteString(" · your crib")
		}
		b.WriteString("\n")
	}
	if len(s.PlayPile) > 0 || s.Phase == game.PhasePlay {
		fmt.Fprintf(&b, "pile %s = %d\n", cards(s.PlayPile), s.RunningTotal)
	}
	if s.LastAction != nil && s.LastAction.Message != "" {
		fmt.Fprintf(&b, "> %s\n", s.LastAction.Message)
	}
	if sb := s.ScoreBreakdown; sb != nil {
		fmt.Fprintf(&b, "count %s + %s\n", cards(sb.Hand), sb.Starter.Label())
		for _, it := range sb.Items {
			fmt.Fprintf(&b, "  %-20s %d\n", it.Reason, it.Points)
		}
		fmt.Fprintf(&b, "  total %d\n", sb.Total)
	}
	hand := make([]string, len(s.Player.Hand))
	for i, c := range s.Player.Hand {
		hand[i] = fmt.Sprintf("%d:%s", i+1, c.Label())
	}
	fmt.Fprintf(&b, "hand %s  (opponent holds %d)\n", strings.Join(hand, " "), s.Opponent.HandCount)
	switch {
	case s.Winner != "":
		fmt.Fprintf(&b, "*** %s wins ***\n", s.Winner)
	case s.YourTurn:
		b.WriteString("your turn\n")
	}
	return b.String()
}

func cards(cs []game.Card) string {
	if len(cs) == 0 {
		return "-"
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label()
	}
	return strings.Join(out, " ")
}

func (t *terminal) soloStatus(s solo.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Error != "" && s.Error != t.lastError {
		fmt.Fprintf(t.out, "! %s\n", s.Error)
	}
	t.lastError = s.Error
}

func (t *terminal) lobbyStatus(s lobby.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Status != t.lastStatus {
		switch s.Status {
		case lobby.StatusConnecting:
			fmt.Fprintln(t.out, "connecting...")
		case lobby.StatusWaiting:
			fmt.Fprintln(t.out, "waiting for an opponent")
		case lobby.StatusInGame:
			fmt.Fprintln(t.out, "game on")
		case lobby.StatusIdle:
			fmt.Fprintln(t.out, "disconnected")
		}
		t.lastStatus = s.Status
	}
	if s.JoinCode != "" && s.JoinCode != t.lastCode {
		fmt.Fprintf(t.out, "join code: %s\n", s.JoinCode)
	}
	t.lastCode = s.JoinCode
	if s.Error != "" && s.Error != t.lastError {
		fmt.Fprintf(t.out, "! %s\n", s.Error)
	}
	t.lastError = s.Error
	if len(s.Chat) < t.chatSeen {
		t.chatSeen = 0
	}
	for _, line := range s.Chat[t.chatSeen:] {
		if line.Author == lobby.AuthorOpponent {
			fmt.Fprintf(t.out, "opponent: %s\n", line.Text)
		}
	}
	t.chatSeen = len(s.Chat)
}

func printStats(ctx context.Context, client *app.Client, player string, t *terminal) error {
	client.Stats.LoadStats(ctx, player)
	client.Stats.Wait()
	agg, _ := client.Stats.Current()

	t.printf("%s: %d games, %d wins, %d losses (%.1f%%)\n", agg.PlayerName, agg.Games, agg.Wins, agg.Losses, agg.WinRate)
	t.printf("avg hand %.1f · avg crib %.1f · best hand %d · points %d\n",
		agg.AvgHandScore, agg.AvgCribScore, agg.BestHand, agg.TotalPoints)
	t.printf("streak %d · best win streak %d\n", agg.CurrentStreak, agg.BestWinStreak)
	for _, d := range agg.PerDifficulty {
		t.printf("  %-12s %d games, %d wins (%.1f%%)\n", d.Difficulty, d.Games, d.Wins, d.WinRate)
	}
	return nil
}
