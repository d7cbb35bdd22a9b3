// Package sound names the cues the engine triggers. Synthesis is left to the
// Player implementation supplied by the view layer.
package sound

import (
	"context"
	"log/slog"
	"sync"

	"example.com/cribbage-sync/internal/kv"
)

type Cue string

const (
	CardPlay  Cue = "card_play"
	Shuffle   Cue = "shuffle"
	Fifteen   Cue = "fifteen"    // two notes
	ThirtyOne Cue = "thirty_one" // three notes
	Go        Cue = "go"
	Win       Cue = "win"
	Lose      Cue = "lose"
	Score     Cue = "score"
	Tap       Cue = "tap"
)

// Notes is the number of tones a cue is made of.
func (c Cue) Notes() int {
	switch c {
	case Fifteen, Lose:
		return 2
	case ThirtyOne:
		return 3
	case Win:
		return 4
	}
	return 1
}

type Player interface {
	Play(Cue)
}

type PlayerFunc func(Cue)

func (f PlayerFunc) Play(c Cue) { f(c) }

// LogPlayer writes cues to a logger; used by the terminal client.
type LogPlayer struct {
	Log *slog.Logger
}

func (p LogPlayer) Play(c Cue) {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("sound", "cue", string(c), "notes", c.Notes())
}

const enabledKey = "sound_enabled"

// Toggle gates a Player behind an enabled flag persisted in local storage.
type Toggle struct {
	mu      sync.Mutex
	enabled bool
	kv      kv.Store
	next    Player
	log     *slog.Logger
}

// NewToggle hydrates the flag from store; anything but the literal "false"
// means enabled.
func NewToggle(ctx context.Context, store kv.Store, next Player, log *slog.Logger) *Toggle {
	if log == nil {
		log = slog.Default()
	}
	t := &Toggle{enabled: true, kv: store, next: next, log: log}
	v, ok, err := store.Get(ctx, enabledKey)
	if err != nil {
		log.Warn("sound flag load failed", "err", err)
	}
	if ok && string(v) == "false" {
		t.enabled = false
	}
	return t
}

func (t *Toggle) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Flip inverts the flag, persists it and returns the new value.
func (t *Toggle) Flip(ctx context.Context) bool {
	t.mu.Lock()
	t.enabled = !t.enabled
	next := t.enabled
	t.mu.Unlock()

	val := "false"
	if next {
		val = "true"
	}
	if err := t.kv.Set(ctx, enabledKey, []byte(val)); err != nil {
		t.log.Warn("sound flag save failed", "err", err)
	}
	return next
}

func (t *Toggle) Play(c Cue) {
	if !t.Enabled() || t.next == nil {
		return
	}
	t.next.Play(c)
}
