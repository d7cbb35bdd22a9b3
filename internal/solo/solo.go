// Package solo runs a game against the computer over the request/response
// API. Each answer is replayed like a multiplayer update.
package solo

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/replay"
	"example.com/cribbage-sync/internal/sound"
	"example.com/cribbage-sync/internal/stats"
)

var (
	ErrBusy      = errors.New("solo: request already in progress")
	ErrNoGame    = errors.New("solo: no game in progress")
	ErrSelection = errors.New("solo: select exactly two cards to discard")
)

// DiscardCount is how many cards go to the crib in a two-player game.
const DiscardCount = 2

// Backend is the game half of the HTTP API.
type Backend interface {
	NewGame(ctx context.Context, playerName string, d game.Difficulty) (game.ViewState, error)
	GetGame(ctx context.Context, gameID string) (game.ViewState, error)
	Discard(ctx context.Context, gameID string, indices []int) (game.ViewState, error)
	PlayCard(ctx context.Context, gameID string, idx int) (game.ViewState, error)
	SayGo(ctx context.Context, gameID string) (game.ViewState, error)
	Acknowledge(ctx context.Context, gameID string) (game.ViewState, error)
}

type Recorder interface {
	RecordGame(ctx context.Context, res stats.GameResult) (stats.Aggregate, error)
}

// State is a copy of the controller's observable state.
type State struct {
	Game       *game.ViewState // displayed
	Busy       bool
	Error      string
	Selected   []int
	Difficulty game.Difficulty
}

type Option func(*Controller)

func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

func WithSound(p sound.Player) Option { return func(c *Controller) { c.sound = p } }

func WithLogger(log *slog.Logger) Option { return func(c *Controller) { c.log = log } }

func WithView(f func(game.ViewState)) Option { return func(c *Controller) { c.view = f } }

type Controller struct {
	api      Backend
	replayer *replay.Replayer
	recorder Recorder
	sound    sound.Player
	view     func(game.ViewState)
	log      *slog.Logger

	mu         sync.Mutex
	difficulty game.Difficulty
	current    *game.ViewState // authoritative
	shown      *game.ViewState
	busy       bool
	err        string
	selected   []int
	recorded   bool
	tally      *stats.Tally
	onChange   []func(State)
}

func New(api Backend, rp *replay.Replayer, d game.Difficulty, opts ...Option) *Controller {
	if d == "" {
		d = game.Easy
	}
	c := &Controller{
		api:        api,
		replayer:   rp,
		log:        slog.Default(),
		difficulty: d,
		tally:      stats.NewTally(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) OnChange(f func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, f)
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	st := State{
		Busy:       c.busy,
		Error:      c.err,
		Selected:   slices.Clone(c.selected),
		Difficulty: c.difficulty,
	}
	if c.shown != nil {
		g := c.shown.Clone()
		st.Game = &g
	}
	return st
}

// SetDifficulty applies to the next NewGame.
func (c *Controller) SetDifficulty(d game.Difficulty) {
	c.mutate(func() { c.difficulty = d })
}

// Toggle adds idx to the discard selection, or removes it if present.
func (c *Controller) Toggle(idx int) {
	c.cue(sound.Tap)
	c.mutate(func() {
		if i := slices.Index(c.selected, idx); i >= 0 {
			c.selected = slices.Delete(c.selected, i, i+1)
			return
		}
		c.selected = append(c.selected, idx)
	})
}

func (c *Controller) ClearSelection() {
	c.mutate(func() { c.selected = nil })
}

func (c *Controller) NewGame(ctx context.Context, name string) error {
	if err := c.begin(); err != nil {
		return err
	}
	c.mutate(func() { c.selected = nil })

	c.mu.Lock()
	d := c.difficulty
	c.mu.Unlock()

	st, err := c.api.NewGame(ctx, name, d)
	if err != nil {
		return c.fail(err)
	}
	c.cue(sound.Shuffle)
	c.reset(st)
	return nil
}

// Resume shows an existing game as-is.
func (c *Controller) Resume(ctx context.Context, gameID string) error {
	if err := c.begin(); err != nil {
		return err
	}
	st, err := c.api.GetGame(ctx, gameID)
	if err != nil {
		return c.fail(err)
	}
	c.reset(st)
	return nil
}

func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	sel := slices.Clone(c.selected)
	c.mu.Unlock()
	if len(sel) != DiscardCount {
		return ErrSelection
	}

	id, err := c.beginInGame()
	if err != nil {
		return err
	}
	st, err := c.api.Discard(ctx, id, sel)
	if err != nil {
		return c.fail(err)
	}
	c.cue(sound.Shuffle)
	c.mutate(func() { c.selected = nil })
	c.apply(st)
	return nil
}

func (c *Controller) PlayCard(ctx context.Context, idx int) error {
	return c.call(ctx, func(ctx context.Context, id string) (game.ViewState, error) {
		return c.api.PlayCard(ctx, id, idx)
	})
}

func (c *Controller) SayGo(ctx context.Context) error {
	return c.call(ctx, c.api.SayGo)
}

func (c *Controller) Acknowledge(ctx context.Context) error {
	return c.call(ctx, c.api.Acknowledge)
}

func (c *Controller) call(ctx context.Context, f func(context.Context, string) (game.ViewState, error)) error {
	id, err := c.beginInGame()
	if err != nil {
		return err
	}
	st, err := f(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	c.apply(st)
	return nil
}

// begin takes the busy flag and clears the previous error.
func (c *Controller) begin() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.err = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) beginInGame() (string, error) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return "", ErrNoGame
	}
	id := c.current.GameID
	c.mu.Unlock()

	if err := c.begin(); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Controller) fail(err error) error {
	c.log.Debug("game request failed", "err", err)
	c.mutate(func() {
		c.busy = false
		c.err = err.Error()
	})
	return err
}

// reset installs st as a fresh game without a replay.
func (c *Controller) reset(st game.ViewState) {
	c.replayer.Cancel()
	c.mu.Lock()
	cur := st.Clone()
	shown := st.Clone()
	c.current, c.shown = &cur, &shown
	c.busy = false
	c.recorded = false
	c.tally.Reset()
	c.tally.Observe(st)
	c.mu.Unlock()

	c.notify()
	if c.view != nil {
		c.view(st)
	}
}

// apply replays st against the previous authoritative state. The busy flag is
// held until the replay has drained.
func (c *Controller) apply(st game.ViewState) {
	c.mu.Lock()
	prior := game.ViewState{}
	if c.current != nil {
		prior = c.current.Clone()
	}
	cur := st.Clone()
	c.current = &cur
	c.tally.Observe(st)

	var res *stats.GameResult
	if st.Winner != "" && !c.recorded {
		c.recorded = true
		r := c.tally.Result(st, string(c.difficulty), stats.ModeSingle)
		res = &r
	}
	c.mu.Unlock()

	done := c.replayer.Replay(prior, game.NewBatch(st), func(v game.ViewState) {
		c.mutate(func() {
			shown := v.Clone()
			c.shown = &shown
		})
		if c.view != nil {
			c.view(v)
		}
	}, c.cue)

	select {
	case <-done:
		c.idle()
	default:
		go func() {
			<-done
			c.idle()
		}()
	}

	if res != nil && c.recorder != nil {
		if _, err := c.recorder.RecordGame(context.Background(), *res); err != nil {
			c.log.Warn("record game failed", "err", err)
		}
	}
}

func (c *Controller) idle() {
	c.mutate(func() { c.busy = false })
}

func (c *Controller) cue(s sound.Cue) {
	if c.sound != nil {
		c.sound.Play(s)
	}
}

func (c *Controller) mutate(f func()) {
	c.mu.Lock()
	f()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	subs := slices.Clone(c.onChange)
	c.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
}
