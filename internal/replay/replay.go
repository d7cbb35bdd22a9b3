// Package replay turns one authoritative batch update into a timed sequence
// of intermediate view states, so an opponent's turn unfolds card by card.
package replay

import (
	"log/slog"
	"math/rand/v2"
	"reflect"
	"sync"
	"time"

	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/sound"
)

type Config struct {
	MinDelay     time.Duration // "thinking" jitter window
	MaxDelay     time.Duration
	HistoryLimit int // rolling action history kept on projected states
}

func DefaultConfig() Config {
	return Config{
		MinDelay:     800 * time.Millisecond,
		MaxDelay:     1200 * time.Millisecond,
		HistoryLimit: 20,
	}
}

type Timer interface {
	Stop() bool
}

// Clock schedules callbacks; tests swap in a manual one.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type (
	EmitFunc func(game.ViewState)
	CueFunc  func(sound.Cue)
)

type Option func(*Replayer)

func WithClock(c Clock) Option { return func(r *Replayer) { r.clock = c } }

// WithRand sets the jitter source; f returns a value in [0,1).
func WithRand(f func() float64) Option { return func(r *Replayer) { r.rnd = f } }

func WithLogger(l *slog.Logger) Option { return func(r *Replayer) { r.log = l } }

// Replayer schedules one replay at a time. Starting a new replay (or calling
// Cancel) bumps the generation; callbacks of an older generation do nothing.
type Replayer struct {
	cfg   Config
	clock Clock
	rnd   func() float64
	log   *slog.Logger

	// emitMu orders generation changes against emission: a step either emits
	// before a newer Replay or Cancel takes effect, or sees the new generation.
	// Emit and cue callbacks must not call Replay or Cancel.
	emitMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	active *run
	timer  Timer
}

func New(cfg Config, opts ...Option) *Replayer {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	r := &Replayer{
		cfg:   cfg,
		clock: realClock{},
		rnd:   rand.Float64,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Replay re-enacts upd starting from prior. emit receives every intermediate
// state and finally upd.Final verbatim; cue receives sound cues. The returned
// channel is closed once the replay finished or was superseded.
func (r *Replayer) Replay(prior game.ViewState, upd game.BatchUpdate, emit EmitFunc, cue CueFunc) <-chan struct{} {
	if emit == nil {
		emit = func(game.ViewState) {}
	}
	if cue == nil {
		cue = func(sound.Cue) {}
	}

	rn := &run{
		r:     r,
		local: prior.Player.Name,
		prior: prior,
		proj:  prior.Clone(),
		upd:   upd,
		emit:  emit,
		cue:   cue,
		done:  make(chan struct{}),
	}

	r.emitMu.Lock()
	r.mu.Lock()
	r.supersedeLocked()
	r.gen++
	rn.gen = r.gen
	r.active = rn
	r.mu.Unlock()
	r.emitMu.Unlock()

	if len(upd.Records) == 0 {
		rn.single()
		return rn.done
	}

	r.log.Debug("replay started", "game", upd.Final.GameID, "records", len(upd.Records), "gen", rn.gen)
	rn.schedule(0)
	return rn.done
}

// Cancel drops any pending replay without emitting its remaining states.
func (r *Replayer) Cancel() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supersedeLocked()
	r.gen++
}

func (r *Replayer) supersedeLocked() {
	if r.timer != nil {
		if r.timer.Stop() && r.active != nil {
			// callback will never run
			r.active.finish()
		}
		r.timer = nil
	}
	r.active = nil
}

func (r *Replayer) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

func (r *Replayer) jitter() time.Duration {
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	return r.cfg.MinDelay + time.Duration(r.rnd()*float64(span))
}

type run struct {
	r     *Replayer
	gen   uint64
	local string

	prior game.ViewState
	proj  game.ViewState
	upd   game.BatchUpdate

	emit EmitFunc
	cue  CueFunc

	localShown bool
	once       sync.Once
	done       chan struct{}
}

func (rn *run) finish() {
	rn.once.Do(func() { close(rn.done) })
}

// single handles a batch without records: the state already reflects the
// action, so it is shown at once.
func (rn *run) single() {
	defer rn.finish()

	rn.r.emitMu.Lock()
	defer rn.r.emitMu.Unlock()
	if !rn.r.current(rn.gen) {
		return
	}
	final := rn.upd.Final
	if final.LastAction != nil && !reflect.DeepEqual(final.LastAction, rn.prior.LastAction) {
		rn.playCues(CuesFor(*final.LastAction))
	}
	rn.emit(final)
	rn.gameOver()
}

func (rn *run) schedule(i int) {
	rec := rn.upd.Records[i]

	var d time.Duration
	if rec.Actor == rn.local && !rn.localShown {
		rn.localShown = true
	} else {
		d = rn.r.jitter()
	}

	if d == 0 {
		rn.step(i)
		return
	}

	rn.r.mu.Lock()
	defer rn.r.mu.Unlock()
	if rn.r.gen != rn.gen {
		rn.finish()
		return
	}
	rn.r.timer = rn.r.clock.AfterFunc(d, func() { rn.step(i) })
}

func (rn *run) step(i int) {
	rn.r.emitMu.Lock()
	if !rn.r.current(rn.gen) {
		rn.r.emitMu.Unlock()
		rn.r.log.Debug("stale replay step dropped", "gen", rn.gen, "index", i)
		rn.finish()
		return
	}

	rec := rn.upd.Records[i]
	shown := rn.apply(rec)
	rn.playCues(CuesFor(rec))

	last := i == len(rn.upd.Records)-1
	if last {
		rn.emit(rn.upd.Final)
		rn.gameOver()
	} else {
		rn.emit(shown)
	}
	rn.r.emitMu.Unlock()

	if last {
		rn.finish()
		return
	}
	rn.schedule(i + 1)
}

func (rn *run) gameOver() {
	final := rn.upd.Final
	if final.Winner == "" || rn.prior.Winner != "" {
		return
	}
	if final.Winner == final.Player.Name {
		rn.cue(sound.Win)
	} else {
		rn.cue(sound.Lose)
	}
}

func (rn *run) playCues(cues []sound.Cue) {
	for _, c := range cues {
		rn.cue(c)
	}
}

// apply advances the projection by one record and returns the state to show.
// A count that reaches 31 is shown, then cleared for the next record.
func (rn *run) apply(rec game.ActionRecord) game.ViewState {
	next := rn.proj.Clone()

	if rec.Action == game.ActionPlay && rec.Card != nil {
		card := *rec.Card
		if next.RunningTotal+card.Value > game.MaxCount {
			next.PlayPile = []game.Card{}
			next.RunningTotal = 0
		} else {
			next.PlayPile = append(next.PlayPile, card)
			next.RunningTotal += card.Value
		}
		if rec.Actor == rn.local {
			next.Player.Hand = removeCard(next.Player.Hand, card)
		} else if next.Opponent.HandCount > 0 {
			next.Opponent.HandCount--
		}
	}

	for _, ev := range rec.ScoreEvents {
		switch ev.Player {
		case next.Player.Name:
			next.Player.Score += ev.Points
		case next.Opponent.Name:
			next.Opponent.Score += ev.Points
		}
	}

	last := rec.Clone()
	next.LastAction = &last
	next.ActionLog = append(next.ActionLog, last)
	if n := len(next.ActionLog) - rn.r.cfg.HistoryLimit; n > 0 {
		next.ActionLog = next.ActionLog[n:]
	}

	rn.proj = next
	if next.RunningTotal >= game.MaxCount {
		rn.proj = next.Clone()
		rn.proj.PlayPile = []game.Card{}
		rn.proj.RunningTotal = 0
	}
	return next
}

func removeCard(hand []game.Card, c game.Card) []game.Card {
	for i, h := range hand {
		if h.Same(c) {
			return append(hand[:i:i], hand[i+1:]...)
		}
	}
	return hand
}
