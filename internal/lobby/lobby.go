// Package lobby drives one multiplayer session: matchmaking intents, the
// in-game message flow and the chat transcript, on top of a session channel.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/replay"
	"example.com/cribbage-sync/internal/session"
	"example.com/cribbage-sync/internal/sound"
	"example.com/cribbage-sync/internal/stats"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusWaiting    Status = "waiting"
	StatusInGame     Status = "in_game"
)

const (
	ErrTextConnectionLost = "Connection lost"
	ErrTextNotConnected   = "not connected"
)

// JoinCodeLen is the length of a private match code.
const JoinCodeLen = 6

var ErrBadJoinCode = errors.New("lobby: join code must be 6 letters or digits")

type Author string

const (
	AuthorSelf     Author = "self"
	AuthorOpponent Author = "opponent"
)

type ChatLine struct {
	Author Author
	Text   string
}

// Session is a copy of the lobby's observable state.
type Session struct {
	Status   Status
	JoinCode string
	Error    string
	// State is the latest authoritative game state; Displayed is what the
	// replay currently shows.
	State     *game.ViewState
	Displayed *game.ViewState
	Chat      []ChatLine
}

func (s Session) clone() Session {
	out := s
	if s.State != nil {
		st := s.State.Clone()
		out.State = &st
	}
	if s.Displayed != nil {
		st := s.Displayed.Clone()
		out.Displayed = &st
	}
	out.Chat = slices.Clone(s.Chat)
	return out
}

// Channel is the bidirectional connection a session runs over.
type Channel interface {
	Connect(ctx context.Context) error
	Send(m session.Outbound) error
	On(kind session.Kind, h session.Handler) session.Subscription
	Disconnect()
}

// Dialer makes a fresh, unconnected channel for each intent.
type Dialer func() Channel

// Recorder receives the result of every finished game.
type Recorder interface {
	RecordGame(ctx context.Context, res stats.GameResult) (stats.Aggregate, error)
}

type Option func(*Lobby)

func WithRecorder(r Recorder) Option { return func(l *Lobby) { l.recorder = r } }

func WithSound(p sound.Player) Option { return func(l *Lobby) { l.sound = p } }

func WithLogger(log *slog.Logger) Option { return func(l *Lobby) { l.log = log } }

// WithView sets the callback receiving every displayed state, replay frames
// included.
func WithView(f func(game.ViewState)) Option { return func(l *Lobby) { l.view = f } }

type Lobby struct {
	dial     Dialer
	replayer *replay.Replayer
	recorder Recorder
	sound    sound.Player
	view     func(game.ViewState)
	log      *slog.Logger

	mu       sync.Mutex
	sess     Session
	conn     Channel
	gen      uint64
	recorded bool
	tally    *stats.Tally
	onChange []func(Session)
}

func New(dial Dialer, rp *replay.Replayer, opts ...Option) *Lobby {
	l := &Lobby{
		dial:     dial,
		replayer: rp,
		log:      slog.Default(),
		sess:     Session{Status: StatusIdle},
		tally:    stats.NewTally(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// OnChange registers f to be called with a snapshot after every mutation.
func (l *Lobby) OnChange(f func(Session)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, f)
}

func (l *Lobby) Snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess.clone()
}

func (l *Lobby) QuickMatch(ctx context.Context, name string) error {
	return l.open(ctx, session.QuickMatch{Name: name})
}

func (l *Lobby) CreatePrivate(ctx context.Context, name string) error {
	return l.open(ctx, session.CreatePrivate{Name: name})
}

func (l *Lobby) JoinPrivate(ctx context.Context, name, code string) error {
	code, err := NormalizeJoinCode(code)
	if err != nil {
		l.update(func(s *Session) { s.Error = err.Error() })
		return err
	}
	return l.open(ctx, session.JoinPrivate{Name: name, Code: code})
}

// NormalizeJoinCode trims and upper-cases a typed code.
func NormalizeJoinCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != JoinCodeLen {
		return "", ErrBadJoinCode
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", ErrBadJoinCode
		}
	}
	return code, nil
}

// open replaces any current channel with a new one that sends hello on every
// connected event.
func (l *Lobby) open(ctx context.Context, hello session.Outbound) error {
	conn := l.dial()

	l.mu.Lock()
	old := l.conn
	l.gen++
	g := l.gen
	l.conn = conn
	l.recorded = false
	l.tally.Reset()
	l.sess = Session{Status: StatusConnecting}
	l.mu.Unlock()

	l.replayer.Cancel()
	if old != nil {
		old.Disconnect()
	}
	l.notify()

	l.subscribe(conn, g, hello)

	l.log.Info("lobby connecting", "intent", string(hello.Kind()))
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("lobby: %s: %w", hello.Kind(), err)
	}
	return nil
}

func (l *Lobby) subscribe(conn Channel, g uint64, hello session.Outbound) {
	on := func(kind session.Kind, h session.Handler) {
		conn.On(kind, func(m session.Inbound) {
			if !l.current(g) {
				return
			}
			h(m)
		})
	}

	on(session.KindConnected, func(session.Inbound) {
		if err := conn.Send(hello); err != nil {
			l.sendFailed(err)
		}
	})
	on(session.KindDisconnected, func(session.Inbound) {
		l.updateIf(g, func(s *Session) {
			if s.Status != StatusIdle {
				s.Error = ErrTextConnectionLost
			}
		})
	})
	on(session.KindWaiting, func(session.Inbound) {
		l.updateIf(g, func(s *Session) { s.Status = StatusWaiting })
	})
	on(session.KindPrivateCreated, func(m session.Inbound) {
		code := m.(session.PrivateCreated).Code
		l.updateIf(g, func(s *Session) { s.JoinCode = code })
	})
	on(session.KindGameStart, func(m session.Inbound) {
		l.gameStart(g, m.(session.GameStart).State)
	})
	on(session.KindGameState, func(m session.Inbound) {
		l.gameState(g, m.(session.GameStateUpdate).State)
	})
	on(session.KindOpponentDisconnected, func(m session.Inbound) {
		msg := m.(session.OpponentDisconnected).Message
		l.updateIf(g, func(s *Session) { s.Error = msg })
	})
	on(session.KindError, func(m session.Inbound) {
		msg := m.(session.ServerError).Message
		l.updateIf(g, func(s *Session) { s.Error = msg })
	})
	on(session.KindChat, func(m session.Inbound) {
		text := m.(session.ChatReceived).Message
		l.updateIf(g, func(s *Session) {
			s.Chat = append(s.Chat, ChatLine{Author: AuthorOpponent, Text: text})
		})
	})
}

func (l *Lobby) current(g uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == g
}

func (l *Lobby) gameStart(g uint64, st game.ViewState) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		return
	}
	l.sess.Status = StatusInGame
	l.sess.Error = ""
	stored := st.Clone()
	l.sess.State = &stored
	shown := st.Clone()
	l.sess.Displayed = &shown
	l.recorded = false
	l.tally.Reset()
	l.tally.Observe(st)
	l.mu.Unlock()

	l.replayer.Cancel()
	l.notify()
	l.show(st)
}

// gameState hands the update to the replayer relative to the stored state and
// records the result once when the game ends.
func (l *Lobby) gameState(g uint64, st game.ViewState) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		return
	}
	var prior game.ViewState
	upd := game.NewBatch(st)
	if l.sess.State != nil {
		prior = l.sess.State.Clone()
	} else {
		upd.Records = nil
	}
	stored := st.Clone()
	l.sess.State = &stored
	l.tally.Observe(st)

	var res *stats.GameResult
	if st.Winner != "" && !l.recorded {
		l.recorded = true
		r := l.tally.Result(st, "", stats.ModeMultiplayer)
		res = &r
	}
	l.mu.Unlock()
	l.notify()

	l.replayer.Replay(prior, upd, func(v game.ViewState) {
		if !l.current(g) {
			return
		}
		l.mu.Lock()
		shown := v.Clone()
		l.sess.Displayed = &shown
		l.mu.Unlock()
		l.notify()
		l.show(v)
	}, l.cue)

	if res != nil && l.recorder != nil {
		if _, err := l.recorder.RecordGame(context.Background(), *res); err != nil {
			l.log.Warn("record game failed", "err", err)
		}
	}
}

func (l *Lobby) show(v game.ViewState) {
	if l.view != nil {
		l.view(v)
	}
}

func (l *Lobby) cue(c sound.Cue) {
	if l.sound != nil {
		l.sound.Play(c)
	}
}

func (l *Lobby) Discard(indices []int) error {
	return l.send(session.Discard{CardIndices: slices.Clone(indices)})
}

func (l *Lobby) PlayCard(idx int) error { return l.send(session.PlayCard{CardIndex: idx}) }

func (l *Lobby) SayGo() error { return l.send(session.SayGo{}) }

func (l *Lobby) Acknowledge() error { return l.send(session.Acknowledge{}) }

// SendChat sends text and echoes it into the transcript as a self line. The
// echo happens even when the send fails; the failure still sets Error.
func (l *Lobby) SendChat(text string) error {
	err := l.send(session.Chat{Message: text})
	l.update(func(s *Session) {
		s.Chat = append(s.Chat, ChatLine{Author: AuthorSelf, Text: text})
	})
	return err
}

func (l *Lobby) send(m session.Outbound) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		l.sendFailed(session.ErrNotConnected)
		return session.ErrNotConnected
	}
	if err := conn.Send(m); err != nil {
		l.sendFailed(err)
		return err
	}
	return nil
}

func (l *Lobby) sendFailed(err error) {
	text := err.Error()
	if errors.Is(err, session.ErrNotConnected) {
		text = ErrTextNotConnected
	}
	l.update(func(s *Session) { s.Error = text })
}

// Disconnect tears the session down and returns to idle.
func (l *Lobby) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.gen++
	l.recorded = false
	l.tally.Reset()
	l.sess = Session{Status: StatusIdle}
	l.mu.Unlock()

	l.replayer.Cancel()
	if conn != nil {
		conn.Disconnect()
	}
	l.notify()
}

func (l *Lobby) update(f func(*Session)) {
	l.mu.Lock()
	f(&l.sess)
	l.mu.Unlock()
	l.notify()
}

func (l *Lobby) updateIf(g uint64, f func(*Session)) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		return
	}
	f(&l.sess)
	l.mu.Unlock()
	l.notify()
}

func (l *Lobby) notify() {
	l.mu.Lock()
	snap := l.sess.clone()
	subs := slices.Clone(l.onChange)
	l.mu.Unlock()

	for _, f := range subs {
		f(snap)
	}
}
