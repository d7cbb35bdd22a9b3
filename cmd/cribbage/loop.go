package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"example.com/cribbage-sync/internal/app"
	"example.com/cribbage-sync/internal/lobby"
	"example.com/cribbage-sync/internal/solo"
)

const help = `d I J   discard cards I and J to the crib
p I     play card I
g       say go
a       acknowledge the count
c TEXT  chat (multiplayer)
n       new game (solo)
s       toggle sound
q       quit`

var errQuit = errors.New("quit")

// flow is the set of in-game intents shared by solo and multiplayer play.
type flow interface {
	discard(ctx context.Context, idx []int) error
	play(ctx context.Context, idx int) error
	sayGo(ctx context.Context) error
	acknowledge(ctx context.Context) error
	chat(text string) error
	newGame(ctx context.Context) error
}

type soloFlow struct {
	c      *solo.Controller
	player string
}

func (f soloFlow) discard(ctx context.Context, idx []int) error {
	f.c.ClearSelection()
	for _, i := range idx {
		f.c.Toggle(i)
	}
	return f.c.Discard(ctx)
}

func (f soloFlow) play(ctx context.Context, idx int) error { return f.c.PlayCard(ctx, idx) }

func (f soloFlow) sayGo(ctx context.Context) error { return f.c.SayGo(ctx) }

func (f soloFlow) acknowledge(ctx context.Context) error { return f.c.Acknowledge(ctx) }

func (f soloFlow) chat(string) error { return errors.New("chat is multiplayer only") }

func (f soloFlow) newGame(ctx context.Context) error { return f.c.NewGame(ctx, f.player) }

type lobbyFlow struct {
	l *lobby.Lobby
}

func (f lobbyFlow) discard(_ context.Context, idx []int) error { return f.l.Discard(idx) }

func (f lobbyFlow) play(_ context.Context, idx int) error { return f.l.PlayCard(idx) }

func (f lobbyFlow) sayGo(context.Context) error { return f.l.SayGo() }

func (f lobbyFlow) acknowledge(context.Context) error { return f.l.Acknowledge() }

func (f lobbyFlow) chat(text string) error { return f.l.SendChat(text) }

func (f lobbyFlow) newGame(context.Context) error {
	return errors.New("start a new match from the command line")
}

// readLines forwards stdin lines until EOF. The reader goroutine is left
// blocked on exit; stdin cannot be interrupted.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func commandLoop(ctx context.Context, client *app.Client, f flow, lines <-chan string, term *terminal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := execute(ctx, client, f, line, term)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				term.printf("! %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, client *app.Client, f flow, line string, term *terminal) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return nil
	case "q", "quit":
		return errQuit
	case "h", "help", "?":
		term.printf("%s\n", help)
		return nil
	case "d":
		idx, err := cardIndices(arg)
		if err != nil {
			return err
		}
		if len(idx) != solo.DiscardCount {
			return fmt.Errorf("discard takes %d cards", solo.DiscardCount)
		}
		return f.discard(ctx, idx)
	case "p":
		idx, err := cardIndices(arg)
		if err != nil {
			return err
		}
		if len(idx) != 1 {
			return errors.New("play takes one card")
		}
		return f.play(ctx, idx[0])
	case "g":
		return f.sayGo(ctx)
	case "a":
		return f.acknowledge(ctx)
	case "c":
		return f.chat(strings.TrimSpace(arg))
	case "n":
		return f.newGame(ctx)
	case "s":
		if client.Sound.Flip(ctx) {
			term.printf("sound on\n")
		} else {
			term.printf("sound off\n")
		}
		return nil
	}
	return fmt.Errorf("unknown command %q (h for help)", cmd)
}

// cardIndices parses the 1-based card numbers shown next to the hand.
func cardIndices(arg string) ([]int, error) {
	var out []int
	for _, f := range strings.Fields(arg) {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad card number %q", f)
		}
		out = append(out, n-1)
	}
	return out, nil
}
