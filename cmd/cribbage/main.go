package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"example.com/cribbage-sync/internal/app"
	"example.com/cribbage-sync/internal/config"
	"example.com/cribbage-sync/internal/game"
)

const usage = `usage: cribbage [-name NAME] [-difficulty easy|medium|hard] COMMAND

commands:
  solo [GAME_ID]   play against the AI (resume GAME_ID if given)
  quick            multiplayer quick match
  host             create a private match and print its join code
  join CODE        join a private match
  stats            print lifetime statistics
`

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error("cribbage failed", "err", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg config.Config, log *slog.Logger, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("cribbage", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "player display name (saved for next time)")
	difficulty := fs.String("difficulty", string(cfg.Player.Difficulty), "AI difficulty for solo games")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	d, err := game.ParseDifficulty(*difficulty)
	if err != nil {
		return err
	}
	cfg.Player.Difficulty = d

	term := newTerminal(out)
	client, err := app.NewClient(ctx, cfg, log, app.ClientOptions{View: term.show})
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("client close", "err", err)
		}
	}()

	if *name != "" {
		if err := client.SetPlayerName(ctx, *name); err != nil {
			return err
		}
	}
	player := client.PlayerName(ctx)
	if player == "" {
		return errors.New("player name required: pass -name or set CRIBBAGE_PLAYER")
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "stats" {
		return printStats(ctx, client, player, term)
	}

	var f flow
	switch cmd {
	case "solo":
		client.Solo.OnChange(term.soloStatus)
		if len(rest) > 0 {
			err = client.Solo.Resume(ctx, rest[0])
		} else {
			err = client.Solo.NewGame(ctx, player)
		}
		f = soloFlow{c: client.Solo, player: player}
	case "quick", "host", "join":
		client.Lobby.OnChange(term.lobbyStatus)
		switch cmd {
		case "quick":
			err = client.Lobby.QuickMatch(ctx, player)
		case "host":
			err = client.Lobby.CreatePrivate(ctx, player)
		default:
			if len(rest) != 1 {
				return errUsage
			}
			err = client.Lobby.JoinPrivate(ctx, player, rest[0])
		}
		f = lobbyFlow{l: client.Lobby}
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := readLines(ctx, in)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return commandLoop(gctx, client, f, lines, term)
	})
	g.Go(func() error {
		<-gctx.Done()
		client.Lobby.Disconnect()
		return nil
	})
	return g.Wait()
}
