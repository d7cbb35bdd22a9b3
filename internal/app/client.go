package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"example.com/cribbage-sync/internal/api"
	"example.com/cribbage-sync/internal/config"
	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/kv"
	"example.com/cribbage-sync/internal/lobby"
	"example.com/cribbage-sync/internal/replay"
	"example.com/cribbage-sync/internal/session"
	"example.com/cribbage-sync/internal/solo"
	"example.com/cribbage-sync/internal/sound"
	"example.com/cribbage-sync/internal/stats"
)

const playerNameKey = "player_name"

// ClientOptions are the presentation hooks of the client engine.
type ClientOptions struct {
	Sound sound.Player         // nil: cues are logged
	View  func(game.ViewState) // every displayed state
	Local kv.Store             // overrides the configured local store
}

// Client wires the sync engine: local storage, the HTTP and socket
// transports, both game flows and the stats reconciler.
type Client struct {
	cfg config.Config
	log *slog.Logger

	local kv.Store

	Sound *sound.Toggle
	Stats *stats.Reconciler
	Solo  *solo.Controller
	Lobby *lobby.Lobby
}

func NewClient(ctx context.Context, cfg config.Config, log *slog.Logger, opts ClientOptions) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	local := opts.Local
	if local == nil {
		var err error
		local, err = kv.Open(ctx, kv.Options{
			Backend:    cfg.Local.Backend,
			SQLitePath: cfg.Local.Path,
			RedisAddr:  cfg.Redis.Addr,
			RedisDB:    cfg.Redis.DB,
			Namespace:  cfg.Local.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
	}

	gameAPI, err := api.New(cfg.Server.BaseURL, cfg.Server.RequestTimeout)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	statsAPI, err := api.New(cfg.Server.StatsURL, cfg.Server.RequestTimeout)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	wsURL, err := session.WebSocketURL(cfg.Server.BaseURL, cfg.Server.WSPath)
	if err != nil {
		_ = local.Close()
		return nil, err
	}

	var out sound.Player = sound.LogPlayer{Log: log}
	if opts.Sound != nil {
		out = opts.Sound
	}
	toggle := sound.NewToggle(ctx, local, out, log)
	reconciler := stats.NewReconciler(local, statsAPI, log)

	rcfg := replay.Config{
		MinDelay:     cfg.Replay.MinDelay,
		MaxDelay:     cfg.Replay.MaxDelay,
		HistoryLimit: cfg.Replay.HistoryLimit,
	}
	view := opts.View
	if view == nil {
		view = func(game.ViewState) {}
	}

	soloCtl := solo.New(gameAPI, replay.New(rcfg, replay.WithLogger(log)), cfg.Player.Difficulty,
		solo.WithRecorder(reconciler),
		solo.WithSound(toggle),
		solo.WithLogger(log),
		solo.WithView(view),
	)

	scfg := session.Config{
		URL:           wsURL,
		MaxReconnects: cfg.Session.MaxReconnects,
		BaseDelay:     cfg.Session.BaseDelay,
		MaxDelay:      cfg.Session.MaxDelay,
		PingInterval:  cfg.Session.PingInterval,
	}
	dial := func() lobby.Channel { return session.New(scfg, log) }
	lob := lobby.New(dial, replay.New(rcfg, replay.WithLogger(log)),
		lobby.WithRecorder(reconciler),
		lobby.WithSound(toggle),
		lobby.WithLogger(log),
		lobby.WithView(view),
	)

	log.Debug("client ready", "server", cfg.Server.BaseURL, "ws", wsURL, "local", cfg.Local.Backend)
	return &Client{
		cfg:   cfg,
		log:   log,
		local: local,
		Sound: toggle,
		Stats: reconciler,
		Solo:  soloCtl,
		Lobby: lob,
	}, nil
}

// PlayerName is the configured name, else the last one saved locally.
func (c *Client) PlayerName(ctx context.Context) string {
	if name := strings.TrimSpace(c.cfg.Player.Name); name != "" {
		return name
	}
	v, ok, err := c.local.Get(ctx, playerNameKey)
	if err != nil {
		c.log.Warn("player name load failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(v))
}

func (c *Client) SetPlayerName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("player name is empty")
	}
	if err := c.local.Set(ctx, playerNameKey, []byte(name)); err != nil {
		return fmt.Errorf("save player name: %w", err)
	}
	return nil
}

// Close leaves any multiplayer session, waits for background stats calls
// and closes local storage.
func (c *Client) Close() error {
	c.Lobby.Disconnect()
	c.Stats.Wait()
	return c.local.Close()
}
