package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cribbage-sync/internal/config"
	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/httpapi"
	"example.com/cribbage-sync/internal/kv"
	"example.com/cribbage-sync/internal/sound"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(server string) config.Config {
	var c config.Config
	c.Log.Format, c.Log.Level = "text", "info"
	c.Server.BaseURL = server
	c.Server.StatsURL = server
	c.Server.WSPath = "/ws"
	c.Server.RequestTimeout = time.Second
	c.Player.Difficulty = game.Medium
	c.Local.Backend = "memory"
	c.Session.MaxReconnects = 0
	c.HTTP.Addr = ":0"
	c.HTTP.ShutdownTimeout = time.Second
	return c
}

func TestNewClient_PlayerName(t *testing.T) {
	ctx := context.Background()
	local := kv.NewMemoryStore()

	c, err := NewClient(ctx, testConfig("http://localhost:8000"), quietLog(), ClientOptions{Local: local})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "", c.PlayerName(ctx))
	require.Error(t, c.SetPlayerName(ctx, "   "))
	require.NoError(t, c.SetPlayerName(ctx, " Ada "))
	assert.Equal(t, "Ada", c.PlayerName(ctx))

	raw, ok, err := local.Get(ctx, playerNameKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", string(raw))

	cfg := testConfig("http://localhost:8000")
	cfg.Player.Name = "Grace"
	c2, err := NewClient(ctx, cfg, quietLog(), ClientOptions{Local: local})
	require.NoError(t, err)
	defer c2.Close()
	assert.Equal(t, "Grace", c2.PlayerName(ctx))
}

func TestNewClient_SoundFlagHydrated(t *testing.T) {
	ctx := context.Background()
	local := kv.NewMemoryStore()
	require.NoError(t, local.Set(ctx, "sound_enabled", []byte("false")))

	var mu sync.Mutex
	var played []sound.Cue
	player := sound.PlayerFunc(func(c sound.Cue) {
		mu.Lock()
		defer mu.Unlock()
		played = append(played, c)
	})

	c, err := NewClient(ctx, testConfig("https://cribbage.example"), quietLog(), ClientOptions{Local: local, Sound: player})
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.Sound.Enabled())
	c.Solo.Toggle(0)
	assert.True(t, c.Sound.Flip(ctx))
	c.Solo.Toggle(1)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, played, 1)
}

func TestNewClient_BadServerURL(t *testing.T) {
	_, err := NewClient(context.Background(), testConfig("ftp://nope"), quietLog(), ClientOptions{Local: kv.NewMemoryStore()})
	require.Error(t, err)
}

func TestNewClient_LoadStatsFromServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stats/Ada" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"player_name":"Ada","games":4,"wins":3,"losses":1,"win_rate":75,"per_difficulty":[]}`)
	}))
	defer ts.Close()

	ctx := context.Background()
	c, err := NewClient(ctx, testConfig(ts.URL), quietLog(), ClientOptions{Local: kv.NewMemoryStore()})
	require.NoError(t, err)
	defer c.Close()

	first := c.Stats.LoadStats(ctx, "Ada")
	assert.Equal(t, 0, first.Games)

	c.Stats.Wait()
	agg, ok := c.Stats.Current()
	require.True(t, ok)
	assert.Equal(t, 4, agg.Games)
	assert.Equal(t, 75.0, agg.WinRate)
}

func TestStatsServer_Healthz(t *testing.T) {
	srv := newHTTPServer(testConfig("http://localhost:8000"), quietLog(), &httpapi.StatsHandler{})
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
