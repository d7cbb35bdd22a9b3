package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cribbage-sync/internal/stats"
)

type memResults struct {
	mu   sync.Mutex
	rows []stats.GameResult
	err  error
}

func (m *memResults) Insert(ctx context.Context, res stats.GameResult) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return uuid.Nil, m.err
	}
	m.rows = append(m.rows, res)
	return uuid.New(), nil
}

func (m *memResults) ListByPlayer(ctx context.Context, name string) ([]stats.GameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []stats.GameResult
	for _, r := range m.rows {
		if r.PlayerName == name {
			out = append(out, r)
		}
	}
	return out, nil
}

type memCache struct {
	mu          sync.Mutex
	m           map[string]stats.Aggregate
	gets        int
	invalidated []string
}

func (c *memCache) Get(ctx context.Context, name string) (stats.Aggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	agg, ok := c.m[name]
	return agg, ok, nil
}

func (c *memCache) Put(ctx context.Context, agg stats.Aggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]stats.Aggregate)
	}
	c.m[agg.PlayerName] = agg
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, name)
	c.invalidated = append(c.invalidated, name)
	return nil
}

func newStatsServer(t *testing.T, h *StatsHandler) *httptest.Server {
	t.Helper()
	if h.Log == nil {
		h.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	ts := httptest.NewServer(RequestLogger(h.Log)(mux))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStats_RecordThenGet(t *testing.T) {
	results := &memResults{}
	ts := newStatsServer(t, &StatsHandler{Results: results})

	games := []stats.GameResult{
		{PlayerName: "alice", OpponentName: "AI", PlayerScore: 121, OpponentScore: 98, Won: true,
			AIDifficulty: "medium", GameMode: stats.ModeSingle, HandScores: []int{8, 12}, CribScores: []int{4},
			HighestHandScore: 12, TotalPointsScored: 121},
		{PlayerName: "alice", OpponentName: "bob", PlayerScore: 100, OpponentScore: 121, Won: false,
			GameMode: stats.ModeMultiplayer, HandScores: []int{6}, CribScores: []int{},
			HighestHandScore: 6, TotalPointsScored: 100},
		{PlayerName: "alice", OpponentName: "AI", PlayerScore: 121, OpponentScore: 60, Won: true,
			AIDifficulty: "easy", GameMode: stats.ModeSingle, HandScores: []int{10}, CribScores: []int{2},
			HighestHandScore: 10, TotalPointsScored: 121},
	}
	for _, g := range games {
		resp := postJSON(t, ts.URL+"/api/v1/stats/record", g)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", decodeBody[StatusResponse](t, resp).Status)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	}

	resp, err := http.Get(ts.URL + "/api/v1/stats/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	agg := decodeBody[stats.Aggregate](t, resp)
	assert.Equal(t, "alice", agg.PlayerName)
	assert.Equal(t, 3, agg.Games)
	assert.Equal(t, 2, agg.Wins)
	assert.Equal(t, 1, agg.Losses)
	assert.Equal(t, 66.7, agg.WinRate)
	assert.Equal(t, 12, agg.BestHand)
	assert.Equal(t, 1, agg.CurrentStreak)
	assert.Equal(t, 1, agg.BestWinStreak)
	assert.Equal(t, 342, agg.TotalPoints)

	keys := make([]string, 0, len(agg.PerDifficulty))
	for _, d := range agg.PerDifficulty {
		keys = append(keys, d.Difficulty)
	}
	assert.Equal(t, []string{"easy", "medium", "multiplayer"}, keys)
}

func TestStats_GetUnknownPlayerIsEmpty(t *testing.T) {
	ts := newStatsServer(t, &StatsHandler{Results: &memResults{}})

	resp, err := http.Get(ts.URL + "/api/v1/stats/nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "nobody", raw["player_name"])
	assert.EqualValues(t, 0, raw["games"])
	assert.Equal(t, []any{}, raw["per_difficulty"])
}

func TestStats_RecordRejects(t *testing.T) {
	ts := newStatsServer(t, &StatsHandler{Results: &memResults{}})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"missing name", `{"game_mode":"single","won":true}`, http.StatusUnprocessableEntity},
		{"bad mode", `{"player_name":"a","game_mode":"ranked"}`, http.StatusUnprocessableEntity},
		{"bad difficulty", `{"player_name":"a","game_mode":"single","ai_difficulty":"insane"}`, http.StatusUnprocessableEntity},
		{"negative score", `{"player_name":"a","game_mode":"single","player_score":-1}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/stats/record", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, resp).Detail)
		})
	}
}

func TestStats_MethodNotAllowed(t *testing.T) {
	ts := newStatsServer(t, &StatsHandler{Results: &memResults{}})

	resp, err := http.Get(ts.URL + "/api/v1/stats/record")
	require.NoError(t, err)
	resp.Body.Close()
	// GET on "record" is a lookup for a player of that name.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/stats/alice", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStats_StoreFailure(t *testing.T) {
	results := &memResults{err: errors.New("db down")}
	ts := newStatsServer(t, &StatsHandler{Results: results})

	resp := postJSON(t, ts.URL+"/api/v1/stats/record", stats.GameResult{PlayerName: "a", GameMode: stats.ModeSingle})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to record game", decodeBody[ErrorResponse](t, resp).Detail)

	get, err := http.Get(ts.URL + "/api/v1/stats/a")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, get.StatusCode)
}

func TestStats_CacheFillAndInvalidate(t *testing.T) {
	results := &memResults{}
	cache := &memCache{}
	ts := newStatsServer(t, &StatsHandler{Results: results, Cache: cache})

	win := stats.GameResult{PlayerName: "carol", GameMode: stats.ModeSingle, AIDifficulty: "hard", Won: true,
		PlayerScore: 121, TotalPointsScored: 121}
	resp := postJSON(t, ts.URL+"/api/v1/stats/record", win)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"carol"}, cache.invalidated)

	get := func() stats.Aggregate {
		resp, err := http.Get(ts.URL + "/api/v1/stats/carol")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decodeBody[stats.Aggregate](t, resp)
	}

	assert.Equal(t, 1, get().Games)
	cache.mu.Lock()
	_, filled := cache.m["carol"]
	cache.mu.Unlock()
	assert.True(t, filled)

	// A row written behind the handler's back is hidden by the cached aggregate.
	results.mu.Lock()
	results.rows = append(results.rows, win)
	results.mu.Unlock()
	assert.Equal(t, 1, get().Games)

	resp = postJSON(t, ts.URL+"/api/v1/stats/record", win)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, get().Games)
	assert.Equal(t, 3, get().CurrentStreak)
}

func TestRequestLogger_RecoversPanic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"detail":"Internal Server Error"}`, rec.Body.String())
}
