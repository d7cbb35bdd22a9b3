package stats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/kv"
)

func loss(name string) GameResult {
	return GameResult{PlayerName: name, OpponentName: "Bob", GameMode: ModeMultiplayer, HandScores: []int{}, CribScores: []int{}}
}

func win(name, difficulty string) GameResult {
	r := loss(name)
	r.Won = true
	r.AIDifficulty = difficulty
	if difficulty != "" {
		r.GameMode = ModeSingle
	}
	return r
}

func TestMerge_LossAfterWin(t *testing.T) {
	prev := Aggregate{PlayerName: "Ann", Games: 4, Wins: 2, Losses: 2, CurrentStreak: 1, BestWinStreak: 1}

	got := Merge(prev, loss("Ann"))

	assert.Equal(t, 5, got.Games)
	assert.Equal(t, 2, got.Wins)
	assert.Equal(t, 3, got.Losses)
	assert.Equal(t, -1, got.CurrentStreak)
	assert.Equal(t, 1, got.BestWinStreak)
	assert.Equal(t, 40.0, got.WinRate)
	assert.Equal(t, 4, prev.Games, "prev must not change")
}

func TestMerge_Streaks(t *testing.T) {
	cases := []struct {
		name       string
		streak     int
		won        bool
		wantStreak int
	}{
		{name: "win ends losing run", streak: -3, won: true, wantStreak: 1},
		{name: "win extends", streak: 2, won: true, wantStreak: 3},
		{name: "first game win", streak: 0, won: true, wantStreak: 1},
		{name: "loss extends", streak: -2, won: false, wantStreak: -3},
		{name: "first game loss", streak: 0, won: false, wantStreak: -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := loss("Ann")
			res.Won = tc.won
			got := Merge(Aggregate{PlayerName: "Ann", Games: 5, CurrentStreak: tc.streak, BestWinStreak: 2}, res)
			assert.Equal(t, tc.wantStreak, got.CurrentStreak)
			assert.Equal(t, max(2, tc.wantStreak), got.BestWinStreak)
		})
	}
}

func TestMerge_ExactAverages(t *testing.T) {
	r1 := win("Ann", "easy")
	r1.HandScores = []int{4, 7}
	r1.CribScores = []int{2}
	r1.HighestHandScore = 7
	r1.TotalPointsScored = 121

	r2 := loss("Ann")
	r2.HandScores = []int{3}
	r2.HighestHandScore = 3
	r2.TotalPointsScored = 90

	a := Merge(Empty("Ann"), r1)
	assert.Equal(t, 5.5, a.AvgHandScore)
	assert.Equal(t, 2.0, a.AvgCribScore)

	a = Merge(a, r2)
	assert.Equal(t, 14, a.HandScoreSum)
	assert.Equal(t, 3, a.HandSamples)
	assert.Equal(t, 4.7, a.AvgHandScore)
	assert.Equal(t, 2.0, a.AvgCribScore)
	assert.Equal(t, 7, a.BestHand)
	assert.Equal(t, 211, a.TotalPoints)

	require.Len(t, a.PerDifficulty, 2)
	assert.Equal(t, DifficultyStats{Difficulty: "easy", Games: 1, Wins: 1, WinRate: 100}, a.PerDifficulty[0])
	assert.Equal(t, DifficultyStats{Difficulty: MultiplayerKey, Games: 1, Losses: 1}, a.PerDifficulty[1])
}

func TestMerge_LegacyBlobWithoutSamples(t *testing.T) {
	prev := Aggregate{PlayerName: "Ann", Games: 2, Wins: 1, Losses: 1, AvgHandScore: 6, AvgCribScore: 3}

	r := loss("Ann")
	r.HandScores = []int{8, 8}
	r.CribScores = []int{0}

	got := Merge(prev, r)
	assert.Equal(t, 6, got.HandSamples)
	assert.Equal(t, 40, got.HandScoreSum)
	assert.Equal(t, 6.7, got.AvgHandScore)
	assert.Equal(t, 3, got.CribSamples)
	assert.Equal(t, 2.0, got.AvgCribScore)
}

func TestFold_SortsDifficulties(t *testing.T) {
	agg := Fold("Ann", []GameResult{win("Ann", "hard"), loss("Ann"), win("Ann", "easy")})

	assert.Equal(t, 3, agg.Games)
	assert.Equal(t, 1, agg.CurrentStreak)
	assert.Equal(t, 66.7, agg.WinRate)

	var keys []string
	for _, d := range agg.PerDifficulty {
		keys = append(keys, d.Difficulty)
	}
	assert.Equal(t, []string{"easy", "hard", MultiplayerKey}, keys)
}

func TestGameResult_Validate(t *testing.T) {
	ok := win("Ann", "medium")
	require.NoError(t, ok.Validate())

	noName := ok
	noName.PlayerName = " "
	badMode := ok
	badMode.GameMode = "ranked"
	badDiff := ok
	badDiff.AIDifficulty = "brutal"

	for _, r := range []GameResult{noName, badMode, badDiff} {
		assert.ErrorIs(t, r.Validate(), ErrInvalidResult)
	}
}

func TestTally_Result(t *testing.T) {
	tl := NewTally()

	st := func(round int, phase game.Phase, dealer bool, total int) game.ViewState {
		return game.ViewState{
			RoundNumber:    round,
			Phase:          phase,
			Player:         game.PlayerView{Name: "Ann", IsDealer: dealer},
			ScoreBreakdown: &game.ScoreBreakdown{Total: total},
		}
	}

	// round 1: Ann is not the dealer
	tl.Observe(st(1, game.PhaseCountNonDealer, false, 8))
	tl.Observe(st(1, game.PhaseCountNonDealer, false, 8)) // same state twice
	tl.Observe(st(1, game.PhaseCountDealer, false, 12))
	tl.Observe(st(1, game.PhaseCountCrib, false, 4))
	// round 2: Ann deals
	tl.Observe(st(2, game.PhaseCountNonDealer, true, 2))
	tl.Observe(st(2, game.PhaseCountDealer, true, 6))
	tl.Observe(st(2, game.PhaseCountCrib, true, 5))
	tl.Observe(game.ViewState{RoundNumber: 3, Phase: game.PhasePlay})

	final := game.ViewState{
		Phase:    game.PhaseGameOver,
		Player:   game.PlayerView{Name: "Ann", Score: 121},
		Opponent: game.OpponentView{Name: "Bob", Score: 100},
		Winner:   "Ann",
	}
	res := tl.Result(final, "", ModeMultiplayer)

	assert.Equal(t, []int{8, 6}, res.HandScores)
	assert.Equal(t, []int{5}, res.CribScores)
	assert.Equal(t, 8, res.HighestHandScore)
	assert.True(t, res.Won)
	assert.Equal(t, 121, res.TotalPointsScored)
	assert.Equal(t, 100, res.OpponentScore)

	tl.Reset()
	res = tl.Result(final, "", ModeMultiplayer)
	assert.Empty(t, res.HandScores)
	assert.NotNil(t, res.HandScores)
}

type fakeRemote struct {
	mu       sync.Mutex
	agg      Aggregate
	getErr   error
	recErr   error
	gate     chan struct{}
	recorded []GameResult
}

func (f *fakeRemote) GetStats(ctx context.Context, name string) (Aggregate, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.getErr != nil {
		return Aggregate{}, f.getErr
	}
	return f.agg, nil
}

func (f *fakeRemote) RecordGame(ctx context.Context, res GameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, res)
	return f.recErr
}

func seed(t *testing.T, store kv.Store, agg Aggregate) {
	t.Helper()
	b, err := json.Marshal(agg)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), LocalKey, b))
}

func stored(t *testing.T, store kv.Store) Aggregate {
	t.Helper()
	b, ok, err := store.Get(context.Background(), LocalKey)
	require.NoError(t, err)
	require.True(t, ok)
	var agg Aggregate
	require.NoError(t, json.Unmarshal(b, &agg))
	return agg
}

func TestReconciler_LoadPrefersRemote(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	seed(t, store, Aggregate{PlayerName: "Ann", Games: 1, Wins: 1})

	remote := &fakeRemote{agg: Aggregate{PlayerName: "Ann", Games: 7, Wins: 3}}
	r := NewReconciler(store, remote, nil)

	var seen []int
	var mu sync.Mutex
	r.OnChange(func(a Aggregate) {
		mu.Lock()
		seen = append(seen, a.Games)
		mu.Unlock()
	})

	got := r.LoadStats(ctx, "Ann")
	assert.Equal(t, 1, got.Games)

	r.Wait()
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, 7, cur.Games)
	assert.Equal(t, 7, stored(t, store).Games)
	assert.False(t, r.Loading())

	mu.Lock()
	assert.Equal(t, []int{1, 7}, seen)
	mu.Unlock()
}

func TestReconciler_RemoteDownKeepsLocal(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	seed(t, store, Aggregate{PlayerName: "Ann", Games: 3, Wins: 2})

	r := NewReconciler(store, &fakeRemote{getErr: errors.New("connection refused")}, nil)

	got := r.LoadStats(ctx, "Ann")
	r.Wait()

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, got, cur)
	assert.Equal(t, 3, cur.Games)
	assert.False(t, r.Loading())
}

func TestReconciler_ForeignBlobIsIgnored(t *testing.T) {
	store := kv.NewMemoryStore()
	seed(t, store, Aggregate{PlayerName: "Bob", Games: 9})

	r := NewReconciler(store, nil, nil)
	got := r.LoadStats(context.Background(), "Ann")
	assert.Equal(t, Empty("Ann"), got)
}

func TestReconciler_RecordGame(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	seed(t, store, Aggregate{PlayerName: "Ann", Games: 4, Wins: 2, Losses: 2, CurrentStreak: 1})

	remote := &fakeRemote{recErr: errors.New("503")}
	r := NewReconciler(store, remote, nil)

	res := loss("Ann")
	got, err := r.RecordGame(ctx, res)
	require.NoError(t, err)
	r.Wait()

	assert.Equal(t, 5, got.Games)
	assert.Equal(t, -1, got.CurrentStreak)
	assert.Equal(t, got, stored(t, store))

	remote.mu.Lock()
	assert.Equal(t, []GameResult{res}, remote.recorded)
	remote.mu.Unlock()
}

func TestReconciler_RecordSupersedesInflightLoad(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	remote := &fakeRemote{agg: Aggregate{PlayerName: "Ann", Games: 50}, gate: make(chan struct{})}
	r := NewReconciler(store, remote, nil)

	r.LoadStats(ctx, "Ann")
	_, err := r.RecordGame(ctx, win("Ann", "hard"))
	require.NoError(t, err)

	close(remote.gate)
	r.Wait()

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, 1, cur.Games)
	assert.Equal(t, 1, stored(t, store).Games)
}

// gatedStore blocks the first Set after arm until release is closed.
type gatedStore struct {
	*kv.MemoryStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.entered = make(chan struct{})
	s.release = make(chan struct{})
}

func (s *gatedStore) Set(ctx context.Context, key string, val []byte) error {
	s.mu.Lock()
	block := s.armed
	s.armed = false
	s.mu.Unlock()
	if block {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Set(ctx, key, val)
}

func TestReconciler_RecordDuringRemoteWriteIsKept(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{MemoryStore: kv.NewMemoryStore()}
	seed(t, store, Aggregate{PlayerName: "Ann", Games: 1, Wins: 1, CurrentStreak: 1})

	remote := &fakeRemote{agg: Aggregate{PlayerName: "Ann", Games: 7, Wins: 3, Losses: 4}}
	r := NewReconciler(store, remote, nil)

	store.arm()
	r.LoadStats(ctx, "Ann")
	<-store.entered // remote result is being persisted

	done := make(chan Aggregate)
	go func() {
		agg, err := r.RecordGame(ctx, win("Ann", "easy"))
		assert.NoError(t, err)
		done <- agg
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	recorded := <-done
	r.Wait()

	assert.Equal(t, 8, recorded.Games)
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, 8, cur.Games)
	assert.Equal(t, 4, cur.Wins)
	assert.Equal(t, 8, stored(t, store).Games)
}
