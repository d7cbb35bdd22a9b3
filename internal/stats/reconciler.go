package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"example.com/cribbage-sync/internal/kv"
)

// LocalKey is the local storage key of the single cached aggregate.
const LocalKey = "cribbage_stats"

// Remote is the authoritative stats service.
type Remote interface {
	GetStats(ctx context.Context, playerName string) (Aggregate, error)
	RecordGame(ctx context.Context, res GameResult) error
}

// Reconciler shows local statistics immediately and reconciles them with the
// remote service in the background. Remote failures never surface; the local
// copy stays in use.
type Reconciler struct {
	local   kv.Store
	remote  Remote
	log     *slog.Logger
	timeout time.Duration

	// commit serialises version changes with the local write and publish
	// that belong to them.
	commit sync.Mutex

	mu       sync.Mutex
	current  *Aggregate
	loading  bool
	version  uint64
	onChange []func(Aggregate)

	wg sync.WaitGroup
}

func NewReconciler(local kv.Store, remote Remote, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{local: local, remote: remote, log: log, timeout: 10 * time.Second}
}

// OnChange registers f to receive every new current aggregate.
func (r *Reconciler) OnChange(f func(Aggregate)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, f)
}

// Current returns the aggregate on display, if any.
func (r *Reconciler) Current() (Aggregate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Aggregate{}, false
	}
	return r.current.Clone(), true
}

func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Wait blocks until background remote calls have finished.
func (r *Reconciler) Wait() { r.wg.Wait() }

// LoadStats returns the locally stored aggregate for name (or an empty one)
// and starts a remote fetch that replaces it on success.
func (r *Reconciler) LoadStats(ctx context.Context, name string) Aggregate {
	r.commit.Lock()
	agg := r.readLocal(ctx, name)
	r.mu.Lock()
	r.version++
	v := r.version
	r.loading = r.remote != nil
	r.mu.Unlock()
	r.publish(agg)
	r.commit.Unlock()

	if r.remote == nil {
		return agg
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		remote, err := r.remote.GetStats(ctx, name)

		r.commit.Lock()
		defer r.commit.Unlock()

		r.mu.Lock()
		stale := r.version != v
		if !stale {
			r.loading = false
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Debug("remote stats unavailable", "player", name, "err", err)
			return
		}
		if stale {
			// a newer load or a recorded game owns the display now
			return
		}
		if remote.PlayerName == "" {
			remote.PlayerName = name
		}
		remote = remote.Clone()
		if err := r.writeLocal(ctx, remote); err != nil {
			r.log.Warn("stats cache write failed", "err", err)
		}
		r.publish(remote)
	}()
	return agg
}

// RecordGame merges res into the local aggregate, persists it and reports it
// to the remote service without waiting. The returned error only concerns the
// local write; the in-memory aggregate is updated regardless.
func (r *Reconciler) RecordGame(ctx context.Context, res GameResult) (Aggregate, error) {
	r.commit.Lock()
	updated := Merge(r.readLocal(ctx, res.PlayerName), res)

	r.mu.Lock()
	r.version++
	r.loading = false
	r.mu.Unlock()

	werr := r.writeLocal(ctx, updated)
	if werr != nil {
		r.log.Warn("stats cache write failed", "err", werr)
	}
	r.publish(updated)
	r.commit.Unlock()

	if r.remote != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
			defer cancel()
			if err := r.remote.RecordGame(ctx, res); err != nil {
				r.log.Debug("remote record failed", "player", res.PlayerName, "err", err)
			}
		}()
	}
	return updated, werr
}

func (r *Reconciler) publish(agg Aggregate) {
	r.mu.Lock()
	cp := agg.Clone()
	r.current = &cp
	subs := slices.Clone(r.onChange)
	r.mu.Unlock()

	for _, f := range subs {
		f(agg.Clone())
	}
}

// readLocal returns the stored aggregate when it belongs to name. Missing,
// unreadable or foreign blobs yield an empty aggregate.
func (r *Reconciler) readLocal(ctx context.Context, name string) Aggregate {
	b, ok, err := r.local.Get(ctx, LocalKey)
	if err != nil {
		r.log.Warn("stats cache read failed", "err", err)
		return Empty(name)
	}
	if !ok {
		return Empty(name)
	}
	var agg Aggregate
	if err := json.Unmarshal(b, &agg); err != nil {
		r.log.Debug("stats cache corrupt", "err", err)
		return Empty(name)
	}
	if agg.PlayerName != name {
		return Empty(name)
	}
	return agg.Clone()
}

func (r *Reconciler) writeLocal(ctx context.Context, agg Aggregate) error {
	b, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return r.local.Set(ctx, LocalKey, b)
}
