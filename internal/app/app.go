package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/cribbage-sync/internal/config"
	"example.com/cribbage-sync/internal/httpapi"
	"example.com/cribbage-sync/internal/migrate"
	"example.com/cribbage-sync/internal/store"
)

// StatsServer is the remote statistics aggregator: results in Postgres,
// folded aggregates cached in Redis.
type StatsServer struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	srv *http.Server
}

func NewStatsServer(ctx context.Context, cfg config.Config, log *slog.Logger) (*StatsServer, error) {
	if log == nil {
		log = slog.Default()
	}

	if cfg.Postgres.RunMigrations {
		if _, err := migrate.Up(ctx, cfg.Postgres.URL, cfg.Postgres.MigrationsDir, log); err != nil {
			return nil, err
		}
	}

	// --- Postgres ---
	dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	// Quick connectivity checks (fail fast).
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		dbpool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
	}

	statsH := &httpapi.StatsHandler{
		Results: store.NewResultStore(dbpool),
		Cache:   store.NewRedisAggregateCache(rdb, cfg.Redis.StatsTTL),
		Log:     log,
	}

	return &StatsServer{
		cfg: cfg,
		log: log,
		db:  dbpool,
		rdb: rdb,
		srv: newHTTPServer(cfg, log, statsH),
	}, nil
}

func newHTTPServer(cfg config.Config, log *slog.Logger, statsH *httpapi.StatsHandler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	statsH.RegisterRoutes(mux)

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.RequestLogger(log)(mux),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
}

func (a *StatsServer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("stats server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("stats server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close()
	return err
}

func (a *StatsServer) Close() error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
