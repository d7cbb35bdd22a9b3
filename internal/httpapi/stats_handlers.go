package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"example.com/cribbage-sync/internal/stats"
	"example.com/cribbage-sync/internal/store"
)

type ResultRepo interface {
	Insert(ctx context.Context, res stats.GameResult) (uuid.UUID, error)
	ListByPlayer(ctx context.Context, playerName string) ([]stats.GameResult, error)
}

// StatsHandler serves /api/v1/stats. Aggregates are folded from the stored
// results on demand; Cache is optional.
type StatsHandler struct {
	Results ResultRepo
	Cache   store.AggregateCache
	Log     *slog.Logger
}

type StatusResponse struct {
	Status string `json:"status"`
}

func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/stats/record", h.Record)
	mux.HandleFunc("GET /api/v1/stats/{player_name}", h.Get)
}

func (h *StatsHandler) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *StatsHandler) Record(w http.ResponseWriter, r *http.Request) {
	var res stats.GameResult
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res.PlayerName = strings.TrimSpace(res.PlayerName)
	if res.GameMode == "" {
		res.GameMode = stats.ModeSingle
	}
	if err := res.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id, err := h.Results.Insert(r.Context(), res)
	if err != nil {
		h.log().Error("record game", "player", res.PlayerName, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to record game")
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(r.Context(), res.PlayerName); err != nil {
			h.log().Warn("stats cache invalidate", "player", res.PlayerName, "err", err)
		}
	}

	h.log().Info("game recorded", "id", id, "player", res.PlayerName, "won", res.Won)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("player_name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "player_name is required")
		return
	}

	if h.Cache != nil {
		agg, ok, err := h.Cache.Get(r.Context(), name)
		switch {
		case err != nil:
			h.log().Warn("stats cache get", "player", name, "err", err)
		case ok:
			writeJSON(w, http.StatusOK, agg)
			return
		}
	}

	results, err := h.Results.ListByPlayer(r.Context(), name)
	if err != nil {
		h.log().Error("list results", "player", name, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	agg := stats.Fold(name, results)

	if h.Cache != nil {
		if err := h.Cache.Put(r.Context(), agg); err != nil && !errors.Is(err, context.Canceled) {
			h.log().Warn("stats cache put", "player", name, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, agg)
}
