// Package api is the request/response client for the game and stats HTTP
// surfaces.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/cribbage-sync/internal/game"
	"example.com/cribbage-sync/internal/stats"
)

const (
	gamePrefix  = "/api/v1/game"
	statsPrefix = "/api/v1/stats"
)

// Error is a non-2xx answer. Detail is the server's "detail" field, or the
// status text when the body carries none.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string { return e.Detail }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: base url %q must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}, nil
}

type newGameRequest struct {
	PlayerName   string          `json:"player_name"`
	AIDifficulty game.Difficulty `json:"ai_difficulty"`
}

type discardRequest struct {
	CardIndices []int `json:"card_indices"`
}

type playCardRequest struct {
	CardIndex int `json:"card_index"`
}

func (c *Client) NewGame(ctx context.Context, playerName string, d game.Difficulty) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodPost, gamePrefix+"/new", newGameRequest{PlayerName: playerName, AIDifficulty: d}, &st)
	return st, err
}

func (c *Client) GetGame(ctx context.Context, gameID string) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodGet, gamePath(gameID, ""), nil, &st)
	return st, err
}

func (c *Client) Discard(ctx context.Context, gameID string, indices []int) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "discard"), discardRequest{CardIndices: indices}, &st)
	return st, err
}

func (c *Client) PlayCard(ctx context.Context, gameID string, idx int) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "play"), playCardRequest{CardIndex: idx}, &st)
	return st, err
}

func (c *Client) SayGo(ctx context.Context, gameID string) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "go"), nil, &st)
	return st, err
}

func (c *Client) Acknowledge(ctx context.Context, gameID string) (game.ViewState, error) {
	var st game.ViewState
	err := c.do(ctx, http.MethodPost, gamePath(gameID, "acknowledge"), nil, &st)
	return st, err
}

func (c *Client) RecordGame(ctx context.Context, res stats.GameResult) error {
	return c.do(ctx, http.MethodPost, statsPrefix+"/record", res, nil)
}

func (c *Client) GetStats(ctx context.Context, playerName string) (stats.Aggregate, error) {
	var agg stats.Aggregate
	err := c.do(ctx, http.MethodGet, statsPrefix+"/"+url.PathEscape(playerName), nil, &agg)
	return agg, err
}

func gamePath(id, action string) string {
	p := gamePrefix + "/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Detail: detail(resp, raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func detail(resp *http.Response, raw []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &e) == nil {
		switch d := e.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			// validation errors arrive as a list
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
	}
	if t := http.StatusText(resp.StatusCode); t != "" {
		return t
	}
	return "Request failed"
}
