// Package platform is the HTTP client for the assistant's data backend:
// roster transactions, injury designations, news, waiver results, and
// game schedules. It implements the monitor source interfaces; how the
// backend assembles that data is its own business.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/monitor"
)

// Config holds the backend endpoint settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the platform API. Every call is bounded by the
// configured timeout so a hung backend cannot starve a monitor's cadence.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a platform client. Returns nil when no base URL is
// configured; callers treat a nil client as "monitors disabled".
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// RecentMoves implements monitor.RosterSource.
func (c *Client) RecentMoves(ctx context.Context) ([]monitor.RosterMove, error) {
	var moves []monitor.RosterMove
	if err := c.getJSON(ctx, "/v1/roster/moves", nil, &moves); err != nil {
		return nil, err
	}
	return moves, nil
}

// CurrentReports implements monitor.InjurySource.
func (c *Client) CurrentReports(ctx context.Context) ([]monitor.InjuryReport, error) {
	var reports []monitor.InjuryReport
	if err := c.getJSON(ctx, "/v1/injuries", nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// RecentItems implements monitor.NewsSource.
func (c *Client) RecentItems(ctx context.Context) ([]monitor.NewsItem, error) {
	var items []monitor.NewsItem
	if err := c.getJSON(ctx, "/v1/news", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RecentResults implements monitor.WaiverSource.
func (c *Client) RecentResults(ctx context.Context) ([]monitor.WaiverResult, error) {
	var results []monitor.WaiverResult
	if err := c.getJSON(ctx, "/v1/waivers/results", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// GamesWithin implements monitor.GameSchedule.
func (c *Client) GamesWithin(ctx context.Context, from, until time.Time) ([]monitor.UpcomingGame, error) {
	params := url.Values{}
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("until", until.UTC().Format(time.RFC3339))

	var games []monitor.UpcomingGame
	if err := c.getJSON(ctx, "/v1/schedule/games", params, &games); err != nil {
		return nil, err
	}
	return games, nil
}

// UsersWithStartersIn implements monitor.GameSchedule.
func (c *Client) UsersWithStartersIn(ctx context.Context, gameID string) ([]uuid.UUID, error) {
	params := url.Values{}
	params.Set("game_id", gameID)

	var users []uuid.UUID
	if err := c.getJSON(ctx, "/v1/schedule/starters", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// WeeklyRecaps implements monitor.SummarySource.
func (c *Client) WeeklyRecaps(ctx context.Context) ([]monitor.WeeklyRecap, error) {
	var recaps []monitor.WeeklyRecap
	if err := c.getJSON(ctx, "/v1/summaries/weekly", nil, &recaps); err != nil {
		return nil, err
	}
	return recaps, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("platform request %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
