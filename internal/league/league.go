// Package league fetches the weekly match schedule published by the league
// site as one JSON document.
package league

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/timeutil"
	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL string `toml:"base-url"`
	// MinID filters out matches from archived seasons, which the site keeps
	// serving with low ids.
	MinID             int32   `toml:"min-id"`
	RequestsPerMinute float64 `toml:"requests-per-minute"`
}

func (o *Options) FillDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://league.speedgaming.org"
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = 20
	}
}

type Player struct {
	Name       string `json:"name"`
	RacetimeID string `json:"rtggId"`
	TwitchName string `json:"twitchName"`
}

type Restream struct {
	Channel  string `json:"channel"`
	Language string `json:"language"`
}

// Match is one row of the league schedule. Id is stable across polls and is
// the only identity the site exposes.
type Match struct {
	ID        int32  `json:"id"`
	Division  string `json:"division"`
	Week      string `json:"week"`
	Player1   Player `json:"player1"`
	Player2   Player `json:"player2"`
	Cancelled bool   `json:"cancelled"`
	Confirmed bool   `json:"confirmed"`
	Starting  *Time  `json:"datetime"`
	// Restreams lists the channels covering the match; a single restreamer
	// doubles as the video URL.
	Restreams []Restream `json:"restreams"`
}

func (m *Match) StartTime() maybe.Maybe[timeutil.UTCTime] {
	if m.Starting == nil || !m.Confirmed {
		return maybe.None[timeutil.UTCTime]()
	}
	return maybe.Some(timeutil.UTCTime(time.Time(*m.Starting).UTC()))
}

// Time decodes the site's RFC 3339 timestamps.
type Time time.Time

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("parse league time %q: %w", s, err)
	}
	*t = Time(parsed)
	return nil
}

type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	o       Options
}

func NewClient(o Options) *Client {
	o.FillDefaults()
	return &Client{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(o.RequestsPerMinute/60), 1),
		o:       o,
	}
}

// Schedule fetches the full current schedule. Matches below the configured
// id floor are dropped.
func (c *Client) Schedule(ctx context.Context) ([]Match, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.o.BaseURL+"/schedule.json", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schedule: status %v", resp.Status)
	}
	var doc struct {
		Matches []Match `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	matches := doc.Matches[:0]
	for _, m := range doc.Matches {
		if m.ID >= c.o.MinID {
			matches = append(matches, m)
		}
	}
	return matches, nil
}
