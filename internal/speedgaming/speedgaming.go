// Package speedgaming fetches upcoming restream episodes from the
// SpeedGaming scheduling API.
package speedgaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alex65536/racecal/internal/util/timeutil"
	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL           string  `toml:"base-url"`
	RequestsPerMinute float64 `toml:"requests-per-minute"`
}

func (o *Options) FillDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://speedgaming.org"
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = 20
	}
}

type Player struct {
	DisplayName string `json:"displayName"`
	Streaming   string `json:"streamingFrom"`
}

type Channel struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Episode is one scheduled restream slot. Id is stable and is the identity
// the reconciliation engine persists into a race's source.
type Episode struct {
	ID       int64     `json:"id"`
	When     time.Time `json:"when"`
	Approved bool      `json:"approved"`
	Match    struct {
		Players []Player `json:"players"`
	} `json:"match1"`
	Channels []Channel `json:"channels"`
}

func (e *Episode) Start() timeutil.UTCTime {
	return timeutil.UTCTime(e.When.UTC())
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

// Upcoming returns the event's episodes scheduled within [from, to).
func (c *Client) Upcoming(ctx context.Context, eventSlug string, from, to time.Time) ([]Episode, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("event", eventSlug)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.o.BaseURL+"/api/schedule?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch episodes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch episodes: status %v", resp.Status)
	}
	var episodes []Episode
	if err := json.NewDecoder(resp.Body).Decode(&episodes); err != nil {
		return nil, fmt.Errorf("decode episodes: %w", err)
	}
	res := episodes[:0]
	for _, e := range episodes {
		if e.Approved {
			res = append(res, e)
		}
	}
	return res, nil
}
