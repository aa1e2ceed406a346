// Package racetime opens race rooms on a racetime.gg-compatible server.
package racetime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alex65536/racecal/internal/race"
	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL  string `toml:"base-url"`
	Category string `toml:"category"`
	ClientID string `toml:"client-id"`
	// Goal is the race goal preset rooms are created with.
	Goal              string  `toml:"goal"`
	RequestsPerMinute float64 `toml:"requests-per-minute"`
}

func (o *Options) FillDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://racetime.gg"
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = 10
	}
}

type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	secret  string
	o       Options

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(secret string, o Options) *Client {
	o.FillDefaults()
	return &Client{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(o.RequestsPerMinute/60), 1),
		secret:  secret,
		o:       o,
	}
}

// accessToken returns a cached OAuth token, refreshing it via the
// client-credentials grant when it is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		return c.token, nil
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.o.ClientID)
	form.Set("client_secret", c.secret)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.o.BaseURL+"/o/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: status %v", resp.Status)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	c.token = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.token, nil
}

// CreateRoom starts a race room and returns its URL.
func (c *Client) CreateRoom(ctx context.Context, name string, r *race.Race, part race.PartKind) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("goal", c.o.Goal)
	form.Set("invitational", "true")
	form.Set("unlisted", fmt.Sprint(part != race.PartNormal))
	form.Set("team_race", fmt.Sprint(len(r.Entrants.Teams()) != 0))
	info := name
	if r.Round != "" {
		info = fmt.Sprintf("%v (%v)", name, r.Round)
	}
	form.Set("info_user", info)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%v/o/%v/startrace", c.o.BaseURL, c.o.Category),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("start race: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("start race: status %v", resp.Status)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("start race: no room location")
	}
	return c.o.BaseURL + loc, nil
}
