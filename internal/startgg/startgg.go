// Package startgg is a minimal start.gg GraphQL client covering what the
// reconciliation engine needs: the sets of an event and the membership of a
// team.
package startgg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alex65536/go-chess/util/maybe"
	"github.com/alex65536/racecal/internal/util/timeutil"
	"golang.org/x/time/rate"
)

const endpoint = "https://api.start.gg/gql/alpha"

type Options struct {
	Endpoint string `toml:"endpoint"`
	// RequestsPerMinute stays well under the documented 80/min limit.
	RequestsPerMinute float64 `toml:"requests-per-minute"`
}

func (o *Options) FillDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = endpoint
	}
	if o.RequestsPerMinute == 0 {
		o.RequestsPerMinute = 40
	}
}

// UnknownTeamError marks a set entrant whose external team id has no local
// counterpart yet. The caller is expected to resolve the membership, persist
// the mapping and retry.
type UnknownTeamError struct {
	TeamID string
}

func (e *UnknownTeamError) Error() string {
	return fmt.Sprintf("no local team for start.gg team %v", e.TeamID)
}

// Set is one bracket set of an event.
type Set struct {
	ID        string
	Phase     string
	Round     string
	BestOf    int
	StartAt   maybe.Maybe[timeutil.UTCTime]
	TeamIDs   []string
	Completed bool
}

type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	token   string
	o       Options
}

func NewClient(token string, o Options) *Client {
	o.FillDefaults()
	return &Client{
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(o.RequestsPerMinute/60), 1),
		token:   token,
		o:       o,
	}
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": vars,
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.o.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graphql request: status %v", resp.Status)
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) != 0 {
		return fmt.Errorf("graphql error: %v", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

const setsQuery = `
query EventSets($slug: String!, $page: Int!) {
	event(slug: $slug) {
		sets(page: $page, perPage: 50, sortType: NONE) {
			pageInfo { totalPages }
			nodes {
				id
				fullRoundText
				setGamesType
				totalGames
				startAt
				state
				phaseGroup { phase { name } }
				slots { entrant { team { id } } }
			}
		}
	}
}`

// Sets fetches every set of the event, walking all pages.
func (c *Client) Sets(ctx context.Context, slug string) ([]Set, error) {
	var sets []Set
	for page := 1; ; page++ {
		var data struct {
			Event *struct {
				Sets struct {
					PageInfo struct {
						TotalPages int `json:"totalPages"`
					} `json:"pageInfo"`
					Nodes []struct {
						ID            json.Number `json:"id"`
						FullRoundText string      `json:"fullRoundText"`
						TotalGames    int         `json:"totalGames"`
						StartAt       *int64      `json:"startAt"`
						State         int         `json:"state"`
						PhaseGroup    *struct {
							Phase *struct {
								Name string `json:"name"`
							} `json:"phase"`
						} `json:"phaseGroup"`
						Slots []struct {
							Entrant *struct {
								Team *struct {
									ID json.Number `json:"id"`
								} `json:"team"`
							} `json:"entrant"`
						} `json:"slots"`
					} `json:"nodes"`
				} `json:"sets"`
			} `json:"event"`
		}
		err := c.query(ctx, setsQuery, map[string]any{"slug": slug, "page": page}, &data)
		if err != nil {
			return nil, err
		}
		if data.Event == nil {
			return nil, fmt.Errorf("no such event: %v", slug)
		}
		for _, node := range data.Event.Sets.Nodes {
			set := Set{
				ID:        node.ID.String(),
				Round:     node.FullRoundText,
				BestOf:    node.TotalGames,
				Completed: node.State == 3,
			}
			if node.PhaseGroup != nil && node.PhaseGroup.Phase != nil {
				set.Phase = node.PhaseGroup.Phase.Name
			}
			if node.StartAt != nil {
				set.StartAt = maybe.Some(timeutil.UTCTime(time.Unix(*node.StartAt, 0).UTC()))
			}
			for _, slot := range node.Slots {
				if slot.Entrant != nil && slot.Entrant.Team != nil {
					set.TeamIDs = append(set.TeamIDs, slot.Entrant.Team.ID.String())
				}
			}
			sets = append(sets, set)
		}
		if page >= data.Event.Sets.PageInfo.TotalPages {
			return sets, nil
		}
	}
}

const teamMembersQuery = `
query TeamMembers($id: ID!) {
	team(id: $id) {
		members {
			player { user { id } }
		}
	}
}`

// TeamMembers returns the external user ids of a team's roster.
func (c *Client) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	var data struct {
		Team *struct {
			Members []struct {
				Player *struct {
					User *struct {
						ID json.Number `json:"id"`
					} `json:"user"`
				} `json:"player"`
			} `json:"members"`
		} `json:"team"`
	}
	err := c.query(ctx, teamMembersQuery, map[string]any{"id": teamID}, &data)
	if err != nil {
		return nil, err
	}
	if data.Team == nil {
		return nil, fmt.Errorf("no such team: %v", teamID)
	}
	var ids []string
	for _, m := range data.Team.Members {
		if m.Player != nil && m.Player.User != nil {
			ids = append(ids, m.Player.User.ID.String())
		}
	}
	return ids, nil
}
