package gormutil

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/alex65536/racecal/internal/race"
	"gorm.io/gorm/schema"
)

type entrantJSON struct {
	Kind       int    `json:"kind"`
	TeamID     string `json:"team_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Name       string `json:"name,omitempty"`
	RacetimeID string `json:"racetime_id,omitempty"`
	TwitchName string `json:"twitch_name,omitempty"`
}

type entrantsJSON struct {
	Kind     int           `json:"kind"`
	Total    uint32        `json:"total,omitempty"`
	Finished uint32        `json:"finished,omitempty"`
	Named    string        `json:"named,omitempty"`
	List     []entrantJSON `json:"list,omitempty"`
}

// EntrantsSerializer stores race.Entrants as a JSON column. Team entrants
// are stored by team id only; the database layer hydrates team rows on
// load.
type EntrantsSerializer struct{}

func (EntrantsSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue any) error {
	if field.FieldType != reflect.TypeFor[race.Entrants]() {
		return fmt.Errorf("bad field value type: %v", field.FieldType)
	}
	if dbValue == nil {
		field.ReflectValueOf(ctx, dst).Set(reflect.New(field.FieldType).Elem())
		return nil
	}
	var data []byte
	switch v := dbValue.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("bad db value type: %T", dbValue)
	}
	var enc entrantsJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return fmt.Errorf("unmarshal entrants: %w", err)
	}
	entrants := race.Entrants{
		Kind:     race.EntrantsKind(enc.Kind),
		Total:    enc.Total,
		Finished: enc.Finished,
		Named:    enc.Named,
	}
	for _, e := range enc.List {
		entrant := race.Entrant{
			Kind:       race.EntrantKind(e.Kind),
			UserID:     e.UserID,
			Name:       e.Name,
			RacetimeID: e.RacetimeID,
			TwitchName: e.TwitchName,
		}
		if e.TeamID != "" {
			entrant.Team = &race.Team{ID: e.TeamID}
		}
		entrants.List = append(entrants.List, entrant)
	}
	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(entrants))
	return nil
}

func (EntrantsSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue any) (any, error) {
	entrants, ok := fieldValue.(race.Entrants)
	if !ok {
		return nil, fmt.Errorf("bad value type %T", fieldValue)
	}
	enc := entrantsJSON{
		Kind:     int(entrants.Kind),
		Total:    entrants.Total,
		Finished: entrants.Finished,
		Named:    entrants.Named,
	}
	for _, e := range entrants.List {
		item := entrantJSON{
			Kind:       int(e.Kind),
			UserID:     e.UserID,
			Name:       e.Name,
			RacetimeID: e.RacetimeID,
			TwitchName: e.TwitchName,
		}
		if e.Team != nil {
			item.TeamID = e.Team.ID
		}
		enc.List = append(enc.List, item)
	}
	data, err := json.Marshal(&enc)
	if err != nil {
		return nil, fmt.Errorf("marshal entrants: %w", err)
	}
	return string(data), nil
}

func init() {
	schema.RegisterSerializer("entrants", EntrantsSerializer{})
}
