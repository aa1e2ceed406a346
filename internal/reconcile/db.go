package reconcile

import (
	"context"
	"errors"

	"github.com/alex65536/racecal/internal/race"
	"github.com/alex65536/racecal/internal/util/timeutil"
)

var (
	ErrTeamNotFound = errors.New("team not found")
	ErrUserNotFound = errors.New("user not found")
)

// Store is what one reconciliation pass needs from the database. The
// database package implements it both on the root handle and inside a
// transaction.
type Store interface {
	ListAutoImportEvents(ctx context.Context, now timeutil.UTCTime) ([]race.Event, error)
	AllRacesForEvent(ctx context.Context, series, event string) ([]*race.Race, error)
	SaveRace(ctx context.Context, r *race.Race) error
	RaceExistsAt(ctx context.Context, series, event, round string, start timeutil.UTCTime) (bool, error)

	TeamByStartGG(ctx context.Context, series, event, startggID string) (*race.Team, error)
	TeamForEventAndMember(ctx context.Context, series, event, userID string) (*race.Team, error)
	SetTeamStartGGID(ctx context.Context, teamID, startggID string) error
	UserIDByStartGG(ctx context.Context, startggID string) (string, error)

	PendingDisambiguations(ctx context.Context) (map[int64]struct{}, error)
	CreateDisambiguation(ctx context.Context, externalID int64, messageID string) error
	DeleteDisambiguation(ctx context.Context, externalID int64) error

	WeeklySchedulesForEvent(ctx context.Context, series, event string) ([]race.WeeklySchedule, error)
}

// DB adds the transaction boundary: each source's work within one pass
// lands atomically or not at all.
type DB interface {
	Store
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
