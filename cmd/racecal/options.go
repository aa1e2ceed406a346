package main

import (
	"fmt"

	"github.com/alex65536/racecal/internal/database"
	"github.com/alex65536/racecal/internal/league"
	"github.com/alex65536/racecal/internal/racetime"
	"github.com/alex65536/racecal/internal/reconcile"
	"github.com/alex65536/racecal/internal/roomopen"
	"github.com/alex65536/racecal/internal/speedgaming"
	"github.com/alex65536/racecal/internal/startgg"
)

type Options struct {
	Addr        string                          `toml:"addr"`
	DB          database.Options                `toml:"db"`
	League      league.Options                  `toml:"league"`
	StartGG     startgg.Options                 `toml:"startgg"`
	SpeedGaming speedgaming.Options             `toml:"speedgaming"`
	Racetime    racetime.Options                `toml:"racetime"`
	Engine      reconcile.Options               `toml:"engine"`
	Restream    reconcile.RestreamSyncerOptions `toml:"restream"`
	RoomOpen    roomopen.Options                `toml:"room-open"`
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:8080"
	}
	if o.DB.Path == "" {
		o.DB.Path = "racecal.db"
	}
}

type Secrets struct {
	DiscordToken  string `toml:"discord-token"`
	StartGGToken  string `toml:"startgg-token"`
	RacetimeToken string `toml:"racetime-token"`
}

func (s *Secrets) Validate() error {
	if s.DiscordToken == "" {
		return fmt.Errorf("discord token not set")
	}
	if s.StartGGToken == "" {
		return fmt.Errorf("start.gg token not set")
	}
	if s.RacetimeToken == "" {
		return fmt.Errorf("racetime token not set")
	}
	return nil
}
