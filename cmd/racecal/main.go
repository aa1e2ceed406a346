package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/alex65536/racecal/internal/calfeed"
	"github.com/alex65536/racecal/internal/database"
	"github.com/alex65536/racecal/internal/league"
	"github.com/alex65536/racecal/internal/notify"
	"github.com/alex65536/racecal/internal/racetime"
	"github.com/alex65536/racecal/internal/reconcile"
	"github.com/alex65536/racecal/internal/roomopen"
	"github.com/alex65536/racecal/internal/speedgaming"
	"github.com/alex65536/racecal/internal/startgg"
	"github.com/alex65536/racecal/internal/util/slogx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:   "racecal",
	Args:  cobra.ExactArgs(0),
	Short: "Race timeline and calendar server",
	Long: `Racecal tracks scheduled competitive races, reconciles them against
external schedule sources, opens race rooms and serves calendar feeds.
`,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Args:  cobra.ExactArgs(0),
	Short: "Run one reconciliation pass and exit",
}

func loadConfig(optsPath, secretsPath string) (*Options, *Secrets, error) {
	rawOpts, err := os.ReadFile(optsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read options: %w", err)
	}
	var opts Options
	if err := toml.Unmarshal(rawOpts, &opts); err != nil {
		return nil, nil, fmt.Errorf("unmarshal options: %w", err)
	}
	opts.FillDefaults()

	rawSecrets, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read secrets: %w", err)
	}
	var secrets Secrets
	if err := toml.Unmarshal(rawSecrets, &secrets); err != nil {
		return nil, nil, fmt.Errorf("unmarshal secrets: %w", err)
	}
	if err := secrets.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate secrets: %w", err)
	}
	return &opts, &secrets, nil
}

func buildEngine(log *slog.Logger, db *database.DB, opts *Options, secrets *Secrets, lock *sync.Mutex) (*reconcile.Engine, *notify.Discord, error) {
	notifier, err := notify.NewDiscord(secrets.DiscordToken)
	if err != nil {
		return nil, nil, fmt.Errorf("create notifier: %w", err)
	}
	freeze := opts.Engine.Freeze
	if freeze == (reconcile.FreezeSet{}) {
		freeze = reconcile.DefaultFreezeSet()
	}
	syncers := []reconcile.Syncer{
		reconcile.NewLeagueSyncer(log, league.NewClient(opts.League), freeze),
		reconcile.NewBracketSyncer(log, startgg.NewClient(secrets.StartGGToken, opts.StartGG), freeze),
		reconcile.NewRestreamSyncer(log, speedgaming.NewClient(opts.SpeedGaming), notifier, freeze, opts.Restream),
	}
	engine, err := reconcile.New(log, db, lock, syncers, opts.Engine)
	if err != nil {
		notifier.Close()
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	return engine, notifier, nil
}

func main() {
	p := rootCmd.PersistentFlags()
	optsPath := p.StringP(
		"options", "o", "",
		"options file",
	)
	secretsPath := p.StringP(
		"secrets", "s", "",
		"secrets file",
	)
	if err := rootCmd.MarkPersistentFlagRequired("options"); err != nil {
		panic(err)
	}
	if err := rootCmd.MarkPersistentFlagRequired("secrets"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		opts, secrets, err := loadConfig(*optsPath, *secretsPath)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		log := slog.Default()

		db, err := database.New(log, opts.DB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		var lock sync.Mutex
		engine, notifier, err := buildEngine(log, db, opts, secrets, &lock)
		if err != nil {
			return err
		}
		defer notifier.Close()
		return engine.RunOnce(ctx)
	}

	rootCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		opts, secrets, err := loadConfig(*optsPath, *secretsPath)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		log := slog.Default()

		db, err := database.New(log, opts.DB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		var lock sync.Mutex
		engine, notifier, err := buildEngine(log, db, opts, secrets, &lock)
		if err != nil {
			return err
		}
		defer notifier.Close()
		rooms := racetime.NewClient(secrets.RacetimeToken, opts.Racetime)
		opener := roomopen.New(log, db, rooms, &lock, opts.RoomOpen)

		mux := http.NewServeMux()
		calfeed.NewHandler(log, db).Register(mux)

		servCtx, servCancel := context.WithCancel(ctx)
		defer servCancel()
		server := &http.Server{
			Addr:        opts.Addr,
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return servCtx },
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			engine.Run(gctx)
			return nil
		})
		g.Go(func() error {
			opener.Run(gctx)
			return nil
		})
		g.Go(func() error {
			log.Info("starting http server", slog.String("addr", opts.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("stopping server")
			if err := server.Shutdown(context.Background()); err != nil {
				log.Warn("could not shut down server", slogx.Err(err))
			}
			return nil
		})
		return g.Wait()
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
