package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ResDream/TJU-vfmc-ticket/internal/auth"
	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/creds"
	"github.com/ResDream/TJU-vfmc-ticket/internal/crypto"
	"github.com/ResDream/TJU-vfmc-ticket/internal/db"
	"github.com/ResDream/TJU-vfmc-ticket/internal/jobs"
	"github.com/ResDream/TJU-vfmc-ticket/internal/migrate"
	"github.com/ResDream/TJU-vfmc-ticket/internal/scheduler"
	"github.com/ResDream/TJU-vfmc-ticket/internal/vfmc"
	"github.com/ResDream/TJU-vfmc-ticket/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web dashboard + booking scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			hashKey, blockKey, credKey, err := cfg.ServerKeys()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			aead, err := crypto.New(credKey)
			if err != nil {
				return err
			}

			authStore := auth.NewStore(d, hashKey, blockKey)
			jobRepo := jobs.NewRepo(d)
			credStore := creds.NewStore(d, aead)

			providers := func(ctx context.Context, userID int64) (booking.Provider, error) {
				c, err := credStore.Get(ctx, userID)
				if err != nil {
					return nil, err
				}
				return vfmc.New(c,
					vfmc.WithBaseURL(cfg.VfmcBaseURL),
					vfmc.WithRateLimit(cfg.RateLimitRPS, int(cfg.RateLimitRPS)+1),
				), nil
			}

			sched := scheduler.New(jobRepo, providers, cfg.PollInterval(), log.Named("scheduler"))
			go func() {
				if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("scheduler stopped", zap.Error(err))
				}
			}()

			ws := &web.Server{
				Auth:  authStore,
				Jobs:  jobRepo,
				Creds: credStore,
				Log:   log.Named("web"),
				Loc:   loc,
			}
			return web.Start(ctx, cfg.ListenAddr, ws.Routes(), log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
