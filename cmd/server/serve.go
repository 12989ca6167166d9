package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/experience-booking/internal/config"
	"github.com/iliyamo/experience-booking/internal/database"
	"github.com/iliyamo/experience-booking/internal/handler"
	"github.com/iliyamo/experience-booking/internal/middleware"
	"github.com/iliyamo/experience-booking/internal/obs"
	"github.com/iliyamo/experience-booking/internal/repository"
	"github.com/iliyamo/experience-booking/internal/router"
	"github.com/iliyamo/experience-booking/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var (
		migrateUp bool
		sweep     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the timeout sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.log

			shutdownTracer, err := obs.InitTracer(ctx, "experience-booking", Version, a.cfg.Env, a.cfg.OTelEndpoint)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracer(context.Background()) }()

			if migrateUp {
				applied, err := database.Migrate(ctx, a.db)
				if err != nil {
					return err
				}
				log.WithField("applied", applied).Info("migrations applied")
			}

			rc, err := config.LoadRedisConfig()
			if err != nil {
				return err
			}
			rdb := config.NewRedisClient(rc)
			if rdb == nil {
				log.Warn("redis unavailable; rate limiting and the distributed sweep lock are disabled")
			} else {
				defer rdb.Close()
			}
			rl, err := config.LoadRateLimitConfig()
			if err != nil {
				return err
			}

			if sweep {
				s := &scheduler.Scheduler{
					Name:     "timeout-sweep",
					Interval: a.cfg.SweepInterval,
					Task: func(ctx context.Context) error {
						_, err := a.svc.RunTimeoutSweep(ctx)
						return err
					},
					Log: log,
				}
				if rdb != nil {
					s.Lock = scheduler.NewRedisLock(rdb, "booking")
				}
				if err := s.Start(ctx); err != nil {
					return err
				}
				defer s.Stop()
			}

			tokens := repository.NewTokenRepo(a.db)
			purge := &scheduler.Scheduler{
				Name:     "refresh-token-purge",
				Interval: 6 * time.Hour,
				Task: func(ctx context.Context) error {
					n, err := tokens.PurgeExpired(ctx, time.Now().Add(-24*time.Hour))
					if n > 0 {
						log.WithField("deleted", n).Info("expired refresh tokens purged")
					}
					return err
				},
				Log: log,
			}
			if rdb != nil {
				purge.Lock = scheduler.NewRedisLock(rdb, "booking")
			}
			if err := purge.Start(ctx); err != nil {
				return err
			}
			defer purge.Stop()

			h := handler.New(a.svc, a.secrets, log)
			auth := handler.NewAuthHandler(handler.AuthConfig{
				JWTSecret:  a.cfg.JWTSecret,
				AccessTTL:  time.Duration(a.cfg.AccessTTLMin) * time.Minute,
				RefreshTTL: time.Duration(a.cfg.RefreshTTLDays) * 24 * time.Hour,
			}, a.store, tokens, log)

			e := router.New(router.Deps{
				Handler:      h,
				Auth:         auth,
				Health:       handler.Health(a.db),
				JWTSecret:    a.cfg.JWTSecret,
				VoucherLimit: middleware.NewTokenBucket(rl, rdb, log),
				Log:          log,
			})

			errc := make(chan error, 1)
			go func() {
				addr := ":" + a.cfg.Port
				log.WithField("addr", addr).WithField("env", a.cfg.Env).Info("listening")
				errc <- e.Start(addr)
			}()
			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			log.Info("shutting down")
			return e.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().BoolVar(&sweep, "sweep", true, "run the timeout sweep scheduler in this process")
	return cmd
}
