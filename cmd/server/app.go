package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/config"
	"github.com/iliyamo/experience-booking/internal/database"
	"github.com/iliyamo/experience-booking/internal/gateway"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
	"github.com/iliyamo/experience-booking/internal/repository"
	"github.com/iliyamo/experience-booking/internal/secrets"
	"github.com/iliyamo/experience-booking/internal/service"
)

// app holds what every command that touches bookings needs.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	db        *sql.DB
	store     *repository.Store
	secrets   *secrets.Store
	publisher *notify.Publisher
	svc       *service.Service
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newApp loads configuration and builds the booking service.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sec, err := secrets.Open(ctx, cfg.SecretsFile, cfg.SecretsMasterKey, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db, store: repository.NewStore(db), secrets: sec}
	a.publisher = notify.NewPublisher(cfg.RabbitURL, log)
	a.svc = service.New(service.Deps{
		Store: a.store,
		Gateway: gateway.NewStripe(gateway.Config{
			SecretKey: cfg.StripeSecretKey,
			Timeout:   cfg.GatewayTimeout,
			Failures:  cfg.GatewayFailures,
			OpenFor:   cfg.GatewayOpenFor,
		}, log),
		Verifier:          gateway.WebhookVerifier{},
		Notifier:          a.publisher,
		Secrets:           sec,
		Log:               log,
		Location:          loc,
		SideEffectTimeout: cfg.SideEffectTimeout,
		VoucherValidity:   cfg.VoucherValidity,
		SweepBatch:        cfg.SweepBatch,
		Admin:             notify.Recipient{Name: cfg.AdminName, Email: cfg.AdminEmail, Phone: cfg.AdminPhone},
	})
	return a, nil
}

func (a *app) Close() {
	_ = a.publisher.Close()
	_ = a.db.Close()
}
