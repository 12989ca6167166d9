package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iliyamo/experience-booking/internal/config"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/obs"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-worker",
		Short: "Consume notifications and deliver them by email and SMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read()
			if err != nil {
				return err
			}
			log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)

			w := &notify.Worker{URL: cfg.RabbitURL, Log: log}
			if cfg.MailerSendAPIKey != "" {
				w.Email = notify.NewMailerSend(cfg.MailerSendAPIKey, cfg.MailFromName, cfg.MailFromEmail)
			} else {
				log.Warn("MAILERSEND_API_KEY not set; email notifications will fail")
			}
			if cfg.SMSURL != "" {
				w.SMS = notify.NewHTTPSMS(cfg.SMSURL, cfg.SMSToken, cfg.SMSFrom)
			} else {
				log.Warn("SMS_GATEWAY_URL not set; sms notifications will fail")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info("notify-worker started")
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
